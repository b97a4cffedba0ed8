// Package reminder holds the reminder data model shared by the store, the
// recurrence calculator, the dispatcher and the action handler.
package reminder

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusSent, StatusCancelled:
		return true
	}
	return false
}

// Span is a rich-formatting annotation over Content.Text.
type Span struct {
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	Style  string `json:"style"`
	URL    string `json:"url,omitempty"`
}

type Content struct {
	Text  string `json:"text"`
	Spans []Span `json:"spans,omitempty"`
}

// Lock is the per-reminder lease. An expired lock is the same as no lock.
type Lock struct {
	OwnerID    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// HeldAt reports whether the lock is still in force at now.
func (l *Lock) HeldAt(now time.Time) bool {
	return l != nil && l.OwnerID != "" && l.ExpiresAt.After(now)
}

type Reminder struct {
	ID        string
	OwnerChat int64
	ThreadID  int
	Content   Content
	Timezone  string
	Schedule  Schedule
	Status    Status
	NextRunAt *time.Time
	LastRunAt *time.Time
	Lock      *Lock
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recurring reports whether the reminder re-arms after a dispatch.
func (r Reminder) Recurring() bool { return r.Schedule.Kind != KindOnce }

// Due reports whether the reminder is eligible for dispatch at now.
func (r Reminder) Due(now time.Time) bool {
	return r.Status == StatusScheduled && r.NextRunAt != nil && !r.NextRunAt.After(now)
}

func (r Reminder) String() string {
	return fmt.Sprintf("reminder(%s chat=%d kind=%s status=%s)", r.ID, r.OwnerChat, r.Schedule.Kind, r.Status)
}
