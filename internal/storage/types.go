package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "mongo": MongoDB at URI, database Database
//   - "memory": process-local maps (single instance / development only)
type Config struct {
	Driver      string
	Path        string
	URI         string
	Database    string
	BusyTimeout time.Duration // sqlite only; 0 means default
	OpTimeout   time.Duration // mongo per-operation timeout; 0 means 5s
}

// Store is the persistence API used by the scheduler, the action handler and the CLI.
type Store interface {
	CreateReminder(ctx context.Context, r *reminder.Reminder) error
	GetReminder(ctx context.Context, id string) (reminder.Reminder, error)
	// ListReminders returns reminders of one chat (or all when ownerChat is 0), newest first.
	ListReminders(ctx context.Context, ownerChat int64, limit int) ([]reminder.Reminder, error)
	// DueReminders returns scheduled reminders with next_run_at <= now, oldest first, at most limit.
	DueReminders(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error)
	UpdateReminderState(ctx context.Context, id string, u StateUpdate) (bool, error)
	CancelReminder(ctx context.Context, id string, ownerChat int64) (bool, error)

	// LockReminder grants the per-reminder lease when it is free, expired or already held by owner.
	LockReminder(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error)
	// UnlockReminder clears the per-reminder lease only if owner still holds it.
	UnlockReminder(ctx context.Context, id, owner string) error

	// AcquireLease is the named-lease variant of LockReminder; the record is created on first use.
	AcquireLease(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLease sets expires_at to now when owner still holds key. Records are never deleted here.
	ReleaseLease(ctx context.Context, key, owner string, now time.Time) error
	GetLease(ctx context.Context, key string) (Lease, error)
	// PruneLeases deletes lease records that expired before the given instant.
	PruneLeases(ctx context.Context, expiredBefore time.Time) (int64, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// StateUpdate is an owner-guarded status/next-run mutation.
//
// Predicates: OwnerChat (when non-zero) must match the reminder's chat and
// LockOwner (when non-empty) must match the current lease holder.
// LastRunAt nil keeps the stored value; NextRunAt nil clears it.
type StateUpdate struct {
	Status    reminder.Status
	NextRunAt *time.Time
	LastRunAt *time.Time
	At        time.Time

	OwnerChat int64
	LockOwner string
}

type Lease struct {
	Key        string
	OwnerID    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// AuditEntry records a user action on a reminder.
type AuditEntry struct {
	At         time.Time
	ActorID    int64
	ChatID     int64
	Action     string
	ReminderID string
	OK         bool
	Error      string
	Meta       string
}

type Stats struct {
	ByStatus map[reminder.Status]int64
	Due      int64
	Leases   int64
}
