package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/reminder"
)

// memoryStore keeps everything in process memory. One mutex makes every
// method atomic, which is exactly the guarantee the shared drivers get from a
// single conditional write. Only meaningful for a single instance.
type memoryStore struct {
	mu        sync.Mutex
	reminders map[string]reminder.Reminder
	leases    map[string]Lease
	audit     []AuditEntry
	closed    bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		reminders: map[string]reminder.Reminder{},
		leases:    map[string]Lease{},
	}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	return ctx.Err()
}

func (m *memoryStore) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	if r == nil {
		return errors.New("nil reminder")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := m.reminders[r.ID]; exists {
		return errors.New("reminder already exists: " + r.ID)
	}
	if r.Status == "" {
		r.Status = reminder.StatusScheduled
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.reminders[r.ID] = cloneReminder(*r)
	return nil
}

func (m *memoryStore) GetReminder(ctx context.Context, id string) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return reminder.Reminder{}, ErrNotFound
	}
	return cloneReminder(r), nil
}

func (m *memoryStore) ListReminders(ctx context.Context, ownerChat int64, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	out := make([]reminder.Reminder, 0, len(m.reminders))
	for _, r := range m.reminders {
		if ownerChat == 0 || r.OwnerChat == ownerChat {
			out = append(out, cloneReminder(r))
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 25
	}
	m.mu.Lock()
	var out []reminder.Reminder
	for _, r := range m.reminders {
		if r.Due(now) {
			out = append(out, cloneReminder(r))
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) UpdateReminderState(ctx context.Context, id string, u StateUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return false, nil
	}
	if u.OwnerChat != 0 && r.OwnerChat != u.OwnerChat {
		return false, nil
	}
	if u.LockOwner != "" && (r.Lock == nil || r.Lock.OwnerID != u.LockOwner) {
		return false, nil
	}
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	r.Status = u.Status
	r.NextRunAt = copyTime(u.NextRunAt)
	if u.LastRunAt != nil {
		r.LastRunAt = copyTime(u.LastRunAt)
	}
	r.UpdatedAt = at
	m.reminders[id] = r
	return true, nil
}

func (m *memoryStore) CancelReminder(ctx context.Context, id string, ownerChat int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok || r.Status != reminder.StatusScheduled || (ownerChat != 0 && r.OwnerChat != ownerChat) {
		return false, nil
	}
	r.Status = reminder.StatusCancelled
	r.UpdatedAt = time.Now()
	m.reminders[id] = r
	return true, nil
}

func (m *memoryStore) LockReminder(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return false, nil
	}
	acquired := now
	if r.Lock.HeldAt(now) {
		if r.Lock.OwnerID != owner {
			return false, nil
		}
		acquired = r.Lock.AcquiredAt
	}
	r.Lock = &reminder.Lock{OwnerID: owner, AcquiredAt: acquired, ExpiresAt: now.Add(ttl)}
	m.reminders[id] = r
	return true, nil
}

func (m *memoryStore) UnlockReminder(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok || r.Lock == nil || r.Lock.OwnerID != owner {
		return nil
	}
	r.Lock = nil
	m.reminders[id] = r
	return nil
}

func (m *memoryStore) AcquireLease(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acquired := now
	if l, ok := m.leases[key]; ok && l.ExpiresAt.After(now) {
		if l.OwnerID != owner {
			return false, nil
		}
		acquired = l.AcquiredAt
	}
	m.leases[key] = Lease{Key: key, OwnerID: owner, AcquiredAt: acquired, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (m *memoryStore) ReleaseLease(ctx context.Context, key, owner string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.OwnerID == owner && l.ExpiresAt.After(now) {
		l.ExpiresAt = now
		m.leases[key] = l
	}
	return nil
}

func (m *memoryStore) GetLease(ctx context.Context, key string) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key]
	if !ok {
		return Lease{}, ErrNotFound
	}
	return l, nil
}

func (m *memoryStore) PruneLeases(ctx context.Context, expiredBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, l := range m.leases {
		if l.ExpiresAt.Before(expiredBefore) {
			delete(m.leases, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	if len(m.audit) > 1000 {
		m.audit = m.audit[len(m.audit)-1000:]
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Stats(ctx context.Context) (Stats, error) {
	now := time.Now()
	st := Stats{ByStatus: map[reminder.Status]int64{}}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reminders {
		st.ByStatus[r.Status]++
		if r.Due(now) {
			st.Due++
		}
	}
	for _, l := range m.leases {
		if l.ExpiresAt.After(now) {
			st.Leases++
		}
	}
	return st, nil
}

func cloneReminder(r reminder.Reminder) reminder.Reminder {
	r.Content.Spans = append([]reminder.Span(nil), r.Content.Spans...)
	r.Schedule.Weekdays = append([]time.Weekday(nil), r.Schedule.Weekdays...)
	r.NextRunAt = copyTime(r.NextRunAt)
	r.LastRunAt = copyTime(r.LastRunAt)
	if r.Lock != nil {
		l := *r.Lock
		r.Lock = &l
	}
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
