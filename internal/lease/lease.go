// Package lease implements a time-bounded mutual-exclusion lock on top of a
// store's atomic conditional update. A lease is granted when no unexpired
// lease exists for the key or the caller already holds it; expired leases are
// free for anyone, so a crashed holder never blocks others past its TTL.
package lease

import (
	"context"
	"time"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Backend performs the single atomic write behind a lease.
type Backend interface {
	Acquire(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string, now time.Time) error
}

type namedBackend struct{ st storage.Store }

// NamedBackend stores leases in their own records, created on first use.
// Release marks the record expired rather than deleting it.
func NamedBackend(st storage.Store) Backend { return namedBackend{st: st} }

func (b namedBackend) Acquire(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	return b.st.AcquireLease(ctx, key, owner, now, ttl)
}

func (b namedBackend) Release(ctx context.Context, key, owner string, now time.Time) error {
	return b.st.ReleaseLease(ctx, key, owner, now)
}

type reminderBackend struct{ st storage.Store }

// ReminderBackend keys leases by reminder id and keeps them on the reminder
// record itself. Unknown ids are never granted.
func ReminderBackend(st storage.Store) Backend { return reminderBackend{st: st} }

func (b reminderBackend) Acquire(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	return b.st.LockReminder(ctx, key, owner, now, ttl)
}

func (b reminderBackend) Release(ctx context.Context, key, owner string, _ time.Time) error {
	return b.st.UnlockReminder(ctx, key, owner)
}

// Locker turns backend errors into "not granted" so callers only branch on a bool.
type Locker struct {
	backend Backend
	log     logx.Logger
	now     func() time.Time
}

func New(backend Backend, log logx.Logger) *Locker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Locker{backend: backend, log: log, now: time.Now}
}

// AcquireOrRenew grants or extends the lease on key for owner until now+ttl.
func (l *Locker) AcquireOrRenew(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) bool {
	if l == nil || l.backend == nil || key == "" || owner == "" || ttl <= 0 {
		return false
	}
	ok, err := l.backend.Acquire(ctx, key, owner, now, ttl)
	if err != nil {
		l.log.Warn("lease acquire failed", logx.String("key", key), logx.String("owner", owner), logx.Err(err))
		return false
	}
	return ok
}

// Release gives up the lease if owner still holds it. It reports whether the
// release write succeeded; a lease held by someone else is left untouched.
func (l *Locker) Release(ctx context.Context, key, owner string) bool {
	if l == nil || l.backend == nil || key == "" || owner == "" {
		return false
	}
	if err := l.backend.Release(ctx, key, owner, l.now()); err != nil {
		l.log.Warn("lease release failed", logx.String("key", key), logx.String("owner", owner), logx.Err(err))
		return false
	}
	return true
}
