package lease

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

func openSQLite(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "lease.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type failingBackend struct{}

func (failingBackend) Acquire(context.Context, string, string, time.Time, time.Duration) (bool, error) {
	return true, errors.New("store unavailable")
}

func (failingBackend) Release(context.Context, string, string, time.Time) error {
	return errors.New("store unavailable")
}

func TestNamedLeaseMutualExclusion(t *testing.T) {
	t.Parallel()
	st := openSQLite(t)
	l := New(NamedBackend(st), logx.Nop())
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.AcquireOrRenew(context.Background(), "job", uuid.NewString(), now, 30*time.Second) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := granted.Load(); n != 1 {
		t.Fatalf("granted %d times, want 1", n)
	}
}

func TestNamedLeaseSelfHeals(t *testing.T) {
	t.Parallel()
	st := openSQLite(t)
	l := New(NamedBackend(st), logx.Nop())
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	ttl := 30 * time.Second

	if !l.AcquireOrRenew(ctx, "job", "crashed", now, ttl) {
		t.Fatal("first acquire must succeed")
	}
	// The holder disappears without releasing.
	if l.AcquireOrRenew(ctx, "job", "survivor", now.Add(29*time.Second), ttl) {
		t.Fatal("lease must hold until ttl elapses")
	}
	if !l.AcquireOrRenew(ctx, "job", "survivor", now.Add(ttl), ttl) {
		t.Fatal("expired lease must be granted to a new owner")
	}
}

func TestReminderLeaseReleaseOwnerOnly(t *testing.T) {
	t.Parallel()
	st := openSQLite(t)
	l := New(ReminderBackend(st), logx.Nop())
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	r := reminder.Reminder{OwnerChat: 1, Content: reminder.Content{Text: "x"}, Schedule: reminder.Once(), NextRunAt: &now}
	if err := st.CreateReminder(ctx, &r); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}

	if !l.AcquireOrRenew(ctx, r.ID, "a", now, time.Minute) {
		t.Fatal("acquire a")
	}
	if !l.Release(ctx, r.ID, "b") {
		t.Fatal("release by non-holder should be a successful no-op")
	}
	if l.AcquireOrRenew(ctx, r.ID, "b", now, time.Minute) {
		t.Fatal("lease must still belong to a")
	}
	l.Release(ctx, r.ID, "a")
	if !l.AcquireOrRenew(ctx, r.ID, "b", now, time.Minute) {
		t.Fatal("lease must be free after holder release")
	}
	if l.AcquireOrRenew(ctx, "missing", "a", now, time.Minute) {
		t.Fatal("unknown reminder must not be granted")
	}
}

func TestLockerErrorsAreNotGranted(t *testing.T) {
	t.Parallel()
	l := New(failingBackend{}, logx.Nop())
	if l.AcquireOrRenew(context.Background(), "k", "o", time.Now(), time.Second) {
		t.Fatal("store error must never grant the lease")
	}
	if l.Release(context.Background(), "k", "o") {
		t.Fatal("release error must be reported")
	}
}

func TestLockerRejectsEmptyArguments(t *testing.T) {
	t.Parallel()
	l := New(NamedBackend(storage.NewMemory()), logx.Nop())
	tests := []struct {
		name       string
		key, owner string
		ttl        time.Duration
	}{
		{name: "empty key", owner: "o", ttl: time.Second},
		{name: "empty owner", key: "k", ttl: time.Second},
		{name: "zero ttl", key: "k", owner: "o"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if l.AcquireOrRenew(context.Background(), tt.key, tt.owner, time.Now(), tt.ttl) {
				t.Fatal("expected refusal")
			}
		})
	}
}
