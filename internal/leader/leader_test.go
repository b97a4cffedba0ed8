package leader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/lease"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

func newPair(t *testing.T, cfg Config) (storage.Store, *Coordinator, *Coordinator) {
	t.Helper()
	st := storage.NewMemory()
	a := New(lease.NamedBackend(st), cfg, logx.Nop(), nil)
	b := New(lease.NamedBackend(st), cfg, logx.Nop(), nil)
	if a.OwnerID() == b.OwnerID() {
		t.Fatalf("owner ids must differ: %s", a.OwnerID())
	}
	return st, a, b
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{name: "zero", in: Config{}, want: Config{Key: DefaultKey, LeaseTTL: 30 * time.Second, RenewEvery: 10 * time.Second, RetryDelay: 2 * time.Second}},
		{name: "renew not below ttl", in: Config{Key: "k", LeaseTTL: 9 * time.Second, RenewEvery: 9 * time.Second, RetryDelay: time.Second}, want: Config{Key: "k", LeaseTTL: 9 * time.Second, RenewEvery: 3 * time.Second, RetryDelay: time.Second}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.WithDefaults(); got != tt.want {
				t.Fatalf("WithDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOwnerIDShape(t *testing.T) {
	t.Parallel()
	c := New(lease.NamedBackend(storage.NewMemory()), Config{}, logx.Nop(), nil)
	if parts := strings.Split(c.OwnerID(), ":"); len(parts) < 3 {
		t.Fatalf("OwnerID() = %q, want host:pid:nanos", c.OwnerID())
	}
	if c.OwnerID() != c.OwnerID() {
		t.Fatal("OwnerID must be stable")
	}
}

func TestSingleLeaderAndHandover(t *testing.T) {
	t.Parallel()
	_, a, b := newPair(t, Config{RetryDelay: 10 * time.Millisecond})
	ctx := context.Background()

	if err := a.WaitForAcquire(ctx); err != nil {
		t.Fatalf("WaitForAcquire(a): %v", err)
	}
	if !a.IsLeader() || a.Guard() != nil {
		t.Fatal("a must be leader")
	}
	if b.TryAcquire(ctx) {
		t.Fatal("b must not acquire while a holds the lease")
	}
	if !errors.Is(b.Guard(), ErrNotLeader) {
		t.Fatalf("b.Guard() = %v, want ErrNotLeader", b.Guard())
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := b.WaitForAcquire(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitForAcquire(b) = %v, want deadline exceeded", err)
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release(a): %v", err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("second Release(a): %v", err)
	}
	if a.IsLeader() {
		t.Fatal("a still leader after release")
	}
	if !b.TryAcquire(ctx) {
		t.Fatal("b must acquire after a released")
	}
}

func TestLeaseSelfHealsAfterCrash(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	bus := eventbus.New()
	lost, unsub := bus.Subscribe(4, eventbus.LeaderLost)
	defer unsub()

	t0 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	a := New(lease.NamedBackend(st), Config{LeaseTTL: 30 * time.Second}, logx.Nop(), bus)
	b := New(lease.NamedBackend(st), Config{LeaseTTL: 30 * time.Second}, logx.Nop(), bus)
	a.now = func() time.Time { return t0 }
	ctx := context.Background()

	if !a.TryAcquire(ctx) {
		t.Fatal("a acquire")
	}
	// a stops renewing; b takes over once the ttl has passed.
	b.now = func() time.Time { return t0.Add(29 * time.Second) }
	if b.TryAcquire(ctx) {
		t.Fatal("b acquired before expiry")
	}
	b.now = func() time.Time { return t0.Add(30 * time.Second) }
	if !b.TryAcquire(ctx) {
		t.Fatal("b must take over an expired lease")
	}

	// a wakes up and notices.
	a.now = func() time.Time { return t0.Add(31 * time.Second) }
	if a.TryAcquire(ctx) {
		t.Fatal("a must not steal b's lease")
	}
	select {
	case e := <-lost:
		if e.Data != a.OwnerID() {
			t.Fatalf("lost event for %v, want %s", e.Data, a.OwnerID())
		}
	case <-time.After(time.Second):
		t.Fatal("expected leader.lost event")
	}
}

func TestRenewalExtendsLease(t *testing.T) {
	t.Parallel()
	st, a, _ := newPair(t, Config{LeaseTTL: 300 * time.Millisecond, RenewEvery: 20 * time.Millisecond})
	ctx := context.Background()
	if err := a.WaitForAcquire(ctx); err != nil {
		t.Fatalf("WaitForAcquire: %v", err)
	}
	first, err := st.GetLease(ctx, DefaultKey)
	if err != nil {
		t.Fatalf("GetLease: %v", err)
	}
	a.StartRenewal(ctx)
	a.StartRenewal(ctx)
	time.Sleep(150 * time.Millisecond)

	renewed, err := st.GetLease(ctx, DefaultKey)
	if err != nil {
		t.Fatalf("GetLease: %v", err)
	}
	if !renewed.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("lease not renewed: %v -> %v", first.ExpiresAt, renewed.ExpiresAt)
	}
	if renewed.OwnerID != a.OwnerID() {
		t.Fatalf("owner = %s, want %s", renewed.OwnerID, a.OwnerID())
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	released, _ := st.GetLease(ctx, DefaultKey)
	if released.ExpiresAt.After(time.Now()) {
		t.Fatalf("released lease still in force until %v", released.ExpiresAt)
	}
}
