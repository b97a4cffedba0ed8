// Package leader elects a single process among the running instances using a
// named lease. Only the holder runs process-wide singleton duties; every
// instance keeps running its own poller.
package leader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/lease"
	logx "remindbot/pkg/logx"
)

var ErrNotLeader = errors.New("not leader")

const (
	DefaultKey        = "remindbot.leader"
	DefaultLeaseTTL   = 30 * time.Second
	DefaultRenewEvery = 10 * time.Second
	DefaultRetryDelay = 2 * time.Second
)

type Config struct {
	Key        string
	LeaseTTL   time.Duration
	RenewEvery time.Duration
	RetryDelay time.Duration
}

// WithDefaults fills zero values. RenewEvery is forced below LeaseTTL so the
// holder always renews before its lease can lapse.
func (c Config) WithDefaults() Config {
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.RenewEvery <= 0 || c.RenewEvery >= c.LeaseTTL {
		c.RenewEvery = c.LeaseTTL / 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

type Coordinator struct {
	cfg    Config
	locker *lease.Locker
	owner  string
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	leader atomic.Bool

	mu      sync.Mutex
	stopRun context.CancelFunc
	runDone chan struct{}
}

func New(backend lease.Backend, cfg Config, log logx.Logger, bus eventbus.Bus) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	c := &Coordinator{
		cfg:   cfg.WithDefaults(),
		owner: mintOwnerID(),
		bus:   bus,
		now:   time.Now,
	}
	c.log = log.With(logx.String("comp", "leader"), logx.String("owner", c.owner))
	c.locker = lease.New(backend, c.log)
	return c
}

func mintOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", host, os.Getpid(), time.Now().UnixNano())
}

// OwnerID identifies this process in lease records. It is fixed for the
// lifetime of the coordinator.
func (c *Coordinator) OwnerID() string { return c.owner }

func (c *Coordinator) IsLeader() bool { return c.leader.Load() }

// Guard returns ErrNotLeader unless this process currently holds the lease.
func (c *Coordinator) Guard() error {
	if !c.IsLeader() {
		return ErrNotLeader
	}
	return nil
}

// TryAcquire makes one acquire-or-renew attempt and updates the leader flag.
func (c *Coordinator) TryAcquire(ctx context.Context) bool {
	ok := c.locker.AcquireOrRenew(ctx, c.cfg.Key, c.owner, c.now(), c.cfg.LeaseTTL)
	was := c.leader.Swap(ok)
	switch {
	case ok && !was:
		c.log.Info("leadership acquired", logx.String("key", c.cfg.Key))
		leaderGauge.Set(1)
		leaderTransitions.WithLabelValues("acquired").Inc()
		c.bus.Publish(eventbus.Event{Type: eventbus.LeaderAcquired, Data: c.owner})
	case !ok && was:
		c.log.Warn("leadership lost", logx.String("key", c.cfg.Key))
		leaderGauge.Set(0)
		leaderTransitions.WithLabelValues("lost").Inc()
		c.bus.Publish(eventbus.Event{Type: eventbus.LeaderLost, Data: c.owner})
	}
	return ok
}

// WaitForAcquire blocks until the lease is granted or ctx is done.
func (c *Coordinator) WaitForAcquire(ctx context.Context) error {
	for {
		if c.TryAcquire(ctx) {
			return nil
		}
		c.log.Debug("leadership busy, retrying", logx.Duration("delay", c.cfg.RetryDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

// StartRenewal renews (or re-acquires) the lease every RenewEvery until
// Release is called or ctx is done. Calling it twice is a no-op.
func (c *Coordinator) StartRenewal(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRun != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.stopRun = cancel
	c.runDone = done

	go func() {
		defer close(done)
		t := time.NewTicker(c.cfg.RenewEvery)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-t.C:
				c.TryAcquire(runCtx)
			}
		}
	}()
}

// Release stops renewal and expires the lease if this process still holds
// it. Safe to call more than once.
func (c *Coordinator) Release(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.stopRun, c.runDone
	c.stopRun, c.runDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	was := c.leader.Swap(false)
	if !c.locker.Release(ctx, c.cfg.Key, c.owner) {
		return errors.New("leader: release failed")
	}
	if was {
		leaderGauge.Set(0)
		leaderTransitions.WithLabelValues("released").Inc()
		c.bus.Publish(eventbus.Event{Type: eventbus.LeaderReleased, Data: c.owner})
		c.log.Info("leadership released", logx.String("key", c.cfg.Key))
	}
	return nil
}
