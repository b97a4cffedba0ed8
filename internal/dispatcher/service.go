// Package dispatcher is the due-reminder poller. Every tick it fetches a
// bounded batch of due reminders and, for each one it manages to lease,
// delivers it, computes the next occurrence and releases the lease.
//
// Every instance may run a poller: the per-reminder lease, not leadership,
// keeps two instances from delivering the same occurrence.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/eventbus"
	"remindbot/internal/lease"
	"remindbot/internal/notifier"
	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// TriggerName is the scheduler entry driving the poller.
const TriggerName = "dispatcher.tick"

// Notifier delivers one reminder. Any error counts as a failed delivery.
type Notifier interface {
	Send(ctx context.Context, d notifier.Delivery) error
}

// TickReport summarizes one tick.
type TickReport struct {
	Fetched int
	Sent    int
	Failed  int
	Retired int
	Skipped int
	Err     error
}

type Service struct {
	mu       sync.Mutex
	cfg      Config
	started  bool
	triggers *scheduler.Service
	ownTrig  bool

	store    storage.Store
	locker   *lease.Locker
	calc     recurrence.Calculator
	notifier Notifier
	owner    string
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	// tickMu serializes ticks, including direct Tick calls.
	tickMu sync.Mutex
}

type Option func(*Service)

// WithTriggers shares a trigger service with other components.
func WithTriggers(t *scheduler.Service) Option {
	return func(s *Service) { s.triggers = t }
}

// WithOwnerID sets the identity written into per-reminder leases.
func WithOwnerID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.owner = id
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, store storage.Store, calc recurrence.Calculator, n Notifier, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg.WithDefaults(),
		store:    store,
		calc:     calc,
		notifier: n,
		bus:      eventbus.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.owner == "" {
		host, _ := os.Hostname()
		s.owner = fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
	}
	s.log = log.With(logx.String("comp", "dispatcher"))
	s.locker = lease.New(lease.ReminderBackend(store), s.log)
	if s.triggers == nil {
		s.triggers = scheduler.New(s.log)
		s.ownTrig = true
	}
	return s
}

func (s *Service) OwnerID() string { return s.owner }

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start registers the poll trigger. A disabled poller registers nothing and
// can be enabled later through Apply.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	if s.ownTrig {
		s.triggers.Start()
	}
	if !s.cfg.Enabled {
		s.log.Info("poller disabled")
		return nil
	}
	return s.registerLocked()
}

func (s *Service) registerLocked() error {
	every := s.cfg.PollInterval
	if err := s.triggers.Every(TriggerName, every, func(ctx context.Context) { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("register poll trigger: %w", err)
	}
	s.log.Info("poller started",
		logx.Duration("interval", every),
		logx.Int("batch", s.cfg.BatchSize),
		logx.Duration("lock_ttl", s.cfg.LockTTL),
		logx.String("owner", s.owner),
	)
	return nil
}

// Stop removes the trigger and waits for an in-flight tick until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	s.triggers.Remove(TriggerName)
	if s.ownTrig {
		s.triggers.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.tickMu.Lock()
		s.tickMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply swaps the config. Interval and enable changes take effect at once.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.WithDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if !s.started {
		return
	}
	switch {
	case !cfg.Enabled && old.Enabled:
		s.triggers.Remove(TriggerName)
		s.log.Info("poller disabled")
	case cfg.Enabled && (!old.Enabled || cfg.PollInterval != old.PollInterval):
		if err := s.registerLocked(); err != nil {
			s.log.Error("poller reconfigure failed", logx.Err(err))
		}
	}
}

// Tick runs one FETCH -> {LOCK -> DISPATCH -> RESCHEDULE -> UNLOCK} pass.
func (s *Service) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var rep TickReport
	cfg := s.Config()
	if !cfg.Enabled {
		return rep
	}
	start := time.Now()
	ticksTotal.Inc()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	if err := s.store.Ping(ctx); err != nil {
		tickErrors.Inc()
		s.log.Warn("store unavailable, skipping tick", logx.Err(err))
		rep.Err = err
		return rep
	}
	due, err := s.store.DueReminders(ctx, s.now(), cfg.BatchSize)
	if err != nil {
		tickErrors.Inc()
		s.log.Warn("fetch due reminders failed", logx.Err(err))
		rep.Err = err
		return rep
	}
	rep.Fetched = len(due)

	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		switch s.process(ctx, cfg, r) {
		case outcomeSent:
			rep.Sent++
		case outcomeFailed:
			rep.Failed++
		case outcomeRetired:
			rep.Retired++
		default:
			rep.Skipped++
		}
	}
	if rep.Fetched > 0 {
		s.log.Debug("tick done",
			logx.Int("fetched", rep.Fetched),
			logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed),
			logx.Int("retired", rep.Retired),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", time.Since(start)),
		)
	}
	return rep
}

func (s *Service) process(ctx context.Context, cfg Config, r reminder.Reminder) (outcome string) {
	defer func() {
		itemsTotal.WithLabelValues(outcome).Inc()
		s.bus.Publish(eventbus.Event{Type: eventType(outcome), ReminderID: r.ID, ChatID: r.OwnerChat})
	}()
	log := s.log.With(logx.String("reminder_id", r.ID), logx.Int64("chat_id", r.OwnerChat))

	now := s.now()
	if !s.locker.AcquireOrRenew(ctx, r.ID, s.owner, now, cfg.LockTTL) {
		log.Debug("reminder leased elsewhere, skipping")
		return outcomeSkipped
	}
	defer s.locker.Release(context.WithoutCancel(ctx), r.ID, s.owner)

	// Another instance may have finished this occurrence between fetch and lease.
	cur, err := s.store.GetReminder(ctx, r.ID)
	if err != nil {
		log.Warn("reload leased reminder failed", logx.Err(err))
		return outcomeSkipped
	}
	if !cur.Due(now) {
		return outcomeSkipped
	}

	if err := s.deliver(ctx, cur); err != nil {
		next := now.Add(cfg.FailureBackoff)
		s.update(ctx, log, cur.ID, storage.StateUpdate{Status: reminder.StatusScheduled, NextRunAt: &next, At: now, LockOwner: s.owner})
		log.Warn("delivery failed, backing off", logx.Time("retry_at", next), logx.Err(err))
		return outcomeFailed
	}

	u := storage.StateUpdate{Status: reminder.StatusSent, LastRunAt: &now, At: now, LockOwner: s.owner}
	outcome = outcomeSent
	if cur.Recurring() {
		if next, ok := s.calc.Next(cur.Schedule, cur.Timezone, now, cur.NextRunAt); ok {
			u.Status = reminder.StatusScheduled
			u.NextRunAt = &next
		} else {
			log.Warn("schedule yields no next occurrence, retiring", logx.String("kind", string(cur.Schedule.Kind)))
			outcome = outcomeRetired
		}
	}
	s.update(ctx, log, cur.ID, u)
	return outcome
}

func (s *Service) update(ctx context.Context, log logx.Logger, id string, u storage.StateUpdate) {
	ok, err := s.store.UpdateReminderState(ctx, id, u)
	switch {
	case err != nil:
		log.Error("reschedule failed", logx.Err(err))
	case !ok:
		// The lease lapsed mid-dispatch and someone else took over.
		log.Warn("reschedule skipped, lease no longer held")
	}
}

func (s *Service) deliver(ctx context.Context, r reminder.Reminder) (err error) {
	if s.notifier == nil {
		return notifier.ErrDisabled
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("notifier panic: %v", p)
		}
	}()
	return s.notifier.Send(ctx, notifier.Delivery{
		Target:     kit.ChatTarget{ChatID: r.OwnerChat, ThreadID: r.ThreadID},
		ReminderID: r.ID,
		Content:    r.Content,
		Controls:   true,
	})
}

func eventType(outcome string) string {
	switch outcome {
	case outcomeSent:
		return eventbus.ReminderSent
	case outcomeFailed:
		return eventbus.ReminderFailed
	case outcomeRetired:
		return eventbus.ReminderRetired
	default:
		return eventbus.ReminderSkipped
	}
}
