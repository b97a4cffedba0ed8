package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// Job is the body of a trigger. ctx is cancelled when the service stops.
type Job func(ctx context.Context)

type Option func(*Service)

// WithStartupSpread delays the first run of every interval trigger by a
// random amount up to max, so instances started together do not poll in lockstep.
func WithStartupSpread(max time.Duration) Option {
	return func(s *Service) { s.spread = max }
}

type entry struct {
	id    cron.EntryID
	every time.Duration
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	spread  time.Duration
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]entry
}

func New(log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, entries: map[string]entry{}}
	for _, o := range opts {
		o(s)
	}
	cl := cronLogger{log: log}
	s.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Every registers (or replaces) the named trigger to run fn every interval.
// Intervals are whole seconds; anything shorter runs once per second.
func (s *Service) Every(name string, every time.Duration, fn Job) error {
	if name == "" || fn == nil {
		return errors.New("scheduler: name and job are required")
	}
	if every <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		s.c.Remove(old.id)
	}
	ctx := s.ctx
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	sched, jitter := intervalSchedule(every, time.Now(), s.spread, name)
	id := s.c.Schedule(sched, job)
	s.entries[name] = entry{id: id, every: every}
	s.log.Debug("trigger registered", logx.String("name", name), logx.Duration("every", every), logx.Duration("spread", jitter))
	return nil
}

// Remove unregisters a trigger. It reports whether the name was known.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.c.Remove(e.id)
	delete(s.entries, name)
	return true
}

// Interval returns the configured interval of a trigger, or 0.
func (s *Service) Interval(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[name].every
}

// Names lists registered triggers.
func (s *Service) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Service) Start() {
	s.c.Start()
	s.log.Debug("triggers started", logx.Int("count", len(s.Names())))
}

// Stop halts triggering, cancels running jobs' context and waits for them
// until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("triggers stop timed out", logx.Err(ctx.Err()))
	}
}

// cronLogger adapts logx to cron.Logger. cron's info output is chatty so it
// is demoted to debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if !l.log.Enabled(logx.LevelDebug) {
		return
	}
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
