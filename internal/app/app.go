// Package app wires the reminder engine together and owns its lifecycle:
// startup order, config hot reload fan-out, systemd notifications and
// bounded shutdown.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/action"
	"remindbot/internal/config"
	"remindbot/internal/dispatcher"
	"remindbot/internal/eventbus"
	"remindbot/internal/leader"
	"remindbot/internal/lease"
	"remindbot/internal/notifier"
	"remindbot/internal/observability"
	"remindbot/internal/recurrence"
	"remindbot/internal/router"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	triggers *scheduler.Service
	coord    *leader.Coordinator
	poller   *dispatcher.Service
	notif    *notifier.Service
	router   *router.Router
	obs      *observability.Service
	house    *housekeeper

	houseEvery time.Duration
	updates    chan kit.Update
	stopped    atomic.Bool
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tc, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	return newApp(cfgm, cfg, ad)
}

func newApp(cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	logCfg, err := mapLogConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	tz, err := mapDefaultTimezone(cfg)
	if err != nil {
		return nil, err
	}
	lc, err := mapLeaderConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	routerCfg, err := mapRouterConfig(cfg)
	if err != nil {
		return nil, err
	}
	oc, err := mapObservabilityConfig(cfg)
	if err != nil {
		return nil, err
	}
	hk, err := mapHousekeepingConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(logCfg, ad)
	log := root.With(logx.String("comp", "app"))

	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("default_tz", tz))

	bus := eventbus.New()
	calc := recurrence.New(tz)
	coord := leader.New(lease.NamedBackend(store), lc, root, bus)
	triggers := scheduler.New(root.With(logx.String("comp", "scheduler")), scheduler.WithStartupSpread(2*time.Second))
	notif := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")))
	poller := dispatcher.New(dcfg, store, calc, notif, root,
		dispatcher.WithTriggers(triggers),
		dispatcher.WithOwnerID(coord.OwnerID()),
		dispatcher.WithBus(bus),
	)
	actions := action.NewHandler(store, calc, root,
		action.WithLockTTL(dcfg.LockTTL),
		action.WithBus(bus),
	)

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		triggers:   triggers,
		coord:      coord,
		poller:     poller,
		notif:      notif,
		router:     router.New(routerCfg, ad, actions, root),
		obs:        observability.New(oc, root.With(logx.String("comp", "observability")), observability.WithHealth(store.Ping)),
		house:      newHousekeeper(store, coord.Guard, hk.Retention, root),
		houseEvery: hk.Interval,
		updates:    make(chan kit.Update, 256),
	}, nil
}

// Store exposes the opened store to operator tooling.
func (a *App) Store() storage.Store { return a.store }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	// Observability is optional: a bind failure must not keep reminders from firing.
	if err := a.obs.Start(runCtx); err != nil {
		a.log.Warn("observability not started", logx.Err(err))
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	// Leadership only gates singleton duties, so startup does not block on it.
	a.sup.Go0("leader", func(c context.Context) {
		if err := a.coord.WaitForAcquire(c); err != nil {
			return
		}
		a.coord.StartRenewal(c)
	})

	a.triggers.Start()
	if err := a.poller.Start(runCtx); err != nil {
		return err
	}
	if err := a.registerHousekeeping(a.houseEvery); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("reminder_id", e.ReminderID),
					logx.Int64("chat_id", e.ChatID),
				)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest pending config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if every := watchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			watchdogLoop(c, every, a.store.Ping, a.log)
		})
	}
	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("owner", a.coord.OwnerID()))
	return nil
}

func (a *App) registerHousekeeping(every time.Duration) error {
	if err := a.triggers.Every(housekeepingTrigger, every, func(c context.Context) { a.house.run(c) }); err != nil {
		return fmt.Errorf("register housekeeping: %w", err)
	}
	a.houseEvery = every
	return nil
}

// applyConfig fans a validated reload out to the hot-reloadable components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if prev != nil && strings.TrimSpace(prev.Scheduler.DefaultTimezone) != strings.TrimSpace(next.Scheduler.DefaultTimezone) {
		a.log.Warn("scheduler.default_timezone change needs a restart to take effect")
	}
	if slices.Contains(sections, "telegram") {
		a.log.Warn("telegram timeouts change needs a restart to take effect")
	}

	if lc, err := mapLogConfig(next); err != nil {
		a.log.Warn("invalid logging config; keeping previous", logx.Err(err))
	} else {
		a.logs.Apply(lc)
	}

	if dc, err := mapDispatcherConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.poller.Apply(dc)
	}

	if hk, err := mapHousekeepingConfig(next); err != nil {
		a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
	} else {
		a.house.setRetention(hk.Retention)
		if hk.Interval != a.houseEvery {
			if err := a.registerHousekeeping(hk.Interval); err != nil {
				a.log.Warn("housekeeping reschedule failed", logx.Err(err))
			}
		}
	}

	if nc, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
	}

	if oc, err := mapObservabilityConfig(next); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else if err := a.obs.Reconfigure(ctx, oc); err != nil {
		a.log.Warn("observability reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Data: sections})
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil || a.stopped.Swap(true) {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.step(ctx, "poller", 5*time.Second, a.poller.Stop)
	a.step(ctx, "triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	a.step(ctx, "leader", 2*time.Second, a.coord.Release)
	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// Respect the caller's deadline; never extend it.
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
