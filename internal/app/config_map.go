package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/action"
	"remindbot/internal/config"
	"remindbot/internal/dispatcher"
	"remindbot/internal/leader"
	"remindbot/internal/notifier"
	"remindbot/internal/observability"
	"remindbot/internal/router"
	"remindbot/internal/storage"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

const (
	defaultHousekeepingInterval = 5 * time.Minute
	defaultLeaseRetention       = 24 * time.Hour
	defaultActionTimeout        = 15 * time.Second
)

type housekeepingConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: pollTimeout}, nil
}

// mapRouterConfig resolves the per-press timeout and the per-chat throttle.
func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.action_timeout", cfg.Telegram.ActionTimeout, defaultActionTimeout)
	if err != nil {
		return router.Config{}, err
	}
	rc := router.Config{Timeout: timeout, ChatRate: 2, ChatBurst: 5}
	if cfg.Telegram.CallbackRate != nil {
		if *cfg.Telegram.CallbackRate < 0 {
			return router.Config{}, fmt.Errorf("telegram.callback_rate must be >= 0")
		}
		rc.ChatRate = *cfg.Telegram.CallbackRate
	}
	switch {
	case cfg.Telegram.CallbackBurst < 0:
		return router.Config{}, fmt.Errorf("telegram.callback_burst must be >= 0")
	case cfg.Telegram.CallbackBurst > 0:
		rc.ChatBurst = cfg.Telegram.CallbackBurst
	}
	return rc, nil
}

// mapLogConfig resolves telegram.group_log into the log sink target.
func mapLogConfig(cfg *config.Config) (logx.Config, error) {
	var chatID int64
	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		id, err := strconv.ParseInt(gl, 10, 64)
		if err != nil {
			return logx.Config{}, fmt.Errorf("telegram.group_log: invalid chat id %q", gl)
		}
		chatID = id
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return logx.Config{}, fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:   driver,
		Path:     strings.TrimSpace(sc.Path),
		URI:      strings.TrimSpace(sc.URI),
		Database: strings.TrimSpace(sc.Database),
	}
	switch driver {
	case "", "sqlite", "sqlite3":
		if out.Path == "" {
			out.Path = "./remindbot.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "mongo", "mongodb":
		if out.URI == "" {
			return storage.Config{}, fmt.Errorf("storage.uri is required when storage.driver=%s", driver)
		}
		op, err := config.ParseDurationOrDefault("storage.op_timeout", sc.OpTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.OpTimeout = op
	case "memory", "mem":
	default:
		// "none" is rejected too: the engine cannot run without a store.
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

func mapDispatcherConfig(cfg *config.Config) (dispatcher.Config, error) {
	sc := cfg.Scheduler
	if sc.BatchSize < 0 {
		return dispatcher.Config{}, fmt.Errorf("scheduler.batch_size must be >= 0")
	}
	if sc.LockTTLMillis < 0 {
		return dispatcher.Config{}, fmt.Errorf("scheduler.lock_ttl_ms must be >= 0")
	}
	poll, err := config.ParseDurationField("scheduler.poll_interval", sc.PollInterval)
	if err != nil {
		return dispatcher.Config{}, err
	}
	if poll > 0 && poll < time.Second {
		return dispatcher.Config{}, fmt.Errorf("scheduler.poll_interval must be >= 1s")
	}
	lockTTL, err := config.ParseDurationField("scheduler.lock_ttl", sc.LockTTL)
	if err != nil {
		return dispatcher.Config{}, err
	}
	backoff, err := config.ParseDurationField("scheduler.failure_backoff", sc.FailureBackoff)
	if err != nil {
		return dispatcher.Config{}, err
	}
	return dispatcher.Config{
		Enabled:        sc.Enabled,
		PollInterval:   poll,
		BatchSize:      sc.BatchSize,
		LockTTL:        lockTTL,
		LockTTLMillis:  sc.LockTTLMillis,
		FailureBackoff: backoff,
	}.WithDefaults(), nil
}

func mapDefaultTimezone(cfg *config.Config) (string, error) {
	tz := strings.TrimSpace(cfg.Scheduler.DefaultTimezone)
	if tz == "" {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("scheduler.default_timezone: invalid %q: %w", tz, err)
	}
	return tz, nil
}

func mapHousekeepingConfig(cfg *config.Config) (housekeepingConfig, error) {
	every, err := config.ParseDurationOrDefault("scheduler.housekeeping_interval", cfg.Scheduler.HousekeepingInterval, defaultHousekeepingInterval)
	if err != nil {
		return housekeepingConfig{}, err
	}
	keep, err := config.ParseDurationOrDefault("scheduler.lease_retention", cfg.Scheduler.LeaseRetention, defaultLeaseRetention)
	if err != nil {
		return housekeepingConfig{}, err
	}
	return housekeepingConfig{Interval: every, Retention: keep}, nil
}

func mapLeaderConfig(cfg *config.Config) (leader.Config, error) {
	lc := cfg.Leader
	ttl, err := config.ParseDurationField("leader.lease_ttl", lc.LeaseTTL)
	if err != nil {
		return leader.Config{}, err
	}
	renew, err := config.ParseDurationField("leader.renew_every", lc.RenewEvery)
	if err != nil {
		return leader.Config{}, err
	}
	retry, err := config.ParseDurationField("leader.retry_delay", lc.RetryDelay)
	if err != nil {
		return leader.Config{}, err
	}
	out := leader.Config{Key: strings.TrimSpace(lc.Key), LeaseTTL: ttl, RenewEvery: renew, RetryDelay: retry}.WithDefaults()
	// WithDefaults silently repairs renew >= ttl; an explicit bad pair is a config error.
	if renew > 0 && renew >= out.LeaseTTL {
		return leader.Config{}, fmt.Errorf("leader.renew_every (%s) must be < leader.lease_ttl (%s)", renew, out.LeaseTTL)
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.EffectiveNotifier()
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if nc.HistorySize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.history_size must be >= 0")
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	var snooze []time.Duration
	for i, raw := range nc.SnoozeOptions {
		path := fmt.Sprintf("notifier.snooze_options[%d]", i)
		min, err := config.ParseMinutesField(path, raw, action.MaxSnoozeMinutes)
		if err != nil {
			return notifier.Config{}, err
		}
		snooze = append(snooze, time.Duration(min)*time.Minute)
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		RatePerSec:    nc.RatePerSec,
		SendTimeout:   sendTimeout,
		SnoozeOptions: snooze,
		HistorySize:   nc.HistorySize,
	}, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	oc := cfg.Observability
	read, err := config.ParseDurationField("observability.read_timeout", oc.ReadTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	write, err := config.ParseDurationField("observability.write_timeout", oc.WriteTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationField("observability.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	out := observability.Config{
		Enabled:              oc.Enabled,
		Addr:                 strings.TrimSpace(oc.Addr),
		MetricsPath:          strings.TrimSpace(oc.MetricsPath),
		Pprof:                oc.Pprof,
		PprofPrefix:          strings.TrimSpace(oc.PprofPrefix),
		Token:                strings.TrimSpace(oc.Token),
		AllowInsecure:        oc.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: oc.MutexProfileFraction,
		BlockProfileRate:     oc.BlockProfileRate,
		MemProfileRate:       oc.MemProfileRate,
	}
	if err := out.Check(); err != nil {
		return observability.Config{}, err
	}
	return out, nil
}

// validateConfig runs every mapper so a bad hot reload is rejected before
// any component sees it.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	steps := []func(*config.Config) error{
		func(c *config.Config) error { _, err := mapTelegramConfig(c); return err },
		func(c *config.Config) error { _, err := mapRouterConfig(c); return err },
		func(c *config.Config) error { _, err := mapLogConfig(c); return err },
		func(c *config.Config) error { _, err := mapStorageConfig(c); return err },
		func(c *config.Config) error { _, err := mapDispatcherConfig(c); return err },
		func(c *config.Config) error { _, err := mapDefaultTimezone(c); return err },
		func(c *config.Config) error { _, err := mapHousekeepingConfig(c); return err },
		func(c *config.Config) error { _, err := mapLeaderConfig(c); return err },
		func(c *config.Config) error { _, err := mapNotifierConfig(c); return err },
		func(c *config.Config) error { _, err := mapObservabilityConfig(c); return err },
	}
	for _, step := range steps {
		if err := step(cfg); err != nil {
			return err
		}
	}
	return nil
}
