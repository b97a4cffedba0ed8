package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = []string{"storage", "leader", "telegram.token"}

// DefaultNotifier is what an omitted notifier section means.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{Enabled: true, RatePerSec: 3}
}

// EffectiveNotifier returns the notifier section with the omitted case resolved.
func (c *Config) EffectiveNotifier() NotifierConfig {
	if c == nil || c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (bot token, mongo URI, HTTP token) are never
// included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram.token")
	}
	oT, nT := oldCfg.Telegram, newCfg.Telegram
	oT.Token, nT.Token = "", ""
	if !reflect.DeepEqual(trimTelegram(oT), trimTelegram(nT)) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nT.PollTimeout)),
			logx.String("telegram.action_timeout", strings.TrimSpace(nT.ActionTimeout)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nT.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.uri_set", strings.TrimSpace(newCfg.Storage.URI) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.Enabled),
			logx.String("scheduler.poll_interval", strings.TrimSpace(s.PollInterval)),
			logx.Int("scheduler.batch_size", s.BatchSize),
			logx.String("scheduler.lock_ttl", strings.TrimSpace(s.LockTTL)),
			logx.Int64("scheduler.lock_ttl_ms", s.LockTTLMillis),
			logx.String("scheduler.default_timezone", strings.TrimSpace(s.DefaultTimezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Leader, newCfg.Leader) {
		changed = append(changed, "leader")
		attrs = append(attrs,
			logx.String("leader.key", strings.TrimSpace(newCfg.Leader.Key)),
			logx.String("leader.lease_ttl", strings.TrimSpace(newCfg.Leader.LeaseTTL)),
			logx.String("leader.renew_every", strings.TrimSpace(newCfg.Leader.RenewEvery)),
		)
	}

	oN, nN := oldCfg.EffectiveNotifier(), newCfg.EffectiveNotifier()
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.String("notifier.send_timeout", strings.TrimSpace(nN.SendTimeout)),
			logx.String("notifier.snooze_options", strings.Join(nN.SnoozeOptions, ",")),
		)
	}

	oO, nO := oldCfg.Observability, newCfg.Observability
	if oO.Token != nO.Token || !reflect.DeepEqual(withoutToken(oO), withoutToken(nO)) {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", nO.Enabled),
			logx.String("observability.addr", strings.TrimSpace(nO.Addr)),
			logx.Bool("observability.pprof", nO.Pprof),
			logx.Bool("observability.token_set", strings.TrimSpace(nO.Token) != ""),
			logx.Bool("observability.allow_insecure", nO.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists the changed sections that cannot be hot-applied.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if slices.Contains(restartSections, s) {
			out = append(out, s)
		}
	}
	return out
}

func trimTelegram(t TelegramConfig) TelegramConfig {
	t.GroupLog = strings.TrimSpace(t.GroupLog)
	t.PollTimeout = strings.TrimSpace(t.PollTimeout)
	t.ActionTimeout = strings.TrimSpace(t.ActionTimeout)
	return t
}

func withoutToken(o ObservabilityConfig) ObservabilityConfig {
	o.Token = ""
	return o
}
