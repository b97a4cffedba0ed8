package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Leader        LeaderConfig        `json:"leader"`
	Notifier      *NotifierConfig     `json:"notifier,omitempty"`
	Observability ObservabilityConfig `json:"observability"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is the chat id receiving warn+ logs when logging.telegram is enabled.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// ActionTimeout bounds one button press (lease + store round trips).
	ActionTimeout string `json:"action_timeout,omitempty"`
	// CallbackRate caps button presses per second per chat (nil: 2, 0: off).
	CallbackRate  *float64 `json:"callback_rate,omitempty"`
	CallbackBurst int      `json:"callback_burst,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
//	"storage": { "driver": "mongo", "uri": "mongodb://localhost:27017", "database": "remindbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	URI         string `json:"uri,omitempty"` // may carry credentials (do not log)
	Database    string `json:"database,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	OpTimeout   string `json:"op_timeout,omitempty"`   // mongo
}

// SchedulerConfig controls the due-reminder poller and the housekeeping job.
//
// lock_ttl wins over lock_ttl_ms when both are set.
type SchedulerConfig struct {
	Enabled         bool   `json:"enabled"`
	PollInterval    string `json:"poll_interval,omitempty"`
	BatchSize       int    `json:"batch_size,omitempty"`
	LockTTL         string `json:"lock_ttl,omitempty"`
	LockTTLMillis   int64  `json:"lock_ttl_ms,omitempty"`
	FailureBackoff  string `json:"failure_backoff,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`

	// Housekeeping runs on the leader only.
	HousekeepingInterval string `json:"housekeeping_interval,omitempty"`
	LeaseRetention       string `json:"lease_retention,omitempty"`
}

// LeaderConfig controls process leadership. lease_ttl must exceed renew_every.
type LeaderConfig struct {
	Key        string `json:"key,omitempty"`
	LeaseTTL   string `json:"lease_ttl,omitempty"`
	RenewEvery string `json:"renew_every,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// NotifierConfig controls reminder delivery.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       bool     `json:"enabled"`
	RatePerSec    int      `json:"rate_per_sec"`
	SendTimeout   string   `json:"send_timeout,omitempty"`
	SnoozeOptions []string `json:"snooze_options,omitempty"`
	HistorySize   int      `json:"history_size,omitempty"`
}

// ObservabilityConfig controls the optional HTTP server exposing /metrics,
// /healthz and (optionally) pprof.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:9090"
	MetricsPath   string `json:"metrics_path,omitempty"` // default: "/metrics"
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile (30s+) works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
