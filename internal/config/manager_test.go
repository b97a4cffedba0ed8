package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "123:abc", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "sqlite", "path": "./remindbot.db"},
  "scheduler": {"enabled": true, "poll_interval": "10s", "batch_size": 25, "lock_ttl_ms": 60000, "default_timezone": "Europe/Berlin"},
  "leader": {"lease_ttl": "30s", "renew_every": "10s"},
  "notifier": {"enabled": true, "rate_per_sec": 5, "snooze_options": ["10m", "1h"]}
}`

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 10s
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./remindbot.db
scheduler:
  enabled: true
  poll_interval: 10s
  batch_size: 25
  lock_ttl_ms: 60000
  default_timezone: Europe/Berlin
leader:
  lease_ttl: 30s
  renew_every: 10s
notifier:
  enabled: true
  rate_per_sec: 5
  snooze_options: [10m, 1h]
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseFileFormats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "json", file: "config.json", body: sampleJSON},
		{name: "yaml", file: "config.yaml", body: sampleYAML},
		{name: "yml", file: "config.yml", body: sampleYAML},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := ParseFile(writeFile(t, dir, tt.file, tt.body))
			if err != nil {
				t.Fatalf("ParseFile: %v", err)
			}
			if cfg.Telegram.Token != "123:abc" || cfg.Storage.Driver != "sqlite" {
				t.Fatalf("unexpected config: %+v", cfg)
			}
			if cfg.Scheduler.LockTTLMillis != 60000 || cfg.Scheduler.BatchSize != 25 {
				t.Fatalf("scheduler = %+v", cfg.Scheduler)
			}
			if cfg.Notifier == nil || len(cfg.Notifier.SnoozeOptions) != 2 || cfg.Notifier.SnoozeOptions[1] != "1h" {
				t.Fatalf("notifier = %+v", cfg.Notifier)
			}
		})
	}
}

func TestParseFileRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "unknown field", file: "a.json", body: `{"scheduler": {"workers": 2}}`, want: "unknown field"},
		{name: "trailing data", file: "b.json", body: `{} {}`, want: "trailing data"},
		{name: "bad yaml", file: "c.yaml", body: "scheduler: [", want: "yaml"},
		{name: "yaml unknown field", file: "d.yaml", body: "leader:\n  term: 5\n", want: "unknown field"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseFile(writeFile(t, dir, tt.file, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEffectiveNotifierDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	if n := cfg.EffectiveNotifier(); !n.Enabled || n.RatePerSec != 3 {
		t.Fatalf("omitted notifier = %+v", n)
	}
	cfg.Notifier = &NotifierConfig{Enabled: false}
	if n := cfg.EffectiveNotifier(); n.Enabled {
		t.Fatal("explicit disable ignored")
	}
}

func TestManagerPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	first.Logging.Level = "debug"
	second.Logging.Level = "warn"
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("got %+v, want newest config", got)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
	m.publish(first) // no subscribers: must not panic
}

func TestManagerReloadValidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", sampleJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file published")
	}

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Scheduler.BatchSize > 100 {
			return errors.New("batch too large")
		}
		return nil
	})
	writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"batch_size": 25`, `"batch_size": 500`, 1))
	if m.reload(context.Background()) {
		t.Fatal("invalid config published")
	}
	if m.Get().Scheduler.BatchSize != 25 {
		t.Fatalf("rejected config committed: %d", m.Get().Scheduler.BatchSize)
	}

	writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"batch_size": 25`, `"batch_size": 50`, 1))
	if !m.reload(context.Background()) {
		t.Fatal("valid change not published")
	}
	select {
	case cfg := <-ch:
		if cfg.Scheduler.BatchSize != 50 {
			t.Fatalf("published batch = %d", cfg.Scheduler.BatchSize)
		}
	default:
		t.Fatal("subscriber got nothing")
	}
}

func TestManagerWatchPublishesChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Keep rewriting until the watcher is up and picks the change.
	updated := strings.Replace(sampleYAML, "level: info", "level: debug", 1)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		writeFile(t, dir, "config.yaml", updated)
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-ctx.Done():
			t.Fatal("no reload published")
		case <-tick.C:
		}
	}
}
