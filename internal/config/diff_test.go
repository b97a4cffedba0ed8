package config

import (
	"reflect"
	"testing"
)

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram:  TelegramConfig{Token: "t1", PollTimeout: "10s"},
			Storage:   StorageConfig{Driver: "sqlite", Path: "a.db"},
			Scheduler: SchedulerConfig{Enabled: true, PollInterval: "10s"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		want    []string
		restart []string
	}{
		{name: "none", mutate: func(*Config) {}, want: []string{}},
		{name: "whitespace only", mutate: func(c *Config) { c.Telegram.PollTimeout = " 10s " }, want: []string{}},
		{name: "token", mutate: func(c *Config) { c.Telegram.Token = "t2" }, want: []string{"telegram.token"}, restart: []string{"telegram.token"}},
		{name: "scheduler", mutate: func(c *Config) { c.Scheduler.BatchSize = 10 }, want: []string{"scheduler"}},
		{
			name:    "storage and logging",
			mutate:  func(c *Config) { c.Storage.Path = "b.db"; c.Logging.Level = "debug" },
			want:    []string{"logging", "storage"},
			restart: []string{"storage"},
		},
		{name: "explicit default notifier", mutate: func(c *Config) { n := DefaultNotifier(); c.Notifier = &n }, want: []string{}},
		{name: "observability token", mutate: func(c *Config) { c.Observability.Token = "s3cret" }, want: []string{"observability"}},
		{name: "leader", mutate: func(c *Config) { c.Leader.LeaseTTL = "45s" }, want: []string{"leader"}, restart: []string{"leader"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := base()
			tt.mutate(next)
			got, _ := SummarizeConfigChange(base(), next)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("changed = %v, want %v", got, tt.want)
			}
			if r := RestartRequired(got); !reflect.DeepEqual(r, tt.restart) {
				t.Fatalf("restart = %v, want %v", r, tt.restart)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "", want: "0s"},
		{raw: " 90s ", want: "1m30s"},
		{raw: "soon", wantErr: true},
		{raw: "-1s", wantErr: true},
	}
	for _, tt := range tests {
		d, err := ParseDurationField("x", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v", tt.raw, err)
		}
		if err == nil && d.String() != tt.want {
			t.Fatalf("%q: got %v, want %s", tt.raw, d, tt.want)
		}
	}
}

func TestParseMinutesField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "30", want: 30},
		{raw: "1h", want: 60},
		{raw: " 15m ", want: 15},
		{raw: "90s", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "2000", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMinutesField("snooze", tt.raw, 1440)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v", tt.raw, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("%q: got %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestYAMLAsJSONAnchors(t *testing.T) {
	t.Parallel()
	in := []byte("timeouts: &t 5s\nstorage:\n  driver: memory\n  op_timeout: *t\nlist: [1, true, ~]\n")
	got, err := yamlAsJSON(in)
	if err != nil {
		t.Fatalf("yamlAsJSON: %v", err)
	}
	want := `{"list":[1,true,null],"storage":{"driver":"memory","op_timeout":"5s"},"timeouts":"5s"}`
	if string(got) != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}

	if _, err := yamlAsJSON([]byte("? [a, b]\n: c\n")); err == nil {
		t.Fatal("expected error for non-scalar key")
	}
}
