package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/action"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

var DefaultSnoozeOptions = []time.Duration{10 * time.Minute, time.Hour}

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.adapter != nil
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.SnoozeOptions == nil {
		cfg.SnoozeOptions = DefaultSnoozeOptions
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	s.cfg = cfg
	// Burst equals the per-second rate so a full batch can go out without stalling.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers d and returns only after the transport accepted or rejected it.
func (s *Service) Send(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if !cfg.Enabled || s.adapter == nil {
		return ErrDisabled
	}
	if d.Target.ChatID == 0 {
		return errors.New("notifier: empty chat target")
	}
	if strings.TrimSpace(d.Content.Text) == "" {
		return errors.New("notifier: empty message text")
	}

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: rate limit: %w", err)
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	opt := &kit.SendOptions{DisablePreview: true, Entities: entities(d.Content.Spans)}
	if d.Controls && d.ReminderID != "" {
		opt.Buttons = Controls(d.ReminderID, cfg.SnoozeOptions)
	}

	ref, err := s.adapter.SendText(sctx, d.Target, d.Content.Text, opt)
	item := HistoryItem{At: time.Now(), ChatID: d.Target.ChatID, ReminderID: d.ReminderID, MessageID: ref.MessageID}
	if err != nil {
		item.Error = err.Error()
		s.record(item, cfg.HistorySize)
		s.log.Warn("delivery failed", logx.Int64("chat_id", d.Target.ChatID), logx.String("reminder_id", d.ReminderID), logx.Err(err))
		return fmt.Errorf("notifier: send: %w", err)
	}
	s.record(item, cfg.HistorySize)
	s.log.Debug("delivered", logx.Int64("chat_id", d.Target.ChatID), logx.String("reminder_id", d.ReminderID), logx.Int("message_id", ref.MessageID))
	return nil
}

// History returns recent deliveries, newest last.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) record(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// Controls builds the inline keyboard for a delivered reminder: Done on the
// first row, one Snooze button per option on the second.
func Controls(reminderID string, snooze []time.Duration) [][]kit.Button {
	rows := [][]kit.Button{{{Text: "✅ Done", Data: action.DoneToken(reminderID)}}}
	var row []kit.Button
	for _, d := range snooze {
		min := int(d / time.Minute)
		if min <= 0 {
			continue
		}
		row = append(row, kit.Button{Text: "⏰ " + FormatMinutes(min), Data: action.SnoozeToken(reminderID, min)})
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// FormatMinutes renders a snooze length compactly: 10m, 1h, 1h30m, 1d.
func FormatMinutes(min int) string {
	if min <= 0 {
		return "0m"
	}
	var b strings.Builder
	if d := min / 1440; d > 0 {
		fmt.Fprintf(&b, "%dd", d)
		min %= 1440
	}
	if h := min / 60; h > 0 {
		fmt.Fprintf(&b, "%dh", h)
		min %= 60
	}
	if min > 0 {
		fmt.Fprintf(&b, "%dm", min)
	}
	return b.String()
}
