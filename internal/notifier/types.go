package notifier

import (
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
)

type Config struct {
	Enabled     bool
	RatePerSec  int
	SendTimeout time.Duration
	// SnoozeOptions are offered as inline buttons, in order.
	SnoozeOptions []time.Duration
	HistorySize   int
}

// Delivery is one message to send.
type Delivery struct {
	Target     kit.ChatTarget
	ReminderID string
	Content    reminder.Content
	// Controls attaches Done and Snooze buttons bound to ReminderID.
	Controls bool
}

type HistoryItem struct {
	At         time.Time
	ChatID     int64
	ReminderID string
	MessageID  int
	Error      string
}
