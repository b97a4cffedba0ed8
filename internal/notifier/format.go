package notifier

import (
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
)

func entities(spans []reminder.Span) []kit.Entity {
	if len(spans) == 0 {
		return nil
	}
	out := make([]kit.Entity, 0, len(spans))
	for _, sp := range spans {
		out = append(out, kit.Entity(sp))
	}
	return out
}
