package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/eventbus"
	"remindbot/internal/lease"
	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// TimeLayout formats next-occurrence times shown to users.
const TimeLayout = "Mon, 02 Jan 2006 15:04 MST"

const (
	msgGone    = "Reminder no longer exists."
	msgBusy    = "Reminder is being delivered right now, try again in a moment."
	msgDone    = "Done."
	msgInvalid = "Unknown action."
)

// Reply is shown to the user who pressed the button.
type Reply struct {
	Text string
	// Changed reports whether the reminder was updated.
	Changed bool
}

type Handler struct {
	store   storage.Store
	calc    recurrence.Calculator
	locker  *lease.Locker
	owner   string
	lockTTL time.Duration
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
}

type Option func(*Handler)

func WithLockTTL(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.lockTTL = d
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(h *Handler) {
		if bus != nil {
			h.bus = bus
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(store storage.Store, calc recurrence.Calculator, log logx.Logger, opts ...Option) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{
		store:   store,
		calc:    calc,
		owner:   "action:" + uuid.NewString(),
		lockTTL: 30 * time.Second,
		log:     log.With(logx.String("comp", "action")),
		bus:     eventbus.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	h.locker = lease.New(lease.ReminderBackend(store), h.log)
	return h
}

// Handle applies tok on behalf of chat owner. Errors are store failures; a
// missing or foreign reminder is a normal Reply.
func (h *Handler) Handle(ctx context.Context, owner int64, tok Token) (Reply, error) {
	switch tok.Kind {
	case KindDone, KindSnooze:
	default:
		return Reply{Text: msgInvalid}, nil
	}

	r, err := h.store.GetReminder(ctx, tok.ID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && (r.OwnerChat != owner || r.Status == reminder.StatusCancelled)) {
		return Reply{Text: msgGone}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("load reminder: %w", err)
	}

	now := h.now()
	if !h.locker.AcquireOrRenew(ctx, r.ID, h.owner, now, h.lockTTL) {
		return Reply{Text: msgBusy}, nil
	}
	defer h.locker.Release(context.WithoutCancel(ctx), r.ID, h.owner)

	var reply Reply
	switch tok.Kind {
	case KindDone:
		reply, err = h.done(ctx, r, owner, now)
	case KindSnooze:
		reply, err = h.snooze(ctx, r, owner, now, tok.Minutes)
	}
	h.audit(ctx, owner, tok, r.ID, err)
	return reply, err
}

func (h *Handler) done(ctx context.Context, r reminder.Reminder, owner int64, now time.Time) (Reply, error) {
	// Already terminal: a repeated press changes nothing.
	if r.Status == reminder.StatusSent {
		return Reply{Text: msgDone}, nil
	}
	u := storage.StateUpdate{Status: reminder.StatusSent, LastRunAt: &now, At: now, OwnerChat: owner, LockOwner: h.owner}
	var next time.Time
	rearm := false
	if r.Recurring() {
		next, rearm = h.calc.Next(r.Schedule, r.Timezone, now, r.NextRunAt)
		if rearm {
			u.Status = reminder.StatusScheduled
			u.NextRunAt = &next
		}
	}

	ok, err := h.store.UpdateReminderState(ctx, r.ID, u)
	if err != nil {
		return Reply{}, fmt.Errorf("mark done: %w", err)
	}
	if !ok {
		return Reply{Text: msgGone}, nil
	}
	h.bus.Publish(eventbus.Event{Type: eventbus.ReminderDone, ReminderID: r.ID, ChatID: owner})
	h.log.Info("reminder done", logx.String("reminder_id", r.ID), logx.Int64("chat_id", owner), logx.Bool("rearmed", rearm))

	if !rearm {
		return Reply{Text: msgDone, Changed: true}, nil
	}
	loc := h.calc.Location(r.Timezone)
	return Reply{Text: "Done. Next: " + next.In(loc).Format(TimeLayout), Changed: true}, nil
}

// snooze overrides next_run_at once; the schedule itself is left alone.
func (h *Handler) snooze(ctx context.Context, r reminder.Reminder, owner int64, now time.Time, minutes int) (Reply, error) {
	next := now.Add(time.Duration(minutes) * time.Minute)
	ok, err := h.store.UpdateReminderState(ctx, r.ID, storage.StateUpdate{
		Status:    reminder.StatusScheduled,
		NextRunAt: &next,
		At:        now,
		OwnerChat: owner,
		LockOwner: h.owner,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("snooze: %w", err)
	}
	if !ok {
		return Reply{Text: msgGone}, nil
	}
	h.bus.Publish(eventbus.Event{Type: eventbus.ReminderSnoozed, ReminderID: r.ID, ChatID: owner, Data: minutes})
	h.log.Info("reminder snoozed", logx.String("reminder_id", r.ID), logx.Int64("chat_id", owner), logx.Int("minutes", minutes))

	loc := h.calc.Location(r.Timezone)
	return Reply{Text: "Snoozed until " + next.In(loc).Format(TimeLayout), Changed: true}, nil
}

func (h *Handler) audit(ctx context.Context, owner int64, tok Token, id string, err error) {
	e := storage.AuditEntry{
		At:         h.now(),
		ActorID:    owner,
		ChatID:     owner,
		Action:     tok.Kind.String(),
		ReminderID: id,
		OK:         err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if tok.Kind == KindSnooze {
		e.Meta = fmt.Sprintf("minutes=%d", tok.Minutes)
	}
	if aerr := h.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		h.log.Debug("audit append failed", logx.Err(aerr))
	}
}
