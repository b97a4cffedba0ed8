package action

import (
	"context"
	"testing"
	"time"

	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Wednesday.
var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newHandler(t *testing.T) (*Handler, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	h := NewHandler(st, recurrence.New("UTC"), logx.Nop(), WithClock(func() time.Time { return testNow }))
	return h, st
}

func seed(t *testing.T, st storage.Store, chat int64, s reminder.Schedule, next time.Time) reminder.Reminder {
	t.Helper()
	r := reminder.Reminder{
		OwnerChat: chat,
		Content:   reminder.Content{Text: "stretch"},
		Timezone:  "UTC",
		Schedule:  s,
		NextRunAt: &next,
	}
	if err := st.CreateReminder(context.Background(), &r); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	return r
}

func mustGet(t *testing.T, st storage.Store, id string) reminder.Reminder {
	t.Helper()
	r, err := st.GetReminder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	return r
}

func TestDoneOnOnceMarksSent(t *testing.T) {
	t.Parallel()
	h, st := newHandler(t)
	r := seed(t, st, 7, reminder.Once(), testNow.Add(-time.Minute))

	reply, err := h.Handle(context.Background(), 7, Token{Kind: KindDone, ID: r.ID})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Text != "Done." || !reply.Changed {
		t.Fatalf("reply = %+v", reply)
	}
	got := mustGet(t, st, r.ID)
	if got.Status != reminder.StatusSent || got.NextRunAt != nil {
		t.Fatalf("status=%s next=%v, want sent and nil", got.Status, got.NextRunAt)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(testNow) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, testNow)
	}
	if got.Lock != nil {
		t.Fatalf("lock not released: %+v", got.Lock)
	}

	// A duplicate press is harmless.
	reply, err = h.Handle(context.Background(), 7, Token{Kind: KindDone, ID: r.ID})
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if reply.Changed {
		t.Fatal("second done must not change anything")
	}
	if again := mustGet(t, st, r.ID); !again.UpdatedAt.Equal(got.UpdatedAt) {
		t.Fatal("second done rewrote the reminder")
	}
}

func TestDoneOnWeeklyRearms(t *testing.T) {
	t.Parallel()
	h, st := newHandler(t)
	r := seed(t, st, 7, reminder.Weekly("09:00", time.Monday), testNow.Add(-time.Hour))

	reply, err := h.Handle(context.Background(), 7, Token{Kind: KindDone, ID: r.ID})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	want := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	if reply.Text != "Done. Next: "+want.Format(TimeLayout) {
		t.Fatalf("reply = %q", reply.Text)
	}
	got := mustGet(t, st, r.ID)
	if got.Status != reminder.StatusScheduled || got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("status=%s next=%v, want scheduled at %v", got.Status, got.NextRunAt, want)
	}

	// Pressing again computes the same next occurrence.
	if _, err := h.Handle(context.Background(), 7, Token{Kind: KindDone, ID: r.ID}); err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if again := mustGet(t, st, r.ID); !again.NextRunAt.Equal(want) {
		t.Fatalf("second done moved next to %v", again.NextRunAt)
	}
}

func TestSnoozeOverridesWeekly(t *testing.T) {
	t.Parallel()
	h, st := newHandler(t)
	monday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	r := seed(t, st, 7, reminder.Weekly("09:00", time.Monday), monday)

	reply, err := h.Handle(context.Background(), 7, Token{Kind: KindSnooze, ID: r.ID, Minutes: 15})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	want := testNow.Add(15 * time.Minute)
	if reply.Text != "Snoozed until "+want.Format(TimeLayout) {
		t.Fatalf("reply = %q", reply.Text)
	}
	got := mustGet(t, st, r.ID)
	if got.Status != reminder.StatusScheduled || !got.NextRunAt.Equal(want) {
		t.Fatalf("status=%s next=%v, want scheduled at %v", got.Status, got.NextRunAt, want)
	}
	if got.Schedule.Kind != reminder.KindWeekly || len(got.Schedule.Weekdays) != 1 || got.Schedule.Weekdays[0] != time.Monday {
		t.Fatalf("schedule changed: %+v", got.Schedule)
	}
}

func TestHandleRejects(t *testing.T) {
	t.Parallel()
	h, st := newHandler(t)
	r := seed(t, st, 7, reminder.Once(), testNow)
	cancelled := seed(t, st, 7, reminder.Once(), testNow)
	if ok, err := st.CancelReminder(context.Background(), cancelled.ID, 7); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	tests := []struct {
		name  string
		owner int64
		tok   Token
		want  string
	}{
		{name: "unrecognized", owner: 7, tok: Parse("rem:bogus:1"), want: msgInvalid},
		{name: "missing", owner: 7, tok: Token{Kind: KindDone, ID: "nope"}, want: msgGone},
		{name: "foreign chat", owner: 8, tok: Token{Kind: KindDone, ID: r.ID}, want: msgGone},
		{name: "cancelled", owner: 7, tok: Token{Kind: KindSnooze, ID: cancelled.ID, Minutes: 5}, want: msgGone},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			reply, err := h.Handle(context.Background(), tt.owner, tt.tok)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if reply.Text != tt.want || reply.Changed {
				t.Fatalf("reply = %+v, want %q", reply, tt.want)
			}
		})
	}
	if got := mustGet(t, st, r.ID); got.Status != reminder.StatusScheduled {
		t.Fatalf("foreign press changed status to %s", got.Status)
	}
}

func TestHandleWhileDispatching(t *testing.T) {
	t.Parallel()
	h, st := newHandler(t)
	r := seed(t, st, 7, reminder.Once(), testNow)
	if ok, _ := st.LockReminder(context.Background(), r.ID, "poller", testNow, time.Minute); !ok {
		t.Fatal("poller lock")
	}

	reply, err := h.Handle(context.Background(), 7, Token{Kind: KindDone, ID: r.ID})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Text != msgBusy {
		t.Fatalf("reply = %q, want busy", reply.Text)
	}
	got := mustGet(t, st, r.ID)
	if got.Status != reminder.StatusScheduled || got.Lock == nil || got.Lock.OwnerID != "poller" {
		t.Fatalf("reminder disturbed: %+v", got)
	}
}
