package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"remindbot/internal/action"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	answers map[string]string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	f.answers[id] = text
	return nil
}

type fakeActions struct {
	calls []action.Token
	owner int64
	err   error
	panic bool
}

func (f *fakeActions) Handle(_ context.Context, owner int64, tok action.Token) (action.Reply, error) {
	if f.panic {
		panic("handler bug")
	}
	f.calls = append(f.calls, tok)
	f.owner = owner
	if f.err != nil {
		return action.Reply{}, f.err
	}
	return action.Reply{Text: "ok " + tok.ID}, nil
}

func callback(id, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: id, ChatID: 55, FromID: 9, Data: data}}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		up         kit.Update
		claimed    bool
		calls      int
		answer     string
		wantAnswer bool
	}{
		{name: "done", up: callback("c1", "rem:done:r1"), claimed: true, calls: 1, answer: "ok r1", wantAnswer: true},
		{name: "snooze", up: callback("c2", "rem:sz:r2:10"), claimed: true, calls: 1, answer: "ok r2", wantAnswer: true},
		{name: "malformed in namespace", up: callback("c3", "rem:sz:r2:abc"), claimed: true, answer: "", wantAnswer: true},
		{name: "foreign namespace", up: callback("c4", "menu:open"), claimed: false},
		{name: "message", up: kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{Text: "/start"}}, claimed: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ad := &fakeAdapter{}
			acts := &fakeActions{}
			r := New(Config{}, ad, acts, logx.Nop())
			if got := r.Dispatch(context.Background(), tt.up); got != tt.claimed {
				t.Fatalf("Dispatch() = %v, want %v", got, tt.claimed)
			}
			if len(acts.calls) != tt.calls {
				t.Fatalf("handler calls = %d, want %d", len(acts.calls), tt.calls)
			}
			if tt.calls > 0 && acts.owner != 55 {
				t.Fatalf("owner = %d, want chat id 55", acts.owner)
			}
			if tt.up.Callback == nil {
				return
			}
			got, answered := ad.answers[tt.up.Callback.ID]
			if answered != tt.wantAnswer || got != tt.answer {
				t.Fatalf("answer = %q (answered=%v), want %q (answered=%v)", got, answered, tt.answer, tt.wantAnswer)
			}
		})
	}
}

func TestDispatchHandlerFailures(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := New(Config{}, ad, &fakeActions{err: errors.New("store down")}, logx.Nop())
	r.Dispatch(context.Background(), callback("c1", "rem:done:r1"))
	if ad.answers["c1"] == "" {
		t.Fatal("user must get an error answer")
	}

	r = New(Config{}, ad, &fakeActions{panic: true}, logx.Nop())
	if !r.Dispatch(context.Background(), callback("c2", "rem:done:r1")) {
		t.Fatal("panicking handler must still claim the update")
	}
}

func TestRunStopsOnClose(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	acts := &fakeActions{}
	r := New(Config{}, ad, acts, logx.Nop())
	in := make(chan kit.Update, 2)
	in <- callback("c1", "rem:done:r1")
	close(in)
	if err := r.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(acts.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(acts.calls))
	}
}

func TestChatThrottle(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	acts := &fakeActions{}
	r := New(Config{ChatRate: 0.001, ChatBurst: 2}, ad, acts, logx.Nop())
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		r.Dispatch(ctx, callback(id, "rem:done:r1"))
	}
	if len(acts.calls) != 2 {
		t.Fatalf("calls = %d, want 2 within burst", len(acts.calls))
	}
	if got := ad.answers["c3"]; got != "Too many taps, give it a second." {
		t.Fatalf("throttled answer = %q", got)
	}

	other := kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "o1", ChatID: 56, FromID: 9, Data: "rem:done:r2"}}
	r.Dispatch(ctx, other)
	if len(acts.calls) != 3 {
		t.Fatal("another chat must have its own budget")
	}
}
