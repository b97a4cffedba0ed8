// Package router consumes transport updates and hands reminder callbacks to
// the action handler. Callbacks outside the reminder namespace and plain
// messages are ignored.
package router

import (
	"context"
	"time"

	"remindbot/internal/action"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// ActionHandler applies a decoded token for the chat that owns the reminder.
type ActionHandler interface {
	Handle(ctx context.Context, owner int64, tok action.Token) (action.Reply, error)
}

type Request struct {
	Update kit.Update
	ChatID int64
	FromID int64
	Token  action.Token
}

type Config struct {
	// Timeout bounds one callback, including the reply to the user.
	Timeout time.Duration
	// ChatRate is the sustained presses per second allowed per chat; zero
	// disables throttling.
	ChatRate  float64
	ChatBurst int
}

type Router struct {
	adapter kit.Adapter
	actions ActionHandler
	log     logx.Logger
	handle  HandlerFunc
}

func New(cfg Config, adapter kit.Adapter, actions ActionHandler, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	r := &Router{adapter: adapter, actions: actions, log: log.With(logx.String("comp", "router"))}
	r.handle = Chain(r.callback,
		withAccessLog(r.log),
		withChatThrottle(cfg.ChatRate, cfg.ChatBurst, r.slowDown),
		withRecover(r.log),
		withTimeout(cfg.Timeout),
	)
	return r
}

// Run consumes updates until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-in:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, up)
		}
	}
}

// Dispatch routes one update. It reports whether the update was claimed.
func (r *Router) Dispatch(ctx context.Context, up kit.Update) bool {
	if up.Kind != kit.UpdateCallback || up.Callback == nil {
		return false
	}
	cb := up.Callback
	if !action.HasNamespace(cb.Data) {
		return false
	}
	tok := action.Parse(cb.Data)
	if tok.Kind == action.KindUnrecognized {
		// Clear the button spinner without telling the user anything.
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return true
	}
	_ = r.handle(ctx, &Request{Update: up, ChatID: cb.ChatID, FromID: cb.FromID, Token: tok})
	return true
}

func (r *Router) slowDown(ctx context.Context, req *Request) {
	_ = r.adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Too many taps, give it a second.")
}

func (r *Router) callback(ctx context.Context, req *Request) error {
	reply, err := r.actions.Handle(ctx, req.ChatID, req.Token)
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Something went wrong, please try again.")
		return err
	}
	return r.adapter.AnswerCallback(ctx, req.Update.Callback.ID, reply.Text)
}
