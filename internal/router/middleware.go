package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	logx "remindbot/pkg/logx"
)

// ErrThrottled is returned when a chat presses buttons faster than allowed.
var ErrThrottled = errors.New("router: chat throttled")

var callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "remindbot_callbacks_total",
	Help: "Reminder button presses by action and result.",
}, []string{"action", "result"})

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func withRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					log.Error("callback panic",
						logx.String("reminder_id", req.Token.ID),
						logx.Any("panic", p),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("callback panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

// withAccessLog logs and counts every callback that reaches the handler.
func withAccessLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			dur := time.Since(start)

			result := "ok"
			switch {
			case errors.Is(err, ErrThrottled):
				result = "throttled"
			case err != nil:
				result = "error"
			}
			callbacksTotal.WithLabelValues(req.Token.Kind.String(), result).Inc()

			fields := []logx.Field{
				logx.String("action", req.Token.Kind.String()),
				logx.String("reminder_id", req.Token.ID),
				logx.Int64("chat_id", req.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.Duration("dur", dur),
			}
			switch {
			case result == "error":
				log.Warn("callback failed", append(fields, logx.Err(err))...)
			case result == "throttled":
				log.Debug("callback throttled", fields...)
			case dur >= 750*time.Millisecond:
				log.Info("callback slow", fields...)
			default:
				log.Debug("callback ok", fields...)
			}
			return err
		}
	}
}

// chatLimiter hands out one token bucket per chat.
type chatLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets map[int64]*rate.Limiter
}

func newChatLimiter(perSec float64, burst int) *chatLimiter {
	if burst < 1 {
		burst = 1
	}
	return &chatLimiter{every: rate.Limit(perSec), burst: burst, buckets: map[int64]*rate.Limiter{}}
}

func (c *chatLimiter) allow(chatID int64) bool {
	c.mu.Lock()
	l, ok := c.buckets[chatID]
	if !ok {
		// Bound memory on busy bots; a reset only forgives recent presses.
		if len(c.buckets) >= 4096 {
			c.buckets = map[int64]*rate.Limiter{}
		}
		l = rate.NewLimiter(c.every, c.burst)
		c.buckets[chatID] = l
	}
	c.mu.Unlock()
	return l.Allow()
}

// withChatThrottle rejects presses beyond the per-chat budget. onReject runs
// before ErrThrottled is returned. A non-positive rate disables the throttle.
func withChatThrottle(perSec float64, burst int, onReject func(ctx context.Context, req *Request)) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if perSec <= 0 {
			return next
		}
		lim := newChatLimiter(perSec, burst)
		return func(ctx context.Context, req *Request) error {
			if !lim.allow(req.ChatID) {
				if onReject != nil {
					onReject(ctx, req)
				}
				return ErrThrottled
			}
			return next(ctx, req)
		}
	}
}
