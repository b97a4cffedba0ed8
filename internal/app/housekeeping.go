package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"remindbot/internal/leader"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const housekeepingTrigger = "housekeeping"

// housekeeper is a leader-only singleton duty: it prunes lease records that
// expired long ago and samples store stats.
type housekeeper struct {
	store storage.Store
	guard func() error
	log   logx.Logger
	now   func() time.Time

	retention atomic.Int64 // nanoseconds
}

func newHousekeeper(store storage.Store, guard func() error, retention time.Duration, log logx.Logger) *housekeeper {
	h := &housekeeper{
		store: store,
		guard: guard,
		log:   log.With(logx.String("comp", "housekeeping")),
		now:   time.Now,
	}
	h.setRetention(retention)
	return h
}

func (h *housekeeper) setRetention(d time.Duration) { h.retention.Store(int64(d)) }

// run reports whether the pass did any work.
func (h *housekeeper) run(ctx context.Context) bool {
	if err := h.guard(); err != nil {
		if errors.Is(err, leader.ErrNotLeader) {
			h.log.Debug("not leader, skipping housekeeping")
		}
		return false
	}

	pruned, err := h.store.PruneLeases(ctx, h.now().Add(-time.Duration(h.retention.Load())))
	if err != nil {
		h.log.Warn("prune leases failed", logx.Err(err))
	} else if pruned > 0 {
		leasesPruned.Add(float64(pruned))
		h.log.Info("pruned expired leases", logx.Int64("count", pruned))
	}

	st, err := h.store.Stats(ctx)
	if err != nil {
		h.log.Warn("store stats failed", logx.Err(err))
		return true
	}
	fields := make([]logx.Field, 0, len(st.ByStatus)+2)
	for status, n := range st.ByStatus {
		remindersByStatus.WithLabelValues(string(status)).Set(float64(n))
		fields = append(fields, logx.Int64(string(status), n))
	}
	remindersDue.Set(float64(st.Due))
	fields = append(fields, logx.Int64("due", st.Due), logx.Int64("leases", st.Leases))
	h.log.Info("store stats", fields...)
	return true
}
