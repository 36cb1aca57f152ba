package gameserver

import (
	"context"

	"go.uber.org/zap"

	"matchqueue/internal/clock"
)

// Reap runs one eviction pass over r, dropping every GameServer whose
// queue is empty and whose processing loop has fully stopped. It
// generalizes the teacher's janitor.go sweep (which dropped ServerEntry
// rows past a stale-server TTL) to "nothing left to track" instead of a
// time-based eviction window, since an idle GameServer here carries no
// state worth retaining once TryRemove's preconditions hold.
func Reap(r *Registry, log *zap.Logger) int {
	evicted := 0
	for _, srv := range r.Snapshot() {
		if r.TryRemove(srv.Key()) {
			evicted++
			if log != nil {
				log.Debug("reaped idle game server", zap.String("server", srv.Key()))
			}
		}
	}
	return evicted
}

// RunReaper blocks, calling Reap every tick until ctx is done.
func RunReaper(ctx context.Context, r *Registry, tick clock.Ticker, log *zap.Logger) {
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C():
			Reap(r, log)
		}
	}
}
