package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultAutoInterval is how often RunAuto attempts a sync
const DefaultAutoInterval = 5 * time.Minute

// Reachable probes the server with a short timeout
func (e *Engine) Reachable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()
	_, err := e.remote.HealthCheck(probeCtx)
	if err != nil {
		slog.Debug("autosync: server unreachable", "err", err)
		return false
	}
	return true
}

// RunAuto syncs on every tick of interval until ctx ends. A tick is skipped
// silently while a sync is running or the server is unreachable. The first
// attempt happens immediately.
func (e *Engine) RunAuto(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultAutoInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.autoTick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) autoTick(ctx context.Context) {
	if ctx.Err() != nil || e.State() == StateSyncing {
		return
	}
	if !e.Reachable(ctx) {
		return
	}
	if _, err := e.FullSync(ctx); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			return
		}
		slog.Debug("autosync: cycle failed", "err", err)
	}
}
