package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically expires stale messages from the transcript store.
// It runs outside any request path and stops when its context is
// cancelled.
type Sweeper struct {
	store     *SQLiteStore
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper creates a sweeper for the given retention window.
func NewSweeper(s *SQLiteStore, retention, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: s, retention: retention, interval: interval, logger: logger}
}

// Run blocks, sweeping on each tick until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *Sweeper) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	messages, sessions, err := w.store.Sweep(sweepCtx, w.retention)
	if err != nil {
		w.logger.Warn("retention sweep failed", zap.Error(err))
		return
	}
	if messages > 0 || sessions > 0 {
		w.logger.Info("retention sweep",
			zap.Int64("messages_removed", messages),
			zap.Int64("sessions_removed", sessions))
	}
}
