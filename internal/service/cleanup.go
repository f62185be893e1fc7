package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CleanupWorker runs the token sweep on a fixed interval
type CleanupWorker struct {
	tokens   TokenService
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCleanupWorker creates a worker; call Start to begin sweeping
func NewCleanupWorker(tokens TokenService, interval time.Duration, logger *zap.Logger) *CleanupWorker {
	return &CleanupWorker{
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RunOnce performs one sweep and logs the counts
func (w *CleanupWorker) RunOnce(ctx context.Context) error {
	result, err := w.tokens.CleanupExpired(ctx, w.now())
	if err != nil {
		w.logger.Error("Token cleanup failed", zap.Error(err))
		return err
	}

	w.logger.Info("Token cleanup completed",
		zap.Int64("revoked", result.Revoked),
		zap.Int64("deleted", result.Deleted),
	)
	return nil
}

// Start sweeps every interval until Stop is called or ctx is done
func (w *CleanupWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info("Token cleanup worker started", zap.Duration("interval", w.interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				_ = w.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the worker and waits for an in-flight sweep to finish
func (w *CleanupWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}
