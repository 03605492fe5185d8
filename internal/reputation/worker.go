package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/metrics"
)

// Refresher is the part of Service the worker drives.
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Worker periodically recomputes every record so inactivity decay and the
// trend window advance without new events.
type Worker struct {
	refresher Refresher
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewWorker creates a refresh worker.
// interval is typically 24 hours in production, seconds in development.
func NewWorker(refresher Refresher, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the refresh loop is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Start begins the refresh loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.safeRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeRefresh(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RefreshRunsTotal.WithLabelValues("panic").Inc()
			w.logger.Error("panic in reputation refresh", "panic", fmt.Sprint(r))
		}
	}()
	w.refresh(ctx)
}

func (w *Worker) refresh(ctx context.Context) {
	start := time.Now()
	n, err := w.refresher.RefreshAll(ctx)
	if err != nil {
		metrics.RefreshRunsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("reputation refresh incomplete", "error", err, "refreshed", n)
		return
	}
	metrics.RefreshRunsTotal.WithLabelValues("ok").Inc()
	if n > 0 {
		w.logger.Info("reputation refresh completed", "records", n, "duration", time.Since(start))
	}
}
