package reputation

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (c *countingRefresher) RefreshAll(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if c.panic {
		panic("boom")
	}
	return 3, c.err
}

func TestWorker_RunsImmediatelyAndOnTick(t *testing.T) {
	r := &countingRefresher{}
	w := NewWorker(r, 20*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.calls.Load() < 3 {
		t.Fatalf("expected at least 3 refresh runs, got %d", r.calls.Load())
	}
	if !w.Running() {
		t.Error("expected worker to report running")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	if w.Running() {
		t.Error("expected worker to report stopped")
	}
}

func TestWorker_SurvivesErrorsAndPanics(t *testing.T) {
	for _, r := range []*countingRefresher{
		{err: errors.New("db down")},
		{panic: true},
	} {
		w := NewWorker(r, 10*time.Millisecond, slog.Default())
		go w.Start(context.Background())

		deadline := time.Now().Add(2 * time.Second)
		for r.calls.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if r.calls.Load() < 2 {
			t.Errorf("expected worker to keep running after failure, got %d runs", r.calls.Load())
		}
		for w.Running() && time.Now().Before(deadline) {
			w.Stop()
			time.Sleep(5 * time.Millisecond)
		}
	}
}
