package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/sitedev/internal/logfields"
)

// WorkerGroup tracks the goroutines a Daemon owns. Add is never called
// concurrently with Wait: once StopAndWait has begun, Go refuses new work.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
	logger   *slog.Logger
}

func newWorkerGroup(logger *slog.Logger) *WorkerGroup {
	return &WorkerGroup{logger: logger}
}

// Go runs fn under name. A non-nil error other than context cancellation
// is logged. It reports false if the group is stopping.
func (g *WorkerGroup) Go(name string, fn func() error) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) && g.logger != nil {
			g.logger.Error("Worker exited with error", slog.String("worker", name), logfields.Error(err))
		}
	}()
	return true
}

// StopAndWait refuses new workers and waits for running ones, bounded by ctx.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
