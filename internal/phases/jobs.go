package phases

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Jobs tracks background work started by query phases. Wait collects the
// current generation of jobs and starts a fresh one.
type Jobs struct {
	limit int

	mu      sync.Mutex
	g       *errgroup.Group
	pending int
}

// NewJobs returns a tracker running at most limit jobs at once (<=0 unbounded).
func NewJobs(limit int) *Jobs {
	j := &Jobs{limit: limit}
	j.g = j.newGroup()
	return j
}

func (j *Jobs) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	if j.limit > 0 {
		g.SetLimit(j.limit)
	}
	return g
}

// Go schedules fn. It may block while the limit is reached.
func (j *Jobs) Go(fn func() error) {
	j.mu.Lock()
	g := j.g
	j.pending++
	j.mu.Unlock()
	g.Go(fn)
}

// Pending reports jobs scheduled since the last Wait.
func (j *Jobs) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pending
}

// Wait blocks until every job scheduled so far has finished or ctx is done.
// It returns the first job error.
func (j *Jobs) Wait(ctx context.Context) error {
	j.mu.Lock()
	g := j.g
	j.g = j.newGroup()
	j.pending = 0
	j.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
