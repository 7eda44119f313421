package develop

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
)

const (
	flushBySize   = "size"
	flushByWindow = "window"
)

// batchFull reports whether the pending batch reached the size threshold.
func (m *Machine) batchFull() bool {
	return len(m.bctx.NodeMutationBatch) >= m.opts.BatchSize
}

// startBatchWindow arms the flush timer. A fresh timer per entry means a
// timer from an earlier cycle can never be selected again.
func (m *Machine) startBatchWindow() {
	m.stopBatchWindow()
	m.batchTimer = time.NewTimer(m.opts.BatchWindow)
	m.batchC = m.batchTimer.C
}

func (m *Machine) stopBatchWindow() {
	if m.batchTimer != nil {
		m.batchTimer.Stop()
	}
	m.batchTimer = nil
	m.batchC = nil
}

// startCommit swaps the pending batch into the running batch and fans the
// mutations out. The outcome arrives on m.results.
func (m *Machine) startCommit(ctx context.Context) {
	m.bctx.RunningBatch = m.bctx.NodeMutationBatch
	m.bctx.NodeMutationBatch = nil
	m.bctx.DeferNodeMutation = false

	batch := slices.Clone(m.bctx.RunningBatch)
	batchID := uuid.NewString()
	store := m.bctx.mutationStore()

	m.logger.Info("Committing mutation batch",
		logfields.SessionID(m.opts.SessionID),
		logfields.BatchID(batchID),
		logfields.BatchSize(len(batch)),
		logfields.Source(m.flushCause))

	go func() {
		start := time.Now()
		err := commitBatch(ctx, m.exec, store, batch, m.opts.CommitConcurrency)
		m.results <- outcome{state: StateCommittingBatch, err: err, duration: time.Since(start), batchID: batchID}
	}()
}

// commitBatch applies every request and waits for all of them. The first
// error cancels the remaining ones.
func commitBatch(ctx context.Context, exec mutation.Executor, store mutation.Store, batch []mutation.Request, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, req := range batch {
		g.Go(func() error {
			return exec.Execute(gctx, store, req)
		})
	}
	return g.Wait()
}

func (m *Machine) finishCommit(ctx context.Context, out outcome) {
	batch := m.bctx.RunningBatch
	evt := events.BatchCommitted{
		SessionID: m.opts.SessionID,
		BatchID:   out.batchID,
		Size:      len(batch),
		Requests:  slices.Clone(batch),
		Cause:     m.flushCause,
		Duration:  out.duration,
	}

	if out.err != nil {
		err := ferrors.WrapError(out.err, ferrors.CategoryMutation, "batch commit failed").
			Fatal().
			WithContext("batch_id", out.batchID).
			WithContext("size", len(batch)).Build()
		m.lastErr = err
		evt.Err = err
		m.bus.Notify(evt)
		m.logger.Error("Mutation batch failed; develop session cannot continue",
			logfields.SessionID(m.opts.SessionID),
			logfields.BatchID(out.batchID),
			logfields.Error(err))
		m.transition(ctx, StateFailed)
		return
	}

	m.bctx.RunningBatch = nil
	m.commits++
	m.bus.Notify(evt)
	m.logger.Info("Mutation batch committed",
		logfields.SessionID(m.opts.SessionID),
		logfields.BatchID(out.batchID),
		logfields.BatchSize(len(batch)),
		logfields.Duration(out.duration))
	m.transition(ctx, StateBuildingSchema)
}
