package metrics

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/sitedev/internal/develop"
	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// Bridge translates orchestrator observations into Recorder calls.
type Bridge struct {
	bus       *events.Bus
	rec       Recorder
	readyOnce sync.Once
	ready     chan struct{}
}

func NewBridge(bus *events.Bus, rec Recorder) *Bridge {
	if rec == nil {
		rec = NoopRecorder{}
	}
	return &Bridge{bus: bus, rec: rec, ready: make(chan struct{})}
}

// Ready is closed once Run has subscribed.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

func (b *Bridge) Run(ctx context.Context) error {
	if b.bus == nil {
		return ferrors.ValidationError("bus is required").Build()
	}
	ch, unsubscribe := events.Subscribe[events.Observation](b.bus, 256)
	defer unsubscribe()
	b.readyOnce.Do(func() { close(b.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			b.record(evt)
		}
	}
}

func (b *Bridge) record(evt events.Observation) {
	switch e := evt.(type) {
	case events.StateEntered:
		b.rec.IncTransition(e.To)
		if e.To == string(develop.StateCommittingBatch) {
			b.rec.SetPendingMutations(0)
		}
	case events.PhaseFinished:
		b.rec.ObservePhaseDuration(e.State, e.Duration)
		switch {
		case e.Err == nil:
			b.rec.IncPhaseResult(e.State, ResultSuccess)
		case e.Fatal:
			b.rec.IncPhaseResult(e.State, ResultFatal)
		default:
			b.rec.IncPhaseResult(e.State, ResultError)
		}
	case events.MutationDeferred:
		b.rec.IncMutation(e.Kind, DispositionDeferred)
		b.rec.SetPendingMutations(e.Pending)
	case events.MutationApplied:
		if e.Err != nil {
			b.rec.IncMutation(e.Kind, DispositionFailed)
		} else {
			b.rec.IncMutation(e.Kind, DispositionApplied)
		}
	case events.MutationDropped:
		if e.Reason == develop.DropInvalid {
			b.rec.IncMutation(e.Kind, DispositionInvalid)
		} else {
			b.rec.IncMutation(e.Kind, DispositionUnknown)
		}
	case events.BatchCommitted:
		b.rec.ObserveBatch(e.Size, e.Cause, e.Duration, e.Err == nil)
	case events.RecursionLimitReached:
		b.rec.IncRecursionLimit()
	}
}
