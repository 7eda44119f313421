package daemon

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/sitedev/internal/events"
	"git.home.luguber.info/inful/sitedev/internal/eventstore"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
)

// Recorder appends orchestrator observations to the event store.
type Recorder struct {
	store  eventstore.Store
	bus    *events.Bus
	logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRecorder(store eventstore.Store, bus *events.Bus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, bus: bus, logger: logger, ready: make(chan struct{})}
}

// Ready is closed once Run has subscribed.
func (r *Recorder) Ready() <-chan struct{} { return r.ready }

// SessionStarted writes the opening record of a session.
func (r *Recorder) SessionStarted(ctx context.Context, sessionID string, p eventstore.SessionStartedPayload) error {
	data, err := eventstore.Marshal(p)
	if err != nil {
		return err
	}
	return r.store.Append(ctx, sessionID, eventstore.TypeSessionStarted, data, nil)
}

// Run records observations until ctx is done. Observations already
// buffered at that point are still written.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsubscribe := events.Subscribe[events.Observation](r.bus, 512)
	defer unsubscribe()
	r.readyOnce.Do(func() { close(r.ready) })

	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx), ch)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, evt)
		}
	}
}

func (r *Recorder) drain(ctx context.Context, ch <-chan events.Observation) {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, evt)
		default:
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, evt events.Observation) {
	eventType, payload, meta := toRecord(evt)
	if eventType == "" {
		return
	}
	data, err := eventstore.Marshal(payload)
	if err == nil {
		err = r.store.Append(ctx, evt.Session(), eventType, data, meta)
	}
	if err != nil {
		r.logger.Warn("Failed to record session event",
			logfields.SessionID(evt.Session()),
			slog.String("type", eventType),
			logfields.Error(err))
	}
}

// toRecord maps an observation to its stored type, payload and metadata.
func toRecord(evt events.Observation) (string, any, map[string]string) {
	switch e := evt.(type) {
	case events.StateEntered:
		return eventstore.TypeStateEntered, eventstore.StateEnteredPayload{From: e.From, To: e.To}, nil
	case events.PhaseFinished:
		return eventstore.TypePhaseFinished, eventstore.PhaseFinishedPayload{
			Phase:      e.State,
			DurationMS: e.Duration.Milliseconds(),
			Error:      errString(e.Err),
			Fatal:      e.Fatal,
		}, nil
	case events.MutationDeferred:
		return eventstore.TypeMutationDeferred, eventstore.MutationPayload{
			State:   e.State,
			Kind:    e.Kind,
			Pending: e.Pending,
		}, nil
	case events.MutationApplied:
		return eventstore.TypeMutationApplied, eventstore.MutationPayload{
			State: e.State,
			Kind:  e.Kind,
			Error: errString(e.Err),
		}, nil
	case events.MutationDropped:
		return eventstore.TypeMutationDropped, eventstore.MutationPayload{
			State:  e.State,
			Kind:   e.Kind,
			Source: e.Source,
			Reason: e.Reason,
			Error:  errString(e.Err),
		}, nil
	case events.BatchCommitted:
		return eventstore.TypeBatchCommitted, eventstore.BatchCommittedPayload{
			BatchID:    e.BatchID,
			Size:       e.Size,
			Kinds:      kinds(e.Requests),
			Cause:      e.Cause,
			DurationMS: e.Duration.Milliseconds(),
			Error:      errString(e.Err),
		}, map[string]string{"batch_id": e.BatchID}
	case events.RecursionLimitReached:
		return eventstore.TypeRecursionLimitReached, eventstore.RecursionLimitPayload{Count: e.Count, Limit: e.Limit}, nil
	default:
		return "", nil, nil
	}
}

func kinds(reqs []mutation.Request) []string {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]string, len(reqs))
	for i, req := range reqs {
		out[i] = string(req.Kind)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
