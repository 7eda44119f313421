// Package develop drives the incremental build pipeline of a develop
// session: it sequences phases, admits content mutations while phases run,
// batches deferred mutations and routes phase failures.
package develop

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
)

// Status is a point-in-time view of the machine for status endpoints.
type Status struct {
	SessionID        string    `json:"session_id"`
	State            State     `json:"state"`
	Since            time.Time `json:"since"`
	FirstRun         bool      `json:"first_run"`
	PendingMutations int       `json:"pending_mutations"`
	RunningBatch     int       `json:"running_batch"`
	RecursionCount   int       `json:"recursion_count"`
	Commits          int       `json:"commits"`
	LastError        string    `json:"last_error,omitempty"`
}

// Machine is the develop state machine. All BuildContext writes happen on
// the goroutine executing Run.
type Machine struct {
	bus    *events.Bus
	exec   mutation.Executor
	phases Phases
	opts   Options
	logger *slog.Logger

	// Run loop state.
	state      State
	since      time.Time
	bctx       BuildContext
	results    chan outcome
	batchTimer *time.Timer
	batchC     <-chan time.Time
	flushCause string
	commits    int
	lastErr    error
	// Latest refresh that arrived while busy, replayed on the next idle entry.
	heldRefresh *events.RefreshRequested

	mu        sync.RWMutex
	status    Status
	view      BuildContext
	failedErr error

	running    atomic.Bool
	readyOnce  sync.Once
	ready      chan struct{}
	failedOnce sync.Once
	failed     chan struct{}
}

// New builds a machine. Zero option fields fall back to DefaultOptions.
func New(bus *events.Bus, exec mutation.Executor, phases Phases, opts Options) (*Machine, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("bus is required").Build()
	}
	if exec == nil {
		return nil, ferrors.ValidationError("mutation executor is required").Build()
	}
	def := DefaultOptions()
	if opts.BatchSize == 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.BatchWindow == 0 {
		opts.BatchWindow = def.BatchWindow
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = def.InboundBuffer
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		bus:     bus,
		exec:    exec,
		phases:  phases,
		opts:    opts,
		logger:  opts.Logger,
		bctx:    newBuildContext(),
		results: make(chan outcome, 1),
		ready:   make(chan struct{}),
		failed:  make(chan struct{}),
	}
	m.bctx.Store = opts.Store
	m.publish()
	return m, nil
}

// SessionID identifies this develop session.
func (m *Machine) SessionID() string { return m.opts.SessionID }

// Ready is closed once Run has subscribed to inbound events.
func (m *Machine) Ready() <-chan struct{} { return m.ready }

// Failed is closed when the machine enters the failed state.
func (m *Machine) Failed() <-chan struct{} { return m.failed }

// Status returns the last published status.
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// State returns the current state.
func (m *Machine) State() State { return m.Status().State }

// Context returns a copy of the build context as of the last loop iteration.
func (m *Machine) Context() BuildContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view.snapshot()
}

// Err returns the error that sent the machine to failed, if any.
func (m *Machine) Err() error {
	select {
	case <-m.failed:
	default:
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failedErr
}

// Run drives the machine until ctx is done or the bus is closed.
// It starts in initializing and may be called once.
func (m *Machine) Run(ctx context.Context) error {
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}
	if !m.running.CompareAndSwap(false, true) {
		return ferrors.RuntimeError("develop machine already running").Build()
	}

	inbound, unsubscribe := events.Subscribe[events.Inbound](m.bus, m.opts.InboundBuffer)
	defer unsubscribe()
	defer m.stopBatchWindow()

	m.readyOnce.Do(func() { close(m.ready) })
	m.logger.Info("Develop session started",
		logfields.SessionID(m.opts.SessionID),
		logfields.BatchSize(m.opts.BatchSize),
		slog.Duration("batch_window", m.opts.BatchWindow))

	m.transition(ctx, StateInitializing)
	m.publish()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Develop session stopped",
				logfields.SessionID(m.opts.SessionID),
				logfields.State(string(m.state)))
			return nil
		case evt, ok := <-inbound:
			if !ok {
				return nil
			}
			m.handleInbound(ctx, evt)
		case out := <-m.results:
			// Events that were queued before the invocation finished are
			// admitted under the policy of the state that was running.
			m.drainInbound(ctx, inbound)
			m.handleOutcome(ctx, out)
		case <-m.batchC:
			m.batchC = nil
			m.batchTimer = nil
			if m.state == StateBatchingNodeMutations {
				m.flushCause = flushByWindow
				m.transition(ctx, StateCommittingBatch)
			}
		}
		m.publish()
	}
}

func (m *Machine) drainInbound(ctx context.Context, inbound <-chan events.Inbound) {
	for n := len(inbound); n > 0; n-- {
		select {
		case evt, ok := <-inbound:
			if !ok {
				return
			}
			m.handleInbound(ctx, evt)
		default:
			return
		}
	}
}

// transition leaves the current state and runs the entry actions of to.
// Eventless guards in the entry actions may chain further transitions.
func (m *Machine) transition(ctx context.Context, to State) {
	from := m.state
	if from == StateBatchingNodeMutations {
		m.stopBatchWindow()
	}
	m.state = to
	m.since = time.Now()

	m.logger.Debug("State transition",
		logfields.SessionID(m.opts.SessionID),
		logfields.FromState(string(from)),
		logfields.ToState(string(to)))
	m.bus.Notify(events.StateEntered{SessionID: m.opts.SessionID, From: string(from), To: string(to), At: m.since})

	m.enter(ctx, to)
}

func (m *Machine) enter(ctx context.Context, s State) {
	switch {
	case s.IsPhase(), s == StateRefreshing:
		fn := m.phases.forState(s)
		bc := m.bctx.snapshot()
		go func() { m.results <- invoke(ctx, s, fn, bc) }()

	case s == StateIdle:
		m.bctx.WebhookBody = nil
		m.bctx.Refresh = false
		m.bctx.RecursionCount = 0
		if len(m.bctx.NodeMutationBatch) > 0 {
			m.transition(ctx, StateBatchingNodeMutations)
			return
		}
		if r := m.heldRefresh; r != nil {
			m.heldRefresh = nil
			m.logger.Info("Running refresh held while busy",
				logfields.SessionID(m.opts.SessionID),
				logfields.Source(r.Source))
			m.startRefresh(ctx, *r)
		}

	case s == StateBatchingNodeMutations:
		if m.batchFull() {
			m.flushCause = flushBySize
			m.transition(ctx, StateCommittingBatch)
			return
		}
		m.startBatchWindow()

	case s == StateCommittingBatch:
		m.startCommit(ctx)

	case s == StateFailed:
		m.logger.Error("Develop session failed; restart required",
			logfields.SessionID(m.opts.SessionID),
			logfields.Error(m.lastErr))
		m.mu.Lock()
		m.failedErr = m.lastErr
		m.mu.Unlock()
		m.failedOnce.Do(func() { close(m.failed) })
	}
}

func (m *Machine) handleInbound(ctx context.Context, evt events.Inbound) {
	switch e := evt.(type) {
	case events.MutationReceived:
		m.admit(ctx, e)
	case events.RefreshRequested:
		switch m.state {
		case StateIdle:
			m.startRefresh(ctx, e)
		case StateFailed:
			m.logger.Info("Ignoring refresh request in failed session",
				logfields.SessionID(m.opts.SessionID),
				logfields.Source(e.Source))
		default:
			// Later requests replace earlier ones; one refresh covers them all.
			m.heldRefresh = &e
			m.logger.Info("Refresh deferred until idle",
				logfields.SessionID(m.opts.SessionID),
				logfields.State(string(m.state)),
				logfields.Source(e.Source))
		}
	}
}

func (m *Machine) startRefresh(ctx context.Context, e events.RefreshRequested) {
	m.bctx.WebhookBody = slices.Clone(e.Body)
	m.transition(ctx, StateRefreshing)
}

// admit applies or defers one mutation according to the current state.
func (m *Machine) admit(ctx context.Context, e events.MutationReceived) {
	req := e.Request
	if !req.Kind.Valid() {
		m.drop(e, DropUnknown, mutation.ErrUnknownKind)
		return
	}
	if err := req.Validate(); err != nil {
		m.drop(e, DropInvalid, err)
		return
	}

	// Without an injected store nothing can be applied before initializing
	// hands one over, so those mutations wait in the batch.
	if m.state.AppliesImmediately() && m.bctx.Store != nil {
		err := m.exec.Execute(ctx, m.bctx.mutationStore(), req)
		m.bus.Notify(events.MutationApplied{
			SessionID: m.opts.SessionID,
			State:     string(m.state),
			Kind:      string(req.Kind),
			Err:       err,
		})
		if err != nil {
			m.logger.Error("Mutation failed",
				logfields.SessionID(m.opts.SessionID),
				logfields.State(string(m.state)),
				logfields.MutationKind(string(req.Kind)),
				logfields.Error(err))
		}
		return
	}

	m.bctx.NodeMutationBatch = append(m.bctx.NodeMutationBatch, req)
	m.bctx.DeferNodeMutation = true
	m.bus.Notify(events.MutationDeferred{
		SessionID: m.opts.SessionID,
		State:     string(m.state),
		Kind:      string(req.Kind),
		Pending:   len(m.bctx.NodeMutationBatch),
	})
	m.logger.Debug("Mutation deferred",
		logfields.SessionID(m.opts.SessionID),
		logfields.State(string(m.state)),
		logfields.MutationKind(string(req.Kind)),
		logfields.BatchSize(len(m.bctx.NodeMutationBatch)))

	switch m.state {
	case StateIdle:
		m.transition(ctx, StateBatchingNodeMutations)
	case StateBatchingNodeMutations:
		if m.batchFull() {
			m.flushCause = flushBySize
			m.transition(ctx, StateCommittingBatch)
		}
	}
}

// Reasons a mutation is dropped at admission.
const (
	DropUnknown = "unknown"
	DropInvalid = "invalid"
)

func (m *Machine) drop(e events.MutationReceived, reason string, err error) {
	m.logger.Warn("Dropping mutation",
		logfields.SessionID(m.opts.SessionID),
		logfields.State(string(m.state)),
		logfields.MutationKind(string(e.Request.Kind)),
		logfields.Source(e.Source),
		logfields.Reason(reason),
		logfields.Error(err))
	m.bus.Notify(events.MutationDropped{
		SessionID: m.opts.SessionID,
		State:     string(m.state),
		Kind:      string(e.Request.Kind),
		Source:    e.Source,
		Reason:    reason,
		Err:       err,
	})
}

func (m *Machine) handleOutcome(ctx context.Context, out outcome) {
	if out.state != m.state {
		m.logger.Warn("Discarding result of a state that is no longer active",
			logfields.State(string(m.state)),
			logfields.Phase(string(out.state)))
		return
	}
	if out.state == StateCommittingBatch {
		m.finishCommit(ctx, out)
		return
	}

	if out.err != nil {
		err := phaseFailure(out.state, out.err)
		fatal := out.state.FatalOnFailure()
		m.lastErr = err
		m.bus.Notify(events.PhaseFinished{
			SessionID: m.opts.SessionID,
			State:     string(out.state),
			Duration:  out.duration,
			Err:       err,
			Fatal:     fatal,
		})
		if fatal {
			m.logger.Error("Phase failed",
				logfields.SessionID(m.opts.SessionID),
				logfields.Phase(string(out.state)),
				logfields.Duration(out.duration),
				logfields.Error(err))
			m.transition(ctx, StateFailed)
			return
		}
		m.logger.Warn("Phase failed; waiting for the next change",
			logfields.SessionID(m.opts.SessionID),
			logfields.Phase(string(out.state)),
			logfields.Duration(out.duration),
			logfields.Error(err))
		m.transition(ctx, StateIdle)
		return
	}

	m.bus.Notify(events.PhaseFinished{
		SessionID: m.opts.SessionID,
		State:     string(out.state),
		Duration:  out.duration,
	})
	m.logger.Info("Phase finished",
		logfields.SessionID(m.opts.SessionID),
		logfields.Phase(string(out.state)),
		logfields.Duration(out.duration))

	m.merge(out.state, out.result)
	m.transition(ctx, m.next(out.state))
}

// publish copies loop-owned state for concurrent readers.
func (m *Machine) publish() {
	st := Status{
		SessionID:        m.opts.SessionID,
		State:            m.state,
		Since:            m.since,
		FirstRun:         m.bctx.FirstRun,
		PendingMutations: len(m.bctx.NodeMutationBatch),
		RunningBatch:     len(m.bctx.RunningBatch),
		RecursionCount:   m.bctx.RecursionCount,
		Commits:          m.commits,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	view := m.bctx.snapshot()

	m.mu.Lock()
	m.status = st
	m.view = view
	m.mu.Unlock()
}
