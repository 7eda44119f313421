package develop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitedev/internal/events"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

const waitTimeout = 3 * time.Second

var errBoom = errors.New("boom")

type recordingExecutor struct {
	mu       sync.Mutex
	calls    []mutation.Request
	failKind mutation.Kind
	block    chan struct{}
}

func (e *recordingExecutor) Execute(ctx context.Context, _ mutation.Store, req mutation.Request) error {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	if e.failKind != "" && req.Kind == e.failKind {
		return errBoom
	}
	return nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *recordingExecutor) recorded() []mutation.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]mutation.Request(nil), e.calls...)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	static []string
	page   []string
}

func (b *recordingBroadcaster) EmitStaticQueryData(id string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.static = append(b.static, id)
}

func (b *recordingBroadcaster) EmitPageData(id string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.page = append(b.page, id)
}

func (b *recordingBroadcaster) snapshot() ([]string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.static...), append([]string(nil), b.page...)
}

func (b *recordingBroadcaster) Addr() string { return "127.0.0.1:0" }

// gate holds a phase until opened while armed.
type gate struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGate(armed bool) *gate {
	g := &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	g.armed.Store(armed)
	return g
}

func (g *gate) wrap(fn PhaseFunc) PhaseFunc {
	return func(ctx context.Context, bc BuildContext) (PhaseResult, error) {
		if g.armed.Load() {
			select {
			case g.entered <- struct{}{}:
			default:
			}
			select {
			case <-g.release:
			case <-ctx.Done():
				return PhaseResult{}, ctx.Err()
			}
		}
		if fn == nil {
			return PhaseResult{}, nil
		}
		return fn(ctx, bc)
	}
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(waitTimeout):
		t.Fatal("phase was not entered")
	}
}

func (g *gate) open() {
	g.armed.Store(false)
	close(g.release)
}

// setPhase replaces the PhaseFunc bound to s.
func setPhase(p *Phases, s State, fn PhaseFunc) {
	switch s {
	case StateInitializing:
		p.Initialize = fn
	case StateCustomizingSchema:
		p.CustomizeSchema = fn
	case StateSourcingNodes:
		p.SourceNodes = fn
	case StateBuildingSchema:
		p.BuildSchema = fn
	case StateCreatingPages:
		p.CreatePages = fn
	case StateCreatingPagesStatefully:
		p.CreatePagesStatefully = fn
	case StateExtractingQueries:
		p.ExtractQueries = fn
	case StateWritingRequires:
		p.WriteRequires = fn
	case StateCalculatingDirtyQueries:
		p.CalculateDirtyQueries = fn
	case StateRunningStaticQueries:
		p.RunStaticQueries = fn
	case StateRunningPageQueries:
		p.RunPageQueries = fn
	case StateWaitingForJobs:
		p.WaitForJobs = fn
	case StateRunningWebpack:
		p.StartDevServer = fn
	case StateRefreshing:
		p.Refresh = fn
	}
}

func failing(err error) PhaseFunc {
	return func(context.Context, BuildContext) (PhaseResult, error) { return PhaseResult{}, err }
}

type harness struct {
	t       *testing.T
	bus     *events.Bus
	exec    *recordingExecutor
	store   *nodestore.Store
	m       *Machine
	states  <-chan events.StateEntered
	commits <-chan events.BatchCommitted
	limits  <-chan events.RecursionLimitReached
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BatchWindow = 50 * time.Millisecond
	return opts
}

func start(t *testing.T, phases Phases, opts Options, exec *recordingExecutor) *harness {
	t.Helper()
	if exec == nil {
		exec = &recordingExecutor{}
	}
	if opts.Store == nil {
		opts.Store = nodestore.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	bus := events.NewBus()
	m, err := New(bus, exec, phases, opts)
	require.NoError(t, err)

	states, unsubStates := events.Subscribe[events.StateEntered](bus, 1024)
	commits, unsubCommits := events.Subscribe[events.BatchCommitted](bus, 64)
	limits, unsubLimits := events.Subscribe[events.RecursionLimitReached](bus, 64)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	<-m.Ready()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		unsubStates()
		unsubCommits()
		unsubLimits()
		bus.Close()
	})
	return &harness{t: t, bus: bus, exec: exec, store: opts.Store, m: m, states: states, commits: commits, limits: limits}
}

// await consumes state events until target is entered and returns the
// states seen on the way, target included.
func (h *harness) await(target State) []State {
	h.t.Helper()
	var seen []State
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt := <-h.states:
			seen = append(seen, State(evt.To))
			if State(evt.To) == target {
				return seen
			}
		case <-deadline:
			h.t.Fatalf("state %s not reached; saw %v", target, seen)
			return nil
		}
	}
}

func (h *harness) awaitEvent(target State) events.StateEntered {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt := <-h.states:
			if State(evt.To) == target {
				return evt
			}
		case <-deadline:
			h.t.Fatalf("state %s not reached", target)
			return events.StateEntered{}
		}
	}
}

func (h *harness) awaitCommit() events.BatchCommitted {
	h.t.Helper()
	select {
	case evt := <-h.commits:
		return evt
	case <-time.After(waitTimeout):
		h.t.Fatal("no batch committed")
		return events.BatchCommitted{}
	}
}

// quiet asserts that no state is entered for d.
func (h *harness) quiet(d time.Duration) {
	h.t.Helper()
	select {
	case evt := <-h.states:
		h.t.Fatalf("unexpected transition %s -> %s", evt.From, evt.To)
	case <-time.After(d):
	}
}

func (h *harness) mutate(id string) mutation.Request {
	h.t.Helper()
	req, err := mutation.New(mutation.KindCreateNode, mutation.CreateNodeArgs{ID: id, Type: "Test"})
	require.NoError(h.t, err)
	require.NoError(h.t, h.bus.Publish(h.t.Context(), events.MutationReceived{Request: req, Source: "test", ReceivedAt: time.Now()}))
	return req
}

func (h *harness) refresh(body string) {
	h.t.Helper()
	require.NoError(h.t, h.bus.Publish(h.t.Context(), events.RefreshRequested{Body: []byte(body), Source: "test", RequestedAt: time.Now()}))
}

func (h *harness) pending() int { return len(h.m.Context().NodeMutationBatch) }

func eventsMutation(req mutation.Request) events.MutationReceived {
	return events.MutationReceived{Request: req, Source: "test", ReceivedAt: time.Now()}
}
