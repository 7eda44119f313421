package develop

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
)

func devServer(b *recordingBroadcaster) PhaseFunc {
	return func(context.Context, BuildContext) (PhaseResult, error) {
		return PhaseResult{Bundler: b, Broadcaster: b}, nil
	}
}

func TestNewValidatesOptions(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	_, err := New(nil, &recordingExecutor{}, Phases{}, Options{})
	require.Error(t, err)
	_, err = New(bus, nil, Phases{}, Options{})
	require.Error(t, err)
	_, err = New(bus, &recordingExecutor{}, Phases{}, Options{BatchSize: -1})
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	_, err = New(bus, &recordingExecutor{}, Phases{}, Options{MaxRecursion: -1})
	require.Error(t, err)

	m, err := New(bus, &recordingExecutor{}, Phases{}, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, m.SessionID())
	require.True(t, m.Status().FirstRun)
}

func TestFirstRunSequence(t *testing.T) {
	b := &recordingBroadcaster{}
	h := start(t, Phases{StartDevServer: devServer(b)}, testOptions(), nil)

	seen := h.await(StateIdle)
	require.Equal(t, []State{
		StateInitializing,
		StateCustomizingSchema,
		StateSourcingNodes,
		StateBuildingSchema,
		StateCreatingPages,
		StateCreatingPagesStatefully,
		StateExtractingQueries,
		StateWritingRequires,
		StateCalculatingDirtyQueries,
		StateRunningStaticQueries,
		StateRunningPageQueries,
		StateWaitingForJobs,
		StateRunningWebpack,
		StateIdle,
	}, seen)

	require.Eventually(t, func() bool { return !h.m.Context().FirstRun }, waitTimeout, 5*time.Millisecond)
	bc := h.m.Context()
	require.Equal(t, b, bc.Bundler)
	require.Same(t, h.store, bc.Store)
}

func TestIncrementalRunSkipsFirstRunStates(t *testing.T) {
	h := start(t, Phases{}, testOptions(), nil)
	h.await(StateIdle)

	h.refresh("")
	seen := h.await(StateIdle)
	require.NotContains(t, seen, StateCreatingPagesStatefully)
	require.NotContains(t, seen, StateRunningWebpack)
	require.Equal(t, StateRefreshing, seen[0])
	require.Equal(t, StateCustomizingSchema, seen[1])
	require.Equal(t, StateWaitingForJobs, seen[len(seen)-2])
}

func TestFirstRunFlipsOnlyAfterDevServerStarts(t *testing.T) {
	g := newGate(true)
	var phases Phases
	phases.StartDevServer = g.wrap(nil)
	h := start(t, phases, testOptions(), nil)

	g.waitEntered(t)
	require.True(t, h.m.Context().FirstRun)
	g.open()
	h.await(StateIdle)
	require.Eventually(t, func() bool { return !h.m.Status().FirstRun }, waitTimeout, 5*time.Millisecond)

	h.refresh("")
	h.await(StateIdle)
	require.False(t, h.m.Status().FirstRun)
}

func TestMutationsApplyImmediatelyInEarlyPhases(t *testing.T) {
	for _, state := range []State{StateInitializing, StateCustomizingSchema, StateSourcingNodes, StateBuildingSchema} {
		t.Run(string(state), func(t *testing.T) {
			g := newGate(true)
			var phases Phases
			setPhase(&phases, state, g.wrap(nil))
			h := start(t, phases, testOptions(), nil)

			g.waitEntered(t)
			h.mutate("a")
			h.mutate("b")

			require.Eventually(t, func() bool { return h.exec.count() == 2 }, waitTimeout, 5*time.Millisecond)
			require.Equal(t, state, h.m.State())
			require.Zero(t, h.pending())
			require.False(t, h.m.Context().DeferNodeMutation)

			g.open()
			h.await(StateIdle)
			require.Equal(t, 2, h.exec.count())
		})
	}
}

func TestMutationsDeferredFromCreatingPagesOnward(t *testing.T) {
	deferred := []State{
		StateCreatingPages,
		StateCreatingPagesStatefully,
		StateExtractingQueries,
		StateWritingRequires,
		StateCalculatingDirtyQueries,
		StateRunningStaticQueries,
		StateRunningPageQueries,
		StateWaitingForJobs,
		StateRunningWebpack,
	}
	for _, state := range deferred {
		t.Run(string(state), func(t *testing.T) {
			g := newGate(true)
			var phases Phases
			setPhase(&phases, state, g.wrap(nil))
			h := start(t, phases, testOptions(), nil)

			g.waitEntered(t)
			req := h.mutate("late")

			require.Eventually(t, func() bool { return h.pending() == 1 }, waitTimeout, 5*time.Millisecond)
			require.Zero(t, h.exec.count())
			require.Equal(t, state, h.m.State())
			require.True(t, h.m.Context().DeferNodeMutation)

			g.open()
			commit := h.awaitCommit()
			require.Equal(t, []mutation.Request{req}, commit.Requests)
			require.Equal(t, 1, h.exec.count())
		})
	}
}

func TestMutationsBeforeStoreAreDeferred(t *testing.T) {
	g := newGate(true)
	var phases Phases
	phases.Initialize = g.wrap(nil)

	bus := events.NewBus()
	defer bus.Close()
	exec := &recordingExecutor{}
	opts := testOptions()
	m, err := New(bus, exec, phases, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	<-m.Ready()
	g.waitEntered(t)

	req, err := mutation.New(mutation.KindDeleteNode, mutation.NodeRef{ID: "x"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, events.MutationReceived{Request: req}))
	require.Eventually(t, func() bool { return len(m.Context().NodeMutationBatch) == 1 }, waitTimeout, 5*time.Millisecond)
	require.Zero(t, exec.count())
	cancel()
}

func TestIdleReentryIsIdempotent(t *testing.T) {
	h := start(t, Phases{}, testOptions(), nil)
	h.await(StateIdle)
	h.quiet(150 * time.Millisecond)
	require.Equal(t, StateIdle, h.m.State())
	require.Zero(t, h.m.Status().Commits)
}

func TestRecoverablePhaseFailureReturnsToIdle(t *testing.T) {
	var phases Phases
	phases.BuildSchema = failing(errBoom)
	h := start(t, phases, testOptions(), nil)

	seen := h.await(StateIdle)
	require.Equal(t, StateBuildingSchema, seen[len(seen)-2])

	h.quiet(100 * time.Millisecond)
	bc := h.m.Context()
	require.Same(t, h.store, bc.Store)
	require.True(t, bc.FirstRun)

	select {
	case <-h.m.Failed():
		t.Fatal("recoverable failure must not fail the session")
	default:
	}
	require.Contains(t, h.m.Status().LastError, "phase failed")
	require.Nil(t, h.m.Err())
}

func TestPanicInPhaseIsRecoverable(t *testing.T) {
	var phases Phases
	phases.ExtractQueries = func(context.Context, BuildContext) (PhaseResult, error) { panic("bad query") }
	h := start(t, phases, testOptions(), nil)

	seen := h.await(StateIdle)
	require.Equal(t, StateExtractingQueries, seen[len(seen)-2])
}

func TestFatalPhaseFailures(t *testing.T) {
	for _, state := range []State{StateInitializing, StateWritingRequires, StateRunningWebpack} {
		t.Run(string(state), func(t *testing.T) {
			var phases Phases
			setPhase(&phases, state, failing(errBoom))
			var customized atomic.Int32
			if state == StateInitializing {
				phases.CustomizeSchema = func(context.Context, BuildContext) (PhaseResult, error) {
					customized.Add(1)
					return PhaseResult{}, nil
				}
			}
			h := start(t, phases, testOptions(), nil)

			seen := h.await(StateFailed)
			require.Equal(t, state, seen[len(seen)-2])
			select {
			case <-h.m.Failed():
			case <-time.After(waitTimeout):
				t.Fatal("Failed() not closed")
			}

			err := h.m.Err()
			require.ErrorIs(t, err, errBoom)
			require.True(t, ferrors.HasCategory(err, ferrors.CategoryPhase))
			require.True(t, ferrors.HasSeverity(err, ferrors.SeverityFatal))

			h.quiet(100 * time.Millisecond)
			require.Zero(t, customized.Load())
		})
	}
}

func TestFailedStateKeepsDeferringMutations(t *testing.T) {
	var phases Phases
	phases.Initialize = failing(errBoom)
	h := start(t, phases, testOptions(), nil)
	h.await(StateFailed)

	h.mutate("a")
	h.refresh("ignored")
	require.Eventually(t, func() bool { return h.pending() == 1 }, waitTimeout, 5*time.Millisecond)
	h.quiet(100 * time.Millisecond)
	require.Equal(t, StateFailed, h.m.State())
	require.Zero(t, h.exec.count())
}

func TestRefreshRestartsAtCustomizingSchema(t *testing.T) {
	type seen struct {
		body    string
		refresh bool
	}
	got := make(chan seen, 2)
	var phases Phases
	phases.Refresh = func(_ context.Context, bc BuildContext) (PhaseResult, error) {
		got <- seen{body: string(bc.WebhookBody), refresh: bc.Refresh}
		return PhaseResult{}, nil
	}
	phases.CustomizeSchema = func(_ context.Context, bc BuildContext) (PhaseResult, error) {
		if !bc.FirstRun {
			got <- seen{body: string(bc.WebhookBody), refresh: bc.Refresh}
		}
		return PhaseResult{}, nil
	}
	h := start(t, phases, testOptions(), nil)
	h.await(StateIdle)

	h.refresh(`{"source":"cms"}`)
	require.Equal(t, []State{StateRefreshing, StateCustomizingSchema}, h.await(StateCustomizingSchema))
	require.Equal(t, seen{body: `{"source":"cms"}`}, <-got)
	require.Equal(t, seen{body: `{"source":"cms"}`, refresh: true}, <-got)

	h.await(StateIdle)
	h.quiet(50 * time.Millisecond)
	bc := h.m.Context()
	require.Nil(t, bc.WebhookBody)
	require.False(t, bc.Refresh)
}

func TestRefreshWhileBusyRunsOnceIdle(t *testing.T) {
	g := newGate(true)
	var phases Phases
	phases.RunPageQueries = g.wrap(nil)
	bodies := make(chan string, 4)
	phases.Refresh = func(_ context.Context, bc BuildContext) (PhaseResult, error) {
		bodies <- string(bc.WebhookBody)
		return PhaseResult{}, nil
	}
	h := start(t, phases, testOptions(), nil)

	g.waitEntered(t)
	h.await(StateRunningPageQueries)
	h.refresh("config edit")
	h.refresh("cron")
	h.quiet(50 * time.Millisecond)
	require.Equal(t, StateRunningPageQueries, h.m.State())

	g.open()
	seen := h.await(StateRefreshing)
	require.Equal(t, StateIdle, seen[len(seen)-2])
	require.Equal(t, "cron", <-bodies)
	h.await(StateIdle)
	h.quiet(100 * time.Millisecond)
	require.Empty(t, bodies)
}

func TestHeldRefreshWaitsForPendingBatch(t *testing.T) {
	g := newGate(true)
	var phases Phases
	phases.WaitForJobs = g.wrap(nil)
	var refreshed atomic.Int32
	phases.Refresh = func(context.Context, BuildContext) (PhaseResult, error) {
		refreshed.Add(1)
		return PhaseResult{}, nil
	}
	h := start(t, phases, testOptions(), nil)

	g.waitEntered(t)
	h.mutate("a")
	h.refresh("")
	g.open()

	commit := h.awaitCommit()
	require.Equal(t, 1, commit.Size)
	h.await(StateRefreshing)
	require.Eventually(t, func() bool { return refreshed.Load() == 1 }, waitTimeout, 5*time.Millisecond)
}

func TestRefreshFailureIsFatal(t *testing.T) {
	var phases Phases
	phases.Refresh = failing(errBoom)
	h := start(t, phases, testOptions(), nil)
	h.await(StateIdle)

	h.refresh("")
	require.Equal(t, []State{StateRefreshing, StateFailed}, h.await(StateFailed))
	require.ErrorIs(t, h.m.Err(), errBoom)
}

func TestMalformedMutationsAreDropped(t *testing.T) {
	h := start(t, Phases{}, testOptions(), nil)
	dropped, unsubscribe := events.Subscribe[events.MutationDropped](h.bus, 8)
	defer unsubscribe()
	h.await(StateIdle)

	publish := func(req mutation.Request, source string) {
		require.NoError(t, h.bus.Publish(t.Context(), events.MutationReceived{Request: req, Source: source}))
	}
	publish(mutation.Request{Kind: "replaceWebpackConfig"}, "http")
	publish(mutation.Request{Kind: mutation.KindTouchNode}, "nats")
	publish(mutation.Request{Kind: mutation.KindCreateNodeField, Args: json.RawMessage(`{"nodeId":"a"}`)}, "watch")

	want := []events.MutationDropped{
		{Kind: "replaceWebpackConfig", Source: "http", Reason: DropUnknown},
		{Kind: string(mutation.KindTouchNode), Source: "nats", Reason: DropInvalid},
		{Kind: string(mutation.KindCreateNodeField), Source: "watch", Reason: DropInvalid},
	}
	for _, w := range want {
		select {
		case got := <-dropped:
			require.Equal(t, w.Kind, got.Kind)
			require.Equal(t, w.Source, got.Source)
			require.Equal(t, w.Reason, got.Reason)
			require.Equal(t, string(StateIdle), got.State)
			require.Error(t, got.Err)
		case <-time.After(waitTimeout):
			t.Fatalf("no drop reported for %s", w.Kind)
		}
	}

	h.quiet(100 * time.Millisecond)
	require.Equal(t, StateIdle, h.m.State())
	require.Zero(t, h.pending())
	require.Zero(t, h.exec.count())
	select {
	case <-h.m.Failed():
		t.Fatal("malformed mutation must not fail the session")
	default:
	}
}

func TestRunTwiceFails(t *testing.T) {
	h := start(t, Phases{}, testOptions(), nil)
	h.await(StateIdle)
	err := h.m.Run(t.Context())
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
}

func TestQueryResultsAreBroadcastPerID(t *testing.T) {
	b := &recordingBroadcaster{}
	var phases Phases
	phases.StartDevServer = devServer(b)
	phases.CalculateDirtyQueries = func(context.Context, BuildContext) (PhaseResult, error) {
		return PhaseResult{QueryIDs: []string{"/a/", "/b/"}}, nil
	}
	phases.RunStaticQueries = func(context.Context, BuildContext) (PhaseResult, error) {
		return PhaseResult{StaticResults: []QueryResult{{ID: "site", Result: "meta"}}}, nil
	}
	phases.RunPageQueries = func(_ context.Context, bc BuildContext) (PhaseResult, error) {
		var out []QueryResult
		for _, id := range bc.QueryIDs {
			out = append(out, QueryResult{ID: id, Result: id})
		}
		return PhaseResult{PageResults: out}, nil
	}
	h := start(t, phases, testOptions(), nil)
	h.await(StateIdle)

	static, page := b.snapshot()
	require.Empty(t, static, "no broadcaster before the dev server starts")
	require.Empty(t, page)

	h.refresh("")
	h.await(StateIdle)
	static, page = b.snapshot()
	require.Equal(t, []string{"site"}, static)
	require.Equal(t, []string{"/a/", "/b/"}, page)
}

func TestRecursionGuard(t *testing.T) {
	var phases Phases
	phases.CreatePages = func(context.Context, BuildContext) (PhaseResult, error) {
		return PhaseResult{NodesMutated: true}, nil
	}
	opts := testOptions()
	opts.MaxRecursion = 2
	h := start(t, phases, opts, nil)
	h.await(StateIdle)

	h.refresh("")
	seen := h.await(StateIdle)
	customized := 0
	for _, s := range seen {
		if s == StateCustomizingSchema {
			customized++
		}
	}
	require.Equal(t, 3, customized)

	select {
	case evt := <-h.limits:
		require.Equal(t, 2, evt.Count)
		require.Equal(t, 2, evt.Limit)
	case <-time.After(waitTimeout):
		t.Fatal("recursion limit not reported")
	}

	h.quiet(50 * time.Millisecond)
	bc := h.m.Context()
	require.Zero(t, bc.RecursionCount)
	require.False(t, bc.NodesMutatedDuringQueryRun)
}

func TestRecursionGuardDisabled(t *testing.T) {
	var phases Phases
	phases.CreatePages = func(context.Context, BuildContext) (PhaseResult, error) {
		return PhaseResult{NodesMutated: true}, nil
	}
	opts := testOptions()
	opts.MaxRecursion = 0
	h := start(t, phases, opts, nil)
	h.await(StateIdle)

	h.refresh("")
	seen := h.await(StateIdle)
	require.Equal(t, StateRefreshing, seen[0])
	count := 0
	for _, s := range seen {
		if s == StateCustomizingSchema {
			count++
		}
	}
	require.Equal(t, 1, count)
}
