package develop

import (
	"context"
	"fmt"
	"time"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// PhaseFunc is one external pipeline operation.
type PhaseFunc func(ctx context.Context, bc BuildContext) (PhaseResult, error)

// Phases binds a PhaseFunc to every phase state. Nil entries succeed with an
// empty result.
type Phases struct {
	Initialize            PhaseFunc
	CustomizeSchema       PhaseFunc
	SourceNodes           PhaseFunc
	BuildSchema           PhaseFunc
	CreatePages           PhaseFunc
	CreatePagesStatefully PhaseFunc
	ExtractQueries        PhaseFunc
	WriteRequires         PhaseFunc
	CalculateDirtyQueries PhaseFunc
	RunStaticQueries      PhaseFunc
	RunPageQueries        PhaseFunc
	WaitForJobs           PhaseFunc
	StartDevServer        PhaseFunc
	Refresh               PhaseFunc
}

func (p Phases) forState(s State) PhaseFunc {
	switch s {
	case StateInitializing:
		return p.Initialize
	case StateCustomizingSchema:
		return p.CustomizeSchema
	case StateSourcingNodes:
		return p.SourceNodes
	case StateBuildingSchema:
		return p.BuildSchema
	case StateCreatingPages:
		return p.CreatePages
	case StateCreatingPagesStatefully:
		return p.CreatePagesStatefully
	case StateExtractingQueries:
		return p.ExtractQueries
	case StateWritingRequires:
		return p.WriteRequires
	case StateCalculatingDirtyQueries:
		return p.CalculateDirtyQueries
	case StateRunningStaticQueries:
		return p.RunStaticQueries
	case StateRunningPageQueries:
		return p.RunPageQueries
	case StateWaitingForJobs:
		return p.WaitForJobs
	case StateRunningWebpack:
		return p.StartDevServer
	case StateRefreshing:
		return p.Refresh
	default:
		return nil
	}
}

// outcome is what an in-flight invocation reports back to the run loop.
type outcome struct {
	state    State
	result   PhaseResult
	err      error
	duration time.Duration

	// set for committingBatch
	batchID string
}

// invoke runs fn and converts panics into errors so nothing escapes the machine.
func invoke(ctx context.Context, state State, fn PhaseFunc, bc BuildContext) (out outcome) {
	start := time.Now()
	out.state = state
	defer func() {
		if r := recover(); r != nil {
			out.err = ferrors.InternalError("phase panicked").
				WithContext("phase", string(state)).
				WithContext("panic", fmt.Sprint(r)).Build()
		}
		out.duration = time.Since(start)
	}()
	if fn == nil {
		return out
	}
	out.result, out.err = fn(ctx, bc)
	return out
}

// phaseFailure classifies a failed invocation for logging and status.
func phaseFailure(state State, err error) error {
	b := ferrors.WrapError(err, ferrors.CategoryPhase, "phase failed").WithContext("phase", string(state))
	if state.FatalOnFailure() {
		b = b.Fatal()
	} else {
		b = b.WithSeverity(ferrors.SeverityError)
	}
	return b.Build()
}
