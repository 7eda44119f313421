package develop

import (
	"log/slog"
	"slices"

	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
)

// merge folds a successful phase result into the build context.
func (m *Machine) merge(state State, res PhaseResult) {
	switch state {
	case StateInitializing:
		if res.Store != nil {
			m.bctx.Store = res.Store
		}
		if res.Span != nil {
			m.bctx.Span = res.Span
		}
	case StateBuildingSchema:
		if res.QueryRunner != nil {
			m.bctx.QueryRunner = res.QueryRunner
		}
	case StateCreatingPages:
		if !m.bctx.FirstRun {
			m.bctx.NodesMutatedDuringQueryRun = m.bctx.NodesMutatedDuringQueryRun || res.NodesMutated
		}
	case StateCalculatingDirtyQueries:
		m.bctx.QueryIDs = slices.Clone(res.QueryIDs)
	case StateRunningStaticQueries:
		m.broadcast(res.StaticResults, false)
	case StateRunningPageQueries:
		m.broadcast(res.PageResults, true)
	case StateRunningWebpack:
		if res.Bundler != nil {
			m.bctx.Bundler = res.Bundler
		}
		if res.Broadcaster != nil {
			m.bctx.Broadcaster = res.Broadcaster
		}
		m.bctx.FirstRun = false
	case StateRefreshing:
		m.bctx.Refresh = true
	}
}

func (m *Machine) broadcast(results []QueryResult, page bool) {
	b := m.bctx.Broadcaster
	if b == nil {
		return
	}
	for _, r := range results {
		if page {
			b.EmitPageData(r.ID, r.Result)
		} else {
			b.EmitStaticQueryData(r.ID, r.Result)
		}
	}
}

// next returns the state that follows a successful invocation in s.
func (m *Machine) next(s State) State {
	switch s {
	case StateInitializing:
		return StateCustomizingSchema
	case StateCustomizingSchema:
		return StateSourcingNodes
	case StateSourcingNodes:
		return StateBuildingSchema
	case StateBuildingSchema:
		return StateCreatingPages
	case StateCreatingPages:
		if m.bctx.FirstRun {
			return StateCreatingPagesStatefully
		}
		return StateExtractingQueries
	case StateCreatingPagesStatefully:
		return StateExtractingQueries
	case StateExtractingQueries:
		return StateWritingRequires
	case StateWritingRequires:
		return StateCalculatingDirtyQueries
	case StateCalculatingDirtyQueries:
		return StateRunningStaticQueries
	case StateRunningStaticQueries:
		return StateRunningPageQueries
	case StateRunningPageQueries:
		return m.afterQueries()
	case StateWaitingForJobs:
		if m.bctx.FirstRun {
			return StateRunningWebpack
		}
		return StateIdle
	case StateRefreshing:
		return StateCustomizingSchema
	default:
		return StateIdle
	}
}

// afterQueries applies the recursion guard. While the budget lasts, nodes
// mutated during page creation send the pipeline back to customizingSchema.
// Past the limit the stale results are kept, the pending batch is left
// untouched, and the guard resets.
func (m *Machine) afterQueries() State {
	if !m.bctx.NodesMutatedDuringQueryRun {
		return StateWaitingForJobs
	}
	if m.bctx.RecursionCount < m.opts.MaxRecursion {
		m.bctx.RecursionCount++
		m.bctx.NodesMutatedDuringQueryRun = false
		m.logger.Info("Nodes changed while running queries; re-running pipeline",
			logfields.SessionID(m.opts.SessionID),
			slog.Int("recursion", m.bctx.RecursionCount))
		return StateCustomizingSchema
	}

	warn := ferrors.PhaseError("nodes kept changing while running queries; keeping stale results").
		Warning().
		WithContext("limit", m.opts.MaxRecursion).Build()
	m.logger.Warn("Recursion limit reached",
		logfields.SessionID(m.opts.SessionID),
		slog.Int("limit", m.opts.MaxRecursion),
		logfields.Error(warn))
	m.bus.Notify(events.RecursionLimitReached{
		SessionID: m.opts.SessionID,
		Count:     m.bctx.RecursionCount,
		Limit:     m.opts.MaxRecursion,
	})
	m.bctx.RecursionCount = 0
	m.bctx.NodesMutatedDuringQueryRun = false
	return StateWaitingForJobs
}
