package develop

import (
	"context"
	"slices"
	"time"

	"git.home.luguber.info/inful/sitedev/internal/mutation"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

// QueryRunner executes a compiled query by id.
type QueryRunner interface {
	Query(ctx context.Context, id string) (any, error)
}

// Broadcaster pushes query results to connected clients. Fire and forget.
type Broadcaster interface {
	EmitStaticQueryData(id string, result any)
	EmitPageData(id string, result any)
}

// Bundler is the running dev server.
type Bundler interface {
	Addr() string
}

// Span identifies the root trace of a session.
type Span struct {
	ID      string
	Name    string
	Started time.Time
}

// BuildContext is the record threaded through every phase. Only the
// machine's run loop writes to it; phases get a copy.
type BuildContext struct {
	RecursionCount             int
	NodesMutatedDuringQueryRun bool
	FirstRun                   bool

	NodeMutationBatch []mutation.Request
	RunningBatch      []mutation.Request
	DeferNodeMutation bool

	Store       *nodestore.Store
	QueryRunner QueryRunner
	Bundler     Bundler
	Broadcaster Broadcaster
	Span        *Span

	// QueryIDs is the dirty set computed by calculatingDirtyQueries.
	QueryIDs []string

	WebhookBody []byte
	Refresh     bool
}

func newBuildContext() BuildContext {
	return BuildContext{FirstRun: true}
}

// snapshot returns a copy whose slices do not alias the machine's.
func (c *BuildContext) snapshot() BuildContext {
	s := *c
	s.NodeMutationBatch = slices.Clone(c.NodeMutationBatch)
	s.RunningBatch = slices.Clone(c.RunningBatch)
	s.QueryIDs = slices.Clone(c.QueryIDs)
	s.WebhookBody = slices.Clone(c.WebhookBody)
	return s
}

// mutationStore returns the store as a mutation.Store, or a nil interface.
func (c *BuildContext) mutationStore() mutation.Store {
	if c.Store == nil {
		return nil
	}
	return c.Store
}

// QueryResult is one static or page query result.
type QueryResult struct {
	ID     string
	Result any
}

// PhaseResult carries the fields a phase hands back for merging. The machine
// only reads the fields that belong to the phase that returned them.
type PhaseResult struct {
	Store       *nodestore.Store
	Span        *Span
	QueryRunner QueryRunner
	// NodesMutated reports that page creation changed nodes.
	NodesMutated  bool
	QueryIDs      []string
	StaticResults []QueryResult
	PageResults   []QueryResult
	Bundler       Bundler
	Broadcaster   Broadcaster
}
