// Package phases is the local Markdown pipeline: it sources nodes from the
// content directory, creates one page per document, renders pages with
// goldmark and serves them from the dev server.
package phases

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/content"
	"git.home.luguber.info/inful/sitedev/internal/develop"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/livereload"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
	"git.home.luguber.info/inful/sitedev/internal/server"
)

// DevServer is the site server started by the runningWebpack phase.
type DevServer interface {
	develop.Bundler
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options wires a Pipeline.
type Options struct {
	// ConfigPath is reloaded by the refresh phase; empty keeps Config.
	ConfigPath string
	Config     *config.Config
	// Store is handed out by initialize; nil creates a fresh store.
	Store *nodestore.Store
	Hub   *livereload.Hub
	// JobConcurrency bounds parallel page writes.
	JobConcurrency int
	// NewServer overrides the dev server constructor.
	NewServer func(addr string, pages server.PageSource, hub *livereload.Hub, logger *slog.Logger) (DevServer, error)
	Logger    *slog.Logger
}

// Pipeline implements every develop phase for a local content directory.
type Pipeline struct {
	cfgPath   string
	cfg       atomic.Pointer[config.Config]
	store     *nodestore.Store
	hub       *livereload.Hub
	renderer  *content.Renderer
	jobs      *Jobs
	newServer func(addr string, pages server.PageSource, hub *livereload.Hub, logger *slog.Logger) (DevServer, error)
	logger    *slog.Logger

	// Phase state. Phases run one at a time.
	stateful map[string]nodestore.Page
	queries  map[string]string
	pending  map[string]string
	routes   []string

	mu       sync.RWMutex
	rendered map[string][]byte
	digests  map[string]string
	srv      DevServer
}

// New validates opts and returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, ferrors.ValidationError("pipeline requires a configuration").Build()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.JobConcurrency == 0 {
		opts.JobConcurrency = 4
	}
	if opts.NewServer == nil {
		opts.NewServer = func(addr string, pages server.PageSource, hub *livereload.Hub, logger *slog.Logger) (DevServer, error) {
			return server.NewSite(addr, pages, hub, logger)
		}
	}
	p := &Pipeline{
		cfgPath:   opts.ConfigPath,
		store:     opts.Store,
		hub:       opts.Hub,
		renderer:  content.NewRenderer(),
		jobs:      NewJobs(opts.JobConcurrency),
		newServer: opts.NewServer,
		logger:    opts.Logger,
		stateful:  map[string]nodestore.Page{},
		queries:   map[string]string{},
		pending:   map[string]string{},
		rendered:  map[string][]byte{},
		digests:   map[string]string{},
	}
	p.cfg.Store(opts.Config)
	return p, nil
}

// Phases binds the pipeline to the develop machine.
func (p *Pipeline) Phases() develop.Phases {
	return develop.Phases{
		Initialize:            p.Initialize,
		CustomizeSchema:       p.CustomizeSchema,
		SourceNodes:           p.SourceNodes,
		BuildSchema:           p.BuildSchema,
		CreatePages:           p.CreatePages,
		CreatePagesStatefully: p.CreatePagesStatefully,
		ExtractQueries:        p.ExtractQueries,
		WriteRequires:         p.WriteRequires,
		CalculateDirtyQueries: p.CalculateDirtyQueries,
		RunStaticQueries:      p.RunStaticQueries,
		RunPageQueries:        p.RunPageQueries,
		WaitForJobs:           p.WaitForJobs,
		StartDevServer:        p.StartDevServer,
		Refresh:               p.Refresh,
	}
}

// Config returns the configuration currently in effect.
func (p *Pipeline) Config() *config.Config { return p.cfg.Load() }

// Page serves rendered HTML to the dev server.
func (p *Pipeline) Page(urlPath string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.rendered[urlPath]
	return b, ok
}

// Close stops the dev server if it was started.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	srv := p.srv
	p.srv = nil
	p.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Stop(ctx)
}

// storeFor prefers the store carried by the build context.
func (p *Pipeline) storeFor(bc develop.BuildContext) (*nodestore.Store, error) {
	if bc.Store != nil {
		return bc.Store, nil
	}
	if p.store != nil {
		return p.store, nil
	}
	return nil, ferrors.StoreError("content store is not initialized").Build()
}
