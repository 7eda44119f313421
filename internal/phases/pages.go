package phases

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/sitedev/internal/content"
	"git.home.luguber.info/inful/sitedev/internal/develop"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

// Page components.
const (
	ComponentMarkdown = "markdown"
	ComponentIndex    = "index"
)

// RoutesFile is written to the cache directory by writeRequires.
const RoutesFile = "routes.json"

// CreatePages creates one page per published Markdown node. Nodes created by
// mutations have no slug yet; assigning one changes the node, which is
// reported so the pipeline re-runs queries.
func (p *Pipeline) CreatePages(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	before := store.NodeGeneration()

	want := map[string]struct{}{}
	for _, n := range store.Nodes(content.TypeMarkdown) {
		if draft, _ := n.Fields["draft"].(bool); draft {
			continue
		}
		slug, _ := n.Fields["slug"].(string)
		if slug == "" {
			slug = slugFor(n.ID)
			if err := store.SetField(n.ID, "slug", slug); err != nil {
				return develop.PhaseResult{}, err
			}
		}
		page := nodestore.Page{
			Path:      slug,
			Component: ComponentMarkdown,
			NodeID:    n.ID,
			Context:   map[string]any{"id": n.ID, "slug": slug},
		}
		if err := store.UpsertPage(page); err != nil {
			return develop.PhaseResult{}, err
		}
		want[slug] = struct{}{}
	}

	for _, pg := range store.Pages() {
		if pg.Component != ComponentMarkdown {
			continue
		}
		if _, ok := want[pg.Path]; ok {
			continue
		}
		if err := store.DeletePage(pg.Path); err != nil {
			return develop.PhaseResult{}, err
		}
	}
	// Stateful pages come back once no document claims their path.
	for path, pg := range p.stateful {
		if _, ok := want[path]; ok {
			continue
		}
		if err := store.UpsertPage(pg); err != nil {
			return develop.PhaseResult{}, err
		}
	}

	mutated := store.NodeGeneration() != before
	if mutated {
		p.logger.Info("Page creation changed nodes", slog.Uint64("node_generation", store.NodeGeneration()))
	}
	return develop.PhaseResult{NodesMutated: mutated}, nil
}

// slugFor derives a URL path from a node id that has no source file.
func slugFor(id string) string {
	s := strings.ToLower(id)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '/':
			return r
		default:
			return '-'
		}
	}, s)
	s = strings.Trim(s, "-/")
	if s == "" {
		return "/"
	}
	return "/" + s + "/"
}

// CreatePagesStatefully adds the site index when no document provides one.
// It only runs on the first pass; later passes restore it from p.stateful.
func (p *Pipeline) CreatePagesStatefully(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	index := nodestore.Page{Path: "/", Component: ComponentIndex, NodeID: SiteNodeID}
	p.stateful[index.Path] = index
	for _, pg := range store.Pages() {
		if pg.Path == index.Path {
			return develop.PhaseResult{}, nil
		}
	}
	return develop.PhaseResult{}, store.UpsertPage(index)
}

// ExtractQueries binds one query to every page. The query id is the page path.
func (p *Pipeline) ExtractQueries(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	queries := make(map[string]string, len(store.Pages()))
	routes := make([]string, 0, len(queries))
	for _, pg := range store.Pages() {
		queries[pg.Path] = pg.Component
		routes = append(routes, pg.Path)
	}
	p.queries = queries
	p.routes = routes
	return develop.PhaseResult{}, nil
}

type routeEntry struct {
	Path      string `json:"path"`
	Component string `json:"component"`
	NodeID    string `json:"nodeId,omitempty"`
}

// WriteRequires writes the route table to the cache directory.
func (p *Pipeline) WriteRequires(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	pages := store.Pages()
	entries := make([]routeEntry, 0, len(pages))
	for _, pg := range pages {
		entries = append(entries, routeEntry{Path: pg.Path, Component: pg.Component, NodeID: pg.NodeID})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryInternal, "encode routes").Build()
	}
	target := filepath.Join(p.Config().CachePath(), RoutesFile)
	if err := writeFileAtomic(target, append(data, '\n')); err != nil {
		return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryStore, "write routes").
			WithContext("path", target).Build()
	}
	p.logger.Debug("Wrote route table", logfields.Path(target), slog.Int("routes", len(entries)))
	return develop.PhaseResult{}, nil
}

// writeFileAtomic writes through a temp file in the target directory and renames it into place.
func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(target)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
