package phases

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitedev/internal/content"
	"git.home.luguber.info/inful/sitedev/internal/develop"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

// SiteNodeID is the id of the node holding site metadata.
const SiteNodeID = "site"

// Initialize hands out the content store and opens the session span.
func (p *Pipeline) Initialize(_ context.Context, _ develop.BuildContext) (develop.PhaseResult, error) {
	cfg := p.Config()
	if dir := cfg.CachePath(); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryStore, "create cache directory").
				WithContext("path", dir).Build()
		}
	}
	store := p.store
	if store == nil {
		store = nodestore.New()
		p.store = store
	}
	span := &develop.Span{ID: uuid.NewString(), Name: "develop", Started: time.Now()}
	p.logger.Info("Develop session initialized",
		slog.String("span_id", span.ID),
		logfields.Path(cfg.ContentPath()))
	return develop.PhaseResult{Store: store, Span: span}, nil
}

// CustomizeSchema records site metadata as a node so queries can read it.
func (p *Pipeline) CustomizeSchema(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	cfg := p.Config()
	err = store.UpsertNode(nodestore.Node{
		ID:   SiteNodeID,
		Type: content.TypeSite,
		Fields: map[string]any{
			"title": cfg.Site.Title,
			"types": []any{content.TypeSite, content.TypeDirectory, content.TypeMarkdown},
		},
	})
	return develop.PhaseResult{}, err
}

// SourceNodes walks the content directory and mirrors it into the store.
// Nodes sourced earlier whose files are gone are deleted; nodes created by
// mutations are left alone.
func (p *Pipeline) SourceNodes(ctx context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	root := p.Config().ContentPath()
	if _, err := os.Stat(root); err != nil {
		return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryNotFound, "content directory unavailable").
			WithContext("path", root).Build()
	}

	seen := map[string]struct{}{}
	dirs := map[string]struct{}{".": {}}
	skipped := 0
	walkErr := filepath.WalkDir(root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if abs != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !content.IsMarkdown(name) {
			return nil
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		doc, err := readDocument(abs, rel)
		if err != nil {
			skipped++
			p.logger.Warn("Skipping unreadable document", logfields.Path(rel), logfields.Error(err))
			return nil
		}
		if err := store.UpsertNode(doc.Node()); err != nil {
			return err
		}
		seen[content.NodeID(rel)] = struct{}{}
		for dir := path.Dir(rel); ; dir = path.Dir(dir) {
			dirs[dir] = struct{}{}
			if dir == "." {
				break
			}
		}
		return nil
	})
	if walkErr != nil {
		return develop.PhaseResult{}, ferrors.WrapError(walkErr, ferrors.CategoryPhase, "source nodes").
			WithContext("path", root).Build()
	}

	if err := syncDirectories(store, dirs); err != nil {
		return develop.PhaseResult{}, err
	}
	for id := range seen {
		n, _ := store.Node(id)
		if err := store.Link(n.Parent, id); err != nil {
			return develop.PhaseResult{}, err
		}
	}

	removed := 0
	for _, n := range store.Nodes(content.TypeMarkdown) {
		if _, owned := n.Fields["sourcePath"]; !owned {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		if err := store.DeleteNode(n.ID); err != nil {
			return develop.PhaseResult{}, err
		}
		removed++
	}
	p.logger.Info("Sourced content nodes",
		slog.Int("documents", len(seen)),
		slog.Int("removed", removed),
		slog.Int("skipped", skipped))
	return develop.PhaseResult{}, nil
}

func readDocument(abs, rel string) (content.Document, error) {
	data, err := os.ReadFile(abs) // #nosec G304 -- path comes from walking the content directory
	if err != nil {
		return content.Document{}, err
	}
	return content.Parse(rel, data)
}

// syncDirectories upserts one node per directory that holds documents and
// drops directory nodes that no longer do.
func syncDirectories(store *nodestore.Store, dirs map[string]struct{}) error {
	for dir := range dirs {
		n := nodestore.Node{
			ID:     content.DirectoryID(dir),
			Type:   content.TypeDirectory,
			Fields: map[string]any{"path": dir, "title": path.Base(dir)},
		}
		if dir != "." {
			n.Parent = content.DirectoryID(path.Dir(dir))
		}
		if err := store.UpsertNode(n); err != nil {
			return err
		}
	}
	for dir := range dirs {
		if dir == "." {
			continue
		}
		if err := store.Link(content.DirectoryID(path.Dir(dir)), content.DirectoryID(dir)); err != nil {
			return err
		}
	}
	for _, n := range store.Nodes(content.TypeDirectory) {
		dir, _ := n.Fields["path"].(string)
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := store.DeleteNode(n.ID); err != nil {
			return err
		}
	}
	return nil
}

// BuildSchema publishes the query runner over the current store.
func (p *Pipeline) BuildSchema(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	return develop.PhaseResult{QueryRunner: &queryRunner{store: store, renderer: p.renderer, cfg: p.Config}}, nil
}
