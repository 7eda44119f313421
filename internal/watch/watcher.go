// Package watch turns file system changes into develop session input:
// edits under the content directory become node mutations and edits to the
// configuration file become refresh requests.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/sitedev/internal/content"
	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
)

const source = "watch"

// Options configures a Watcher.
type Options struct {
	// ContentDir, when set, is watched for document changes.
	ContentDir string
	// ConfigPath, when set, is watched for refresh.
	ConfigPath string
	Debounce   time.Duration
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Watcher debounces fsnotify events and publishes them on the bus.
// Content changes become mutations. A config change becomes a refresh
// request; if the session is busy the request is held and runs when the
// session next goes idle, with later requests replacing held ones.
type Watcher struct {
	opts    Options
	fsw     *fsnotify.Watcher
	content string
	config  string

	mu      sync.Mutex
	changed map[string]struct{}
	refresh bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates the underlying fsnotify watcher. Nothing is watched until Start.
func New(opts Options) (*Watcher, error) {
	if opts.Bus == nil {
		return nil, ferrors.ValidationError("watcher requires an event bus").Build()
	}
	if opts.ContentDir == "" && opts.ConfigPath == "" {
		return nil, ferrors.ValidationError("watcher requires a content directory or configuration file").Build()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	var contentDir, configPath string
	var err error
	if opts.ContentDir != "" {
		if contentDir, err = filepath.Abs(opts.ContentDir); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve content directory").Build()
		}
	}
	if opts.ConfigPath != "" {
		if configPath, err = filepath.Abs(opts.ConfigPath); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve configuration path").Build()
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "create file watcher").Build()
	}
	return &Watcher{
		opts:    opts,
		fsw:     fsw,
		content: contentDir,
		config:  configPath,
		changed: map[string]struct{}{},
		stop:    make(chan struct{}),
	}, nil
}

// Start watches the content tree (fsnotify is not recursive, so every
// directory is added) and the configuration file's directory.
func (w *Watcher) Start(ctx context.Context) error {
	if w.content != "" {
		if err := w.addTree(w.content); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryRuntime, "watch content directory").
				WithContext("path", w.content).Build()
		}
	}
	if w.config != "" {
		if err := w.fsw.Add(filepath.Dir(w.config)); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryRuntime, "watch configuration directory").
				WithContext("path", w.config).Build()
		}
	}
	w.wg.Add(1)
	go w.loop(ctx)
	w.opts.Logger.Info("File watcher started",
		slog.String("content_dir", w.content),
		slog.String("config_path", w.config),
		slog.Duration("debounce", w.opts.Debounce))
	return nil
}

// Stop ends the event loop and releases the watcher.
func (w *Watcher) Stop() error {
	select {
	case <-w.stop:
		return nil
	default:
		close(w.stop)
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.record(ev) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.opts.Debounce)
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Error("File watcher error", logfields.Error(err))
		case <-fire:
			fire = nil
			timer = nil
			w.flush(ctx)
		}
	}
}

// record notes ev if it matters and reports whether the debounce should restart.
func (w *Watcher) record(ev fsnotify.Event) bool {
	name := filepath.Clean(ev.Name)
	if ev.Op == fsnotify.Chmod {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.config != "" && name == w.config {
		w.refresh = true
		return true
	}
	if w.content == "" {
		return false
	}
	rel, err := filepath.Rel(w.content, name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if err := w.addTree(name); err != nil {
				w.opts.Logger.Warn("Cannot watch new directory", logfields.Path(name), logfields.Error(err))
			}
			_ = filepath.WalkDir(name, func(p string, d fs.DirEntry, err error) error {
				if err == nil && !d.IsDir() && content.IsMarkdown(p) {
					w.changed[p] = struct{}{}
				}
				return nil
			})
			return true
		}
	}
	if !content.IsMarkdown(name) {
		return false
	}
	w.changed[name] = struct{}{}
	return true
}

// flush publishes one mutation per changed document, in path order, then
// the refresh request if the configuration changed.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.changed))
	for p := range w.changed {
		paths = append(paths, p)
	}
	w.changed = map[string]struct{}{}
	refresh := w.refresh
	w.refresh = false
	w.mu.Unlock()
	slices.Sort(paths)

	for _, p := range paths {
		req, err := w.mutationFor(p)
		if err != nil {
			w.opts.Logger.Warn("Skipping changed document", logfields.Path(p), logfields.Error(err))
			continue
		}
		evt := events.MutationReceived{Request: req, Source: source, ReceivedAt: time.Now()}
		if err := w.opts.Bus.Publish(ctx, evt); err != nil {
			w.opts.Logger.Warn("Mutation not published", logfields.Path(p), logfields.Error(err))
			return
		}
	}
	if refresh {
		evt := events.RefreshRequested{Source: source, RequestedAt: time.Now()}
		if err := w.opts.Bus.Publish(ctx, evt); err != nil {
			w.opts.Logger.Warn("Refresh not published", logfields.Error(err))
		}
	}
}

// mutationFor maps a changed path to createNode, or deleteNode when the file is gone.
func (w *Watcher) mutationFor(abs string) (mutation.Request, error) {
	rel, err := filepath.Rel(w.content, abs)
	if err != nil {
		return mutation.Request{}, err
	}
	rel = filepath.ToSlash(rel)
	data, err := os.ReadFile(abs) // #nosec G304 -- path is under the watched content directory
	if errors.Is(err, fs.ErrNotExist) {
		return mutation.New(mutation.KindDeleteNode, mutation.NodeRef{ID: content.NodeID(rel)})
	}
	if err != nil {
		return mutation.Request{}, err
	}
	doc, err := content.Parse(rel, data)
	if err != nil {
		return mutation.Request{}, err
	}
	n := doc.Node()
	// The parent directory node may not exist yet; sourcing links it.
	return mutation.New(mutation.KindCreateNode, mutation.CreateNodeArgs{
		ID:      n.ID,
		Type:    n.Type,
		Fields:  n.Fields,
		Content: n.Content,
	})
}
