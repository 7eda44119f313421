package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"path"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/livereload"
	smw "git.home.luguber.info/inful/sitedev/internal/server/middleware"
)

// LivePath is where the site server mounts the live-update stream.
const LivePath = "/__live"

// PageSource resolves a URL path to rendered HTML.
type PageSource interface {
	Page(urlPath string) ([]byte, bool)
}

// Site serves rendered pages with the live-update client injected.
type Site struct {
	pages   PageSource
	hub     *livereload.Hub
	adapter *ferrors.HTTPErrorAdapter
	handler http.Handler
	l       *listener
}

// NewSite builds the site server. hub may be nil to disable live updates.
func NewSite(addr string, pages PageSource, hub *livereload.Hub, logger *slog.Logger) (*Site, error) {
	if pages == nil {
		return nil, ferrors.ValidationError("site server requires a page source").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Site{pages: pages, hub: hub, adapter: ferrors.NewHTTPErrorAdapter(logger)}

	mux := http.NewServeMux()
	if hub != nil {
		mux.Handle("GET "+LivePath, hub)
	}
	mux.HandleFunc("GET /", s.handlePage)
	s.handler = smw.Chain(logger, s.adapter)(mux)
	s.l = &listener{name: "site", addr: addr, handler: s.handler, logger: logger}
	return s, nil
}

// Handler returns the routed handler.
func (s *Site) Handler() http.Handler { return s.handler }

// Start binds and serves in the background.
func (s *Site) Start(ctx context.Context) error { return s.l.start(ctx) }

// Stop disconnects live clients and shuts the server down.
func (s *Site) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Shutdown()
	}
	return s.l.stop(ctx)
}

// Addr returns the bound address once started.
func (s *Site) Addr() string { return s.l.boundAddr() }

func (s *Site) handlePage(w http.ResponseWriter, r *http.Request) {
	p := path.Clean("/" + r.URL.Path)
	body, ok := s.pages.Page(p)
	if !ok && p != "/" {
		body, ok = s.pages.Page(p + "/")
	}
	if !ok {
		s.adapter.WriteErrorResponse(w, r, ferrors.NotFoundError("page not found").WithContext("path", p).Build())
		return
	}
	if s.hub != nil {
		body = injectScript(body)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}

// injectScript places the live-update client before </body>, or appends it.
func injectScript(body []byte) []byte {
	tag := []byte("<script>" + livereload.Script + "</script>")
	idx := bytes.LastIndex(bytes.ToLower(body), []byte("</body>"))
	if idx < 0 {
		return append(bytes.Clone(body), tag...)
	}
	out := make([]byte, 0, len(body)+len(tag))
	out = append(out, body[:idx]...)
	out = append(out, tag...)
	return append(out, body[idx:]...)
}
