// Package server hosts the sitedev HTTP surfaces: the control server that
// feeds mutations and refresh signals into a session, and the site server
// that serves rendered pages with live updates.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
)

const readHeaderTimeout = 5 * time.Second

// listener runs one http.Server on a pre-bound listener.
type listener struct {
	name    string
	addr    string
	handler http.Handler
	logger  *slog.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func (l *listener) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.srv != nil {
		return ferrors.RuntimeError(l.name + " server already started").Build()
	}
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, l.name+" server bind failed").
			WithContext("addr", l.addr).
			Build()
	}
	l.ln = ln
	l.srv = &http.Server{Handler: l.handler, ReadHeaderTimeout: readHeaderTimeout}
	srv := l.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error(l.name+" server stopped", logfields.Error(err))
		}
	}()
	l.logger.Info(l.name+" server started", logfields.Addr(ln.Addr().String()))
	return nil
}

func (l *listener) boundAddr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

func (l *listener) stop(ctx context.Context) error {
	l.mu.Lock()
	srv := l.srv
	l.srv = nil
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, l.name+" server shutdown").Build()
	}
	return nil
}

// writeJSON encodes into a buffer first so a failed encode never sends a partial body.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}
