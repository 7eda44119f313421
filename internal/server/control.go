package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/sitedev/internal/develop"
	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
	smw "git.home.luguber.info/inful/sitedev/internal/server/middleware"
	"git.home.luguber.info/inful/sitedev/internal/server/responses"
	"git.home.luguber.info/inful/sitedev/internal/version"
)

const (
	defaultMaxBody = 4 << 20
	sourceHTTP     = "http"
)

// StatusProvider exposes the session state for /__status and /healthz.
type StatusProvider interface {
	Status() develop.Status
}

// ControlOptions configures the control server.
type ControlOptions struct {
	Addr    string
	Bus     *events.Bus
	Status  StatusProvider
	Metrics http.Handler // nil disables /metrics
	Logger  *slog.Logger
	MaxBody int64
}

// Control accepts mutations and refresh signals over HTTP and reports session status.
type Control struct {
	opts    ControlOptions
	adapter *ferrors.HTTPErrorAdapter
	started time.Time
	handler http.Handler
	l       *listener
}

// NewControl builds the control server. It does not bind until Start.
func NewControl(opts ControlOptions) (*Control, error) {
	if opts.Bus == nil {
		return nil, ferrors.ValidationError("control server requires an event bus").Build()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	c := &Control{
		opts:    opts,
		adapter: ferrors.NewHTTPErrorAdapter(opts.Logger),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /__refresh", c.handleRefresh)
	mux.HandleFunc("POST /__mutations", c.handleMutations)
	mux.HandleFunc("GET /__status", c.handleStatus)
	mux.HandleFunc("GET /healthz", c.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	c.handler = smw.Chain(opts.Logger, c.adapter)(mux)
	c.l = &listener{name: "control", addr: opts.Addr, handler: c.handler, logger: opts.Logger}
	return c, nil
}

// Handler returns the routed handler, for tests and embedding.
func (c *Control) Handler() http.Handler { return c.handler }

// Start binds the listener and serves in the background.
func (c *Control) Start(ctx context.Context) error { return c.l.start(ctx) }

// Stop shuts the server down gracefully.
func (c *Control) Stop(ctx context.Context) error { return c.l.stop(ctx) }

// Addr returns the bound address once started.
func (c *Control) Addr() string { return c.l.boundAddr() }

func (c *Control) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.opts.MaxBody))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "failed to read request body").
			WithContext("limit", c.opts.MaxBody).
			Build()
	}
	return body, nil
}

func (c *Control) handleRefresh(w http.ResponseWriter, r *http.Request) {
	body, err := c.readBody(w, r)
	if err != nil {
		c.adapter.WriteErrorResponse(w, r, err)
		return
	}
	now := time.Now()
	evt := events.RefreshRequested{Body: body, Source: sourceHTTP, RequestedAt: now}
	if err := c.opts.Bus.Publish(r.Context(), evt); err != nil {
		c.adapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryRuntime, "refresh not accepted").Build())
		return
	}
	c.opts.Logger.Info("Refresh requested", logfields.Source(sourceHTTP))
	_ = writeJSON(w, http.StatusAccepted, responses.AcceptedResponse{Status: "accepted", Accepted: 1, Received: now})
}

func (c *Control) handleMutations(w http.ResponseWriter, r *http.Request) {
	body, err := c.readBody(w, r)
	if err != nil {
		c.adapter.WriteErrorResponse(w, r, err)
		return
	}
	reqs, err := mutation.Decode(body)
	if err != nil {
		c.adapter.WriteErrorResponse(w, r, err)
		return
	}
	now := time.Now()
	kinds := make([]string, 0, len(reqs))
	for i, req := range reqs {
		evt := events.MutationReceived{Request: req, Source: sourceHTTP, ReceivedAt: now}
		if err := c.opts.Bus.Publish(r.Context(), evt); err != nil {
			c.adapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryRuntime, "mutation not accepted").
				WithContext("accepted", i).
				Build())
			return
		}
		kinds = append(kinds, req.Kind.String())
	}
	_ = writeJSON(w, http.StatusAccepted, responses.AcceptedResponse{
		Status:   "accepted",
		Accepted: len(reqs),
		Kinds:    kinds,
		Received: now,
	})
}

func (c *Control) handleStatus(w http.ResponseWriter, r *http.Request) {
	if c.opts.Status == nil {
		c.adapter.WriteErrorResponse(w, r, ferrors.RuntimeError("session not running").Build())
		return
	}
	_ = writeJSON(w, http.StatusOK, c.opts.Status.Status())
}

func (c *Control) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := responses.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(c.started).Seconds(),
	}
	status := http.StatusOK
	if c.opts.Status != nil {
		st := c.opts.Status.Status()
		resp.State = st.State.String()
		if st.State == develop.StateFailed {
			resp.Status = "failed"
			status = http.StatusServiceUnavailable
		}
	}
	_ = writeJSON(w, status, resp)
}
