// Package natsbridge feeds content mutations and refresh signals published
// on NATS subjects into a develop session.
package natsbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
	"git.home.luguber.info/inful/sitedev/internal/retry"
)

const source = "nats"

// Reply is sent to requests that carry a reply subject.
type Reply struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Bridge subscribes to the mutation and refresh subjects.
type Bridge struct {
	cfg    config.NATSConfig
	policy retry.Policy
	bus    *events.Bus
	logger *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	conn *nats.Conn
	subs []*nats.Subscription
}

// New validates cfg. It does not connect until Start.
func New(cfg config.NATSConfig, bus *events.Bus, logger *slog.Logger) (*Bridge, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("nats bridge requires an event bus").Build()
	}
	if cfg.URL == "" {
		return nil, ferrors.ConfigError("nats.url is required").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, policy: retry.FromConfig(cfg.Retry), bus: bus, logger: logger}, nil
}

// Start connects with the configured retry policy and subscribes. ctx bounds
// both the connection attempts and the lifetime of the forwarded events.
func (b *Bridge) Start(ctx context.Context) error {
	var conn *nats.Conn
	err := b.policy.Do(ctx, func(attempt int) error {
		c, err := nats.Connect(b.cfg.URL,
			nats.Name("sitedev"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					b.logger.Warn("NATS disconnected", logfields.Error(err))
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				b.logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
			}),
		)
		if err != nil {
			b.logger.Warn("NATS connect failed", slog.Int("attempt", attempt+1), logfields.Error(err))
			return ferrors.WrapError(err, ferrors.CategoryTransport, "connect to NATS").
				WithContext("url", b.cfg.URL).
				Retryable().Build()
		}
		conn = c
		return nil
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx = ctx
	b.conn = conn
	for subject, handler := range map[string]nats.MsgHandler{
		b.cfg.MutationSubject: b.onMutation,
		b.cfg.RefreshSubject:  b.onRefresh,
	} {
		if subject == "" {
			continue
		}
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			conn.Close()
			b.conn = nil
			return ferrors.WrapError(err, ferrors.CategoryTransport, "subscribe").WithContext("subject", subject).Build()
		}
		b.subs = append(b.subs, sub)
	}
	b.logger.Info("NATS bridge started",
		slog.String("url", b.cfg.URL),
		slog.String("mutation_subject", b.cfg.MutationSubject),
		slog.String("refresh_subject", b.cfg.RefreshSubject))
	return nil
}

// Stop drains subscriptions and closes the connection.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.subs = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return ferrors.WrapError(err, ferrors.CategoryTransport, "drain NATS connection").Build()
	}
	return nil
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *Bridge) onMutation(msg *nats.Msg) {
	n, err := b.forwardMutations(b.context(), msg.Data)
	if err != nil {
		b.logger.Warn("Rejected NATS mutation", slog.String("subject", msg.Subject), logfields.Error(err))
	}
	b.reply(msg, n, err)
}

func (b *Bridge) onRefresh(msg *nats.Msg) {
	err := b.forwardRefresh(b.context(), msg.Data)
	if err != nil {
		b.logger.Warn("Refresh not forwarded", logfields.Error(err))
	}
	n := 1
	if err != nil {
		n = 0
	}
	b.reply(msg, n, err)
}

func (b *Bridge) reply(msg *nats.Msg, accepted int, err error) {
	if msg.Reply == "" {
		return
	}
	r := Reply{Accepted: accepted}
	if err != nil {
		r.Error = err.Error()
	}
	data, _ := json.Marshal(r)
	if rerr := msg.Respond(data); rerr != nil {
		b.logger.Debug("NATS reply failed", logfields.Error(rerr))
	}
}

// forwardMutations decodes data and publishes each request in order. It
// returns how many were accepted before any error.
func (b *Bridge) forwardMutations(ctx context.Context, data []byte) (int, error) {
	reqs, err := mutation.Decode(data)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for i, req := range reqs {
		if err := b.bus.Publish(ctx, events.MutationReceived{Request: req, Source: source, ReceivedAt: now}); err != nil {
			return i, err
		}
	}
	return len(reqs), nil
}

func (b *Bridge) forwardRefresh(ctx context.Context, data []byte) error {
	return b.bus.Publish(ctx, events.RefreshRequested{Body: data, Source: source, RequestedAt: time.Now()})
}
