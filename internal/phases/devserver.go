package phases

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/develop"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
)

// StartDevServer starts the site server once and hands back the bundler and
// live-update broadcaster.
func (p *Pipeline) StartDevServer(ctx context.Context, _ develop.BuildContext) (develop.PhaseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.srv == nil {
		srv, err := p.newServer(p.Config().HTTP.SiteAddr, p, p.hub, p.logger)
		if err != nil {
			return develop.PhaseResult{}, err
		}
		if err := srv.Start(ctx); err != nil {
			return develop.PhaseResult{}, err
		}
		p.srv = srv
		p.logger.Info("Dev server ready", logfields.Addr(srv.Addr()))
	}
	res := develop.PhaseResult{Bundler: p.srv}
	if p.hub != nil {
		res.Broadcaster = p.hub
	}
	return res, nil
}

// Refresh reloads the configuration file. The webhook body is only logged;
// the pipeline re-sources everything from customizingSchema onwards.
func (p *Pipeline) Refresh(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	if p.cfgPath == "" {
		p.logger.Info("Refreshing content", slog.Int("webhook_bytes", len(bc.WebhookBody)))
		return develop.PhaseResult{}, nil
	}
	cfg, err := config.Load(p.cfgPath)
	if err != nil {
		return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryConfig, "reload configuration").
			WithContext("path", p.cfgPath).Build()
	}
	prev := p.Config()
	if prev.HTTP != cfg.HTTP {
		p.logger.Warn("Listener addresses changed; restart to apply",
			slog.String("control_addr", cfg.HTTP.ControlAddr),
			slog.String("site_addr", cfg.HTTP.SiteAddr))
	}
	p.cfg.Store(cfg)
	p.logger.Info("Configuration reloaded",
		logfields.Path(p.cfgPath),
		slog.Int("webhook_bytes", len(bc.WebhookBody)))
	return develop.PhaseResult{}, nil
}
