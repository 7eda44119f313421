package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/daemon"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
)

// DevelopCmd implements the 'develop' command.
type DevelopCmd struct {
	ShutdownTimeout time.Duration `help:"Grace period for stopping servers" default:"30s"`
}

func (d *DevelopCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunDevelop(ctx, cfg, root.Config, d.ShutdownTimeout, g.Logger)
}

// RunDevelop runs a session until ctx is done or the session fails. A
// failed session is returned as an error so the process exits non-zero.
func RunDevelop(ctx context.Context, cfg *config.Config, configPath string, grace time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	d, err := daemon.New(daemon.Options{Config: cfg, ConfigPath: configPath, Logger: logger})
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	var sessionErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping session")
	case <-d.Failed():
		cause := d.Machine().Err()
		sessionErr = ferrors.RuntimeError("develop session failed").
			WithCause(cause).
			WithContext("session_id", d.SessionID()).
			Fatal().
			Build()
	}

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		logger.Warn("Shutdown incomplete", logfields.Error(err))
		if sessionErr == nil {
			sessionErr = err
		}
	}
	return sessionErr
}
