// Package daemon assembles a develop session: the event bus, the node
// store, the orchestrator and every ingress and observer around it.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/develop"
	"git.home.luguber.info/inful/sitedev/internal/events"
	"git.home.luguber.info/inful/sitedev/internal/eventstore"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/livereload"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/metrics"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
	"git.home.luguber.info/inful/sitedev/internal/phases"
	"git.home.luguber.info/inful/sitedev/internal/schedule"
	"git.home.luguber.info/inful/sitedev/internal/server"
	"git.home.luguber.info/inful/sitedev/internal/transport/natsbridge"
	"git.home.luguber.info/inful/sitedev/internal/watch"
)

// Status represents the lifecycle of the daemon itself, not the session.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Options configures a Daemon.
type Options struct {
	Config *config.Config
	// ConfigPath is reloaded on refresh and watched when refresh.watch_config is set.
	ConfigPath string
	Logger     *slog.Logger
}

// Daemon owns one develop session and its surroundings.
type Daemon struct {
	cfg       *config.Config
	cfgPath   string
	logger    *slog.Logger
	sessionID string
	status    atomic.Value // Status
	startTime time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	workers  *WorkerGroup
	bus      *events.Bus
	store    *nodestore.Store
	events   eventstore.Store
	pipeline *phases.Pipeline
	machine  *develop.Machine
	control  *server.Control
	bridge   *natsbridge.Bridge
	watcher  *watch.Watcher
	sched    *schedule.Scheduler
}

// New validates opts. Nothing runs until Start.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Daemon{
		cfg:       opts.Config,
		cfgPath:   opts.ConfigPath,
		sessionID: uuid.NewString(),
	}
	d.logger = opts.Logger.With(logfields.SessionID(d.sessionID))
	d.status.Store(StatusStopped)
	return d, nil
}

// SessionID identifies the develop session this daemon runs.
func (d *Daemon) SessionID() string { return d.sessionID }

// Status returns the daemon lifecycle status.
func (d *Daemon) Status() Status {
	s, _ := d.status.Load().(Status)
	return s
}

// Uptime is zero unless the daemon is running.
func (d *Daemon) Uptime() time.Duration {
	if d.Status() != StatusRunning {
		return 0
	}
	return time.Since(d.startTime)
}

// Start wires every component and starts the session. It returns once the
// orchestrator is accepting input; the session itself runs in the background.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.status.CompareAndSwap(StatusStopped, StatusStarting) {
		return ferrors.RuntimeError("daemon already started").WithContext("status", string(d.Status())).Build()
	}
	if err := d.start(ctx); err != nil {
		d.status.Store(StatusError)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = d.shutdown(stopCtx)
		return err
	}
	d.startTime = time.Now()
	d.status.Store(StatusRunning)
	d.logger.Info("Daemon started",
		logfields.Path(d.cfg.ContentPath()),
		slog.String("control_addr", d.control.Addr()))
	return nil
}

func (d *Daemon) start(parent context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.workers = newWorkerGroup(d.logger)
	d.bus = events.NewBus()
	d.store = nodestore.New()

	if err := d.startRecorder(ctx); err != nil {
		return err
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler http.Handler
	if d.cfg.Metrics.Enabled {
		prec := metrics.NewPrometheusRecorder(prom.NewRegistry())
		prec.CountDroppedEvents(d.bus.Dropped)
		rec, metricsHandler = prec, prec.Handler()
		bridge := metrics.NewBridge(d.bus, prec)
		d.workers.Go("metrics", func() error { return bridge.Run(ctx) })
		if err := waitReady(ctx, bridge.Ready()); err != nil {
			return err
		}
	}

	pipeline, err := phases.New(phases.Options{
		ConfigPath: d.cfgPath,
		Config:     d.cfg,
		Store:      d.store,
		Hub:        livereload.NewHub(rec, d.logger),
		Logger:     d.logger,
	})
	if err != nil {
		return err
	}
	d.pipeline = pipeline

	machine, err := develop.New(d.bus, mutation.NewDispatcher(d.logger), pipeline.Phases(), develop.Options{
		SessionID:         d.sessionID,
		BatchSize:         d.cfg.Develop.BatchSize,
		BatchWindow:       d.cfg.Develop.BatchWindow,
		MaxRecursion:      d.cfg.Develop.MaxRecursionOrDefault(),
		CommitConcurrency: d.cfg.Develop.CommitConcurrencyOrDefault(),
		Store:             d.store,
		Logger:            d.logger,
	})
	if err != nil {
		return err
	}
	d.machine = machine

	control, err := server.NewControl(server.ControlOptions{
		Addr:    d.cfg.HTTP.ControlAddr,
		Bus:     d.bus,
		Status:  machine,
		Metrics: metricsHandler,
		Logger:  d.logger,
	})
	if err != nil {
		return err
	}
	if err := control.Start(ctx); err != nil {
		return err
	}
	d.control = control

	d.workers.Go("develop", func() error { return machine.Run(ctx) })
	if err := waitReady(ctx, machine.Ready()); err != nil {
		return err
	}

	d.startNATS(ctx)
	if err := d.startWatcher(ctx); err != nil {
		return err
	}
	return d.startScheduler(ctx)
}

func (d *Daemon) startRecorder(ctx context.Context) error {
	if !d.cfg.Events.Enabled {
		return nil
	}
	path := d.cfg.EventsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryEventStore, "create event store directory").
			WithContext("path", path).Build()
	}
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryEventStore, "open event store").
			WithContext("path", path).Build()
	}
	d.events = store
	rec := NewRecorder(store, d.bus, d.logger)
	if err := rec.SessionStarted(ctx, d.sessionID, eventstore.SessionStartedPayload{
		Root:        d.cfg.Site.Root,
		BatchSize:   d.cfg.Develop.BatchSize,
		BatchWindow: d.cfg.Develop.BatchWindow,
	}); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryEventStore, "record session start").Build()
	}
	d.workers.Go("recorder", func() error { return rec.Run(ctx) })
	return waitReady(ctx, rec.Ready())
}

// startNATS connects the bridge. A broker that cannot be reached degrades
// the session to the other ingresses instead of failing it.
func (d *Daemon) startNATS(ctx context.Context) {
	if !d.cfg.NATS.Enabled {
		return
	}
	bridge, err := natsbridge.New(d.cfg.NATS, d.bus, d.logger)
	if err == nil {
		err = bridge.Start(ctx)
	}
	if err != nil {
		d.logger.Error("NATS ingress unavailable", logfields.Error(err))
		return
	}
	d.bridge = bridge
}

func (d *Daemon) startWatcher(ctx context.Context) error {
	opts := watch.Options{Debounce: d.cfg.Watch.Debounce, Bus: d.bus, Logger: d.logger}
	if d.cfg.Watch.Enabled {
		opts.ContentDir = d.cfg.ContentPath()
	}
	if d.cfg.Refresh.WatchConfig {
		opts.ConfigPath = d.cfgPath
	}
	if opts.ContentDir == "" && opts.ConfigPath == "" {
		return nil
	}
	w, err := watch.New(opts)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return err
	}
	d.watcher = w
	return nil
}

func (d *Daemon) startScheduler(ctx context.Context) error {
	if d.cfg.Refresh.Interval <= 0 && d.cfg.Refresh.Cron == "" {
		return nil
	}
	s, err := schedule.New(d.logger)
	if err != nil {
		return err
	}
	task := schedule.RefreshTask(ctx, d.bus, d.logger)
	if d.cfg.Refresh.Interval > 0 {
		if _, err := s.ScheduleEvery("refresh-interval", d.cfg.Refresh.Interval, task); err != nil {
			return err
		}
	}
	if d.cfg.Refresh.Cron != "" {
		if _, err := s.ScheduleCron("refresh-cron", d.cfg.Refresh.Cron, task); err != nil {
			return err
		}
	}
	s.Start()
	d.sched = s
	return nil
}

func waitReady(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the session and releases every component, bounded by ctx.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.status.CompareAndSwap(StatusRunning, StatusStopping) {
		if d.Status() == StatusStopped {
			return nil
		}
		return ferrors.RuntimeError("daemon is not running").WithContext("status", string(d.Status())).Build()
	}
	err := d.shutdown(ctx)
	d.status.Store(StatusStopped)
	d.logger.Info("Daemon stopped", logfields.Duration(time.Since(d.startTime)))
	return err
}

// shutdown stops ingress first so nothing new reaches the bus, then the
// session, then the observers.
func (d *Daemon) shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.sched != nil {
		errs = append(errs, d.sched.Stop())
		d.sched = nil
	}
	if d.watcher != nil {
		errs = append(errs, d.watcher.Stop())
		d.watcher = nil
	}
	if d.bridge != nil {
		errs = append(errs, d.bridge.Stop())
		d.bridge = nil
	}
	if d.control != nil {
		errs = append(errs, d.control.Stop(ctx))
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.workers != nil {
		errs = append(errs, d.workers.StopAndWait(ctx))
	}
	if d.pipeline != nil {
		errs = append(errs, d.pipeline.Close(ctx))
	}
	if d.bus != nil {
		d.bus.Close()
	}
	if d.events != nil {
		errs = append(errs, d.events.Close())
		d.events = nil
	}
	return errors.Join(errs...)
}

// Machine exposes the orchestrator; nil before Start.
func (d *Daemon) Machine() *develop.Machine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine
}

// Failed is closed when the session enters the failed state.
func (d *Daemon) Failed() <-chan struct{} {
	if m := d.Machine(); m != nil {
		return m.Failed()
	}
	return nil
}

// ControlAddr is the bound control server address.
func (d *Daemon) ControlAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.control == nil {
		return ""
	}
	return d.control.Addr()
}

// SiteAddr is the bound site server address, empty until the first run
// reaches runningWebpack.
func (d *Daemon) SiteAddr() string {
	m := d.Machine()
	if m == nil {
		return ""
	}
	if b := m.Context().Bundler; b != nil {
		return b.Addr()
	}
	return ""
}
