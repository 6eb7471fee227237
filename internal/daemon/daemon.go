// Package daemon assembles supervisors, history sinks, the pid file and the
// control server from a loaded configuration and runs them until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"vawter.tech/stopper"

	"github.com/loykin/healthsup/internal/config"
	"github.com/loykin/healthsup/internal/health"
	"github.com/loykin/healthsup/internal/history"
	"github.com/loykin/healthsup/internal/history/factory"
	"github.com/loykin/healthsup/internal/logger"
	"github.com/loykin/healthsup/internal/metrics"
	"github.com/loykin/healthsup/internal/pidfile"
	"github.com/loykin/healthsup/internal/process"
	"github.com/loykin/healthsup/internal/server"
	"github.com/loykin/healthsup/internal/supervisor"
)

const (
	// stopGrace is how long the stopper waits for supervisors after Stop.
	stopGrace = 30 * time.Second
	// serverShutdownTimeout bounds draining the control server.
	serverShutdownTimeout = 5 * time.Second
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Option customizes how New builds the daemon.
type Option func(*options)

type options struct {
	ctrl   supervisor.Controller
	prober supervisor.Prober
	log    *slog.Logger
}

// WithController replaces the OS process controller.
func WithController(c supervisor.Controller) Option { return func(o *options) { o.ctrl = c } }

// WithProber replaces the HTTP health checker.
func WithProber(p supervisor.Prober) Option { return func(o *options) { o.prober = p } }

// WithLogger skips building a logger from the log section.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// Daemon runs one supervisor per configured service.
type Daemon struct {
	cfg       *config.Config
	log       *slog.Logger
	logCloser io.Closer
	sinks     history.Multi
	sups      []*supervisor.Supervisor
	byName    map[string]*supervisor.Supervisor

	quit     chan struct{}
	quitOnce sync.Once
	ready    chan struct{}

	mu   sync.Mutex
	addr string
}

// New builds every component named by cfg. Nothing is started until Run.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		cfg:    cfg,
		byName: make(map[string]*supervisor.Supervisor, len(cfg.Services)),
		quit:   make(chan struct{}),
		ready:  make(chan struct{}),
	}

	if o.log != nil {
		d.log = o.log
		d.logCloser = nopCloser{}
	} else {
		l, closer, err := logger.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("log: %w", err)
		}
		d.log, d.logCloser = l, closer
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			d.log.Warn("metrics registration failed", "error", err)
		}
	}

	sinks, err := factory.NewMulti(cfg.History.Sinks)
	if err != nil {
		_ = d.logCloser.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	d.sinks = sinks

	ctrl := o.ctrl
	if ctrl == nil {
		base, err := cfg.GlobalEnv()
		if err != nil {
			d.closeResources()
			return nil, err
		}
		ctrl = process.NewController(base)
	}
	prober := o.prober
	if prober == nil {
		prober = health.NewChecker()
	}

	for _, svc := range cfg.Services {
		sup, err := supervisor.New(supervisor.Options{
			Spec:        svc.Spec(),
			Health:      svc.Health,
			Policy:      svc.Restart,
			Controller:  ctrl,
			Prober:      prober,
			Logger:      d.log,
			History:     d.sinks,
			SampleUsage: cfg.Metrics.Enabled,
		})
		if err != nil {
			d.closeResources()
			return nil, err
		}
		d.sups = append(d.sups, sup)
		d.byName[svc.Name] = sup
	}
	return d, nil
}

// Run starts the control server and every supervisor, then blocks until
// Shutdown, ctx cancellation, or a supervisor halting. A halted supervisor
// stops all others and its error is returned.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.closeResources()

	pid := os.Getpid()
	if path := d.cfg.Daemon.PIDFile; path != "" {
		if err := pidfile.Write(path, pid); err != nil {
			return err
		}
		defer func() {
			if err := pidfile.Remove(path, pid); err != nil {
				d.log.Warn("pid file cleanup failed", "path", path, "error", err)
			}
		}()
	}

	var srv *http.Server
	if d.cfg.Server.Enabled {
		router := server.NewRouter(d, d.cfg.Server.BasePath, d.cfg.Metrics.Enabled)
		s, err := server.NewServer(d.cfg.Server.Listen, router, d.log)
		if err != nil {
			return err
		}
		srv = s
		d.mu.Lock()
		d.addr = s.Addr
		d.mu.Unlock()
		d.log.Info("control server listening", "addr", s.Addr, "base_path", d.cfg.Server.BasePath)
	}

	d.log.Info("daemon starting", "pid", pid, "services", len(d.sups), "config", d.cfg.Path)

	var (
		errMu  sync.Mutex
		fatals []error
	)
	started := make([]atomic.Bool, len(d.sups))
	sctx := stopper.WithContext(ctx)
	for i, sup := range d.sups {
		sctx.Go(func(sctx *stopper.Context) error {
			started[i].Store(true)
			go func() {
				select {
				case <-sctx.Stopping():
					sup.Shutdown()
				case <-sup.Done():
				}
			}()
			err := sup.Run(ctx)
			if err != nil {
				errMu.Lock()
				fatals = append(fatals, err)
				errMu.Unlock()
				d.log.Error("supervisor halted, stopping daemon", "service", sup.Name(), "error", err)
				d.Shutdown()
			}
			return err
		})
	}
	close(d.ready)

	select {
	case <-d.quit:
		d.log.Info("shutdown requested")
	case <-ctx.Done():
		d.log.Info("shutdown on signal", "reason", context.Cause(ctx))
	}
	sctx.Stop(stopGrace)
	_ = sctx.Wait()
	for i, sup := range d.sups {
		if started[i].Load() {
			<-sup.Done()
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.log.Warn("control server shutdown", "error", err)
		}
		cancel()
	}

	errMu.Lock()
	err := errors.Join(fatals...)
	errMu.Unlock()
	if err != nil {
		d.log.Error("daemon stopped with errors", "error", err)
		return err
	}
	d.log.Info("daemon stopped")
	return nil
}

// Shutdown asks Run to stop every supervisor. It is safe to call many times.
func (d *Daemon) Shutdown() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// Ready is closed once Run has launched the supervisors and the control
// server is listening.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr is the bound control server address, empty when disabled or not yet running.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Statuses returns a snapshot of every supervisor in config order.
func (d *Daemon) Statuses() []supervisor.Status {
	out := make([]supervisor.Status, 0, len(d.sups))
	for _, s := range d.sups {
		out = append(out, s.Status())
	}
	return out
}

// Status returns one supervisor's snapshot.
func (d *Daemon) Status(name string) (supervisor.Status, bool) {
	s, ok := d.byName[name]
	if !ok {
		return supervisor.Status{}, false
	}
	return s.Status(), true
}

func (d *Daemon) closeResources() {
	if err := d.sinks.Close(); err != nil {
		d.log.Warn("history sink close failed", "error", err)
	}
	_ = d.logCloser.Close()
}
