// Package healthsup supervises long-running services: it launches them,
// polls an HTTP health endpoint and restarts them after sustained failures.
package healthsup

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/healthsup/internal/config"
	"github.com/loykin/healthsup/internal/daemon"
	"github.com/loykin/healthsup/internal/health"
	"github.com/loykin/healthsup/internal/history"
	"github.com/loykin/healthsup/internal/history/factory"
	"github.com/loykin/healthsup/internal/metrics"
	"github.com/loykin/healthsup/internal/process"
	"github.com/loykin/healthsup/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type HealthConfig = health.Config

type HealthResult = health.Result

type RestartPolicy = supervisor.RestartPolicy

type State = supervisor.State

type Status = supervisor.Status

type Config = cfg.Config

type HistorySink = history.Sink

const (
	StateStarting   = supervisor.StateStarting
	StateRunning    = supervisor.StateRunning
	StateDegraded   = supervisor.StateDegraded
	StateRestarting = supervisor.StateRestarting
	StateStopped    = supervisor.StateStopped
)

var (
	ErrLaunchAttemptsExceeded = supervisor.ErrLaunchAttemptsExceeded
	ErrStopFailed             = process.ErrStopFailed
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

// Options configures NewSupervisor. A nil History records nothing.
type Options struct {
	Spec    Spec
	Health  HealthConfig
	Policy  RestartPolicy
	History HistorySink
}

// NewSupervisor builds a supervisor backed by the OS process controller and
// the HTTP health checker.
func NewSupervisor(o Options) (*Supervisor, error) {
	s, err := supervisor.New(supervisor.Options{
		Spec:       o.Spec,
		Health:     o.Health,
		Policy:     o.Policy,
		Controller: process.NewController(nil),
		Prober:     health.NewChecker(),
		History:    o.History,
	})
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: s}, nil
}

func (s *Supervisor) Run(ctx context.Context) error { return s.inner.Run(ctx) }
func (s *Supervisor) Shutdown()                     { s.inner.Shutdown() }
func (s *Supervisor) Done() <-chan struct{}         { return s.inner.Done() }
func (s *Supervisor) Status() Status                { return s.inner.Status() }

// Probe issues one health probe outside any supervisor.
func Probe(ctx context.Context, c HealthConfig) HealthResult {
	return health.NewChecker().Probe(ctx, c)
}

// LoadConfig reads and validates a TOML or YAML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// RunConfig runs every service in c until ctx is canceled or one halts.
func RunConfig(ctx context.Context, c *Config) error {
	d, err := daemon.New(c)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// NewHistorySink opens a history sink from a DSN (sqlite, postgres, clickhouse).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
