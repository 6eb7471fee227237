package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/healthsup/internal/health"
	"github.com/loykin/healthsup/internal/history"
	"github.com/loykin/healthsup/internal/metrics"
	"github.com/loykin/healthsup/internal/process"
)

var (
	// ErrLaunchAttemptsExceeded is wrapped by Run when the service could not be
	// launched MaxLaunchAttempts times in a row.
	ErrLaunchAttemptsExceeded = errors.New("launch attempts exceeded")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// historyTimeout bounds a single history sink write.
const historyTimeout = 5 * time.Second

// Controller is the subset of *process.Controller the supervisor drives.
type Controller interface {
	Start(spec process.Spec) (*process.Handle, error)
	Stop(h *process.Handle, grace time.Duration) error
	IsAlive(h *process.Handle) bool
}

// Prober issues a single health probe.
type Prober interface {
	Probe(ctx context.Context, cfg health.Config) health.Result
}

// Options configures a Supervisor. Spec, Health, Controller and Prober are required.
type Options struct {
	Spec       process.Spec
	Health     health.Config
	Policy     RestartPolicy
	Controller Controller
	Prober     Prober
	Logger     *slog.Logger
	// History receives lifecycle events; nil disables recording.
	History history.Sink
	// SampleUsage publishes child CPU/memory after each probe.
	SampleUsage bool
}

// Status is a point-in-time copy of the supervisor state.
type Status struct {
	Service             string         `json:"service"`
	State               State          `json:"state"`
	PID                 int            `json:"pid,omitempty"`
	RunID               string         `json:"run_id,omitempty"`
	StartedAt           time.Time      `json:"started_at,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Restarts            int            `json:"restarts"`
	LaunchFailures      int            `json:"launch_failures"`
	LastRestartAt       time.Time      `json:"last_restart_at,omitempty"`
	LastProbeAt         time.Time      `json:"last_probe_at,omitempty"`
	LastProbe           *health.Result `json:"last_probe,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
	Usage               *metrics.Usage `json:"usage,omitempty"`
}

// Supervisor keeps one service alive and healthy. All loop state is owned by
// the goroutine executing Run; other goroutines observe it through Status.
type Supervisor struct {
	spec   process.Spec
	health health.Config
	policy RestartPolicy
	ctrl   Controller
	prober Prober
	sink   history.Sink
	sample bool
	log    *slog.Logger

	// overridable in tests
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	started  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// loop-owned
	state         State
	handle        *process.Handle
	failures      int
	launchFails   int
	rapid         int
	restarts      int
	lastRestartAt time.Time

	mu   sync.RWMutex
	snap Status
}

// New validates opts and returns a supervisor in state Starting.
func New(opts Options) (*Supervisor, error) {
	if err := opts.Spec.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Health.Validate(); err != nil {
		return nil, fmt.Errorf("service %q: %w", opts.Spec.Name, err)
	}
	policy := opts.Policy.WithDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("service %q: %w", opts.Spec.Name, err)
	}
	if opts.Controller == nil || opts.Prober == nil {
		return nil, errors.New("supervisor requires a controller and a prober")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		spec:   opts.Spec,
		health: opts.Health,
		policy: policy,
		ctrl:   opts.Controller,
		prober: opts.Prober,
		sink:   opts.History,
		sample: opts.SampleUsage,
		log:    log.With("service", opts.Spec.Name),
		now:    time.Now,
		after:  time.After,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateStarting,
	}
	s.snap = Status{Service: opts.Spec.Name, State: StateStarting}
	return s, nil
}

// Name returns the supervised service name.
func (s *Supervisor) Name() string { return s.spec.Name }

// Shutdown asks Run to stop the child and return. It does not block; wait on
// Done for completion. Calling it before Run makes Run return immediately.
func (s *Supervisor) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Done is closed when Run has returned.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Status returns a snapshot safe for concurrent readers.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.snap
	if st.LastProbe != nil {
		p := *st.LastProbe
		st.LastProbe = &p
	}
	if st.Usage != nil {
		u := *st.Usage
		st.Usage = &u
	}
	return st
}

// Run launches the service and supervises it until ctx is canceled, Shutdown
// is called, or a fatal error occurs. A clean shutdown returns nil. Fatal
// outcomes are an error wrapping ErrLaunchAttemptsExceeded or a
// *process.StopError.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	select {
	case <-s.quit:
		cancel()
	default:
	}
	if ctx.Err() != nil {
		return s.shutdown("canceled before start")
	}

	s.log.Info("supervisor starting",
		"command", s.spec.String(),
		"health_url", s.health.URL,
		"interval", s.health.Interval,
		"failure_threshold", s.health.FailureThreshold)

	s.setState(StateStarting, "run")
	if err := s.launch(ctx); err != nil {
		return s.exit(err)
	}
	if s.handle == nil {
		return s.shutdown("shutdown during launch backoff")
	}
	s.setState(StateRunning, "launched")

	for {
		if !s.sleep(ctx, s.health.Interval) {
			return s.shutdown("shutdown requested")
		}

		res := s.check(ctx)
		if ctx.Err() != nil {
			return s.shutdown("shutdown requested")
		}
		if res.OK() {
			if s.failures > 0 {
				s.log.Info("service recovered", "after_failures", s.failures)
			}
			s.failures = 0
			metrics.SetConsecutiveFailures(s.spec.Name, 0)
			s.publish()
			continue
		}

		s.failures++
		metrics.SetConsecutiveFailures(s.spec.Name, s.failures)
		s.log.Warn("health check failed",
			"state", s.state.String(),
			"status", res.Status.String(),
			"reason", res.Reason,
			"consecutive_failures", s.failures,
			"threshold", s.health.FailureThreshold)
		s.publish()
		if s.failures < s.health.FailureThreshold {
			continue
		}

		reason := fmt.Sprintf("%d consecutive failed probes, last: %s", s.failures, res.Reason)
		s.setState(StateDegraded, reason)
		s.record(history.EventDegraded, reason, 0)
		if err := s.restart(ctx, reason); err != nil {
			return s.exit(err)
		}
	}
}

// check probes the service, or reports Error without probing when the child
// has already exited. An in-flight probe is not interrupted by shutdown.
func (s *Supervisor) check(ctx context.Context) health.Result {
	var res health.Result
	if !s.ctrl.IsAlive(s.handle) {
		reason := "process exited"
		if s.handle != nil {
			if err := s.handle.ExitErr(); err != nil {
				reason += ": " + err.Error()
			}
		}
		res = health.Result{Status: health.Error, Reason: reason}
		metrics.ForgetProcess(s.spec.Name)
	} else {
		res = s.prober.Probe(context.WithoutCancel(ctx), s.health)
		if s.sample && s.handle != nil {
			if u, err := metrics.SampleProcess(s.spec.Name, s.handle.PID); err == nil {
				s.mu.Lock()
				s.snap.Usage = &u
				s.mu.Unlock()
			}
		}
	}
	metrics.ObserveProbe(s.spec.Name, res.Status.String(), res.Latency.Seconds())

	s.mu.Lock()
	s.snap.LastProbe = &res
	s.snap.LastProbeAt = s.now()
	s.mu.Unlock()
	return res
}

// restart stops the current child, honors the cool-down and starts a new one.
// A nil return with a canceled ctx means shutdown interrupted the wait.
func (s *Supervisor) restart(ctx context.Context, reason string) error {
	s.setState(StateRestarting, reason)

	if err := s.stopHandle(); err != nil {
		return err
	}

	now := s.now()
	var since time.Duration
	if !s.lastRestartAt.IsZero() {
		since = now.Sub(s.lastRestartAt)
	}
	if !s.lastRestartAt.IsZero() && since < s.policy.Cooldown {
		s.rapid++
	} else {
		s.rapid = 0
	}
	if delay := s.policy.CooldownDelay(since, s.rapid); delay > 0 {
		s.log.Info("restart delayed by cool-down",
			"delay", delay,
			"since_last_restart", since,
			"rapid_restarts", s.rapid)
		metrics.ObserveRestartDelay(s.spec.Name, delay.Seconds())
		if !s.sleep(ctx, delay) {
			return nil
		}
	}

	if err := s.launch(ctx); err != nil {
		return err
	}
	if s.handle == nil {
		return nil
	}

	s.restarts++
	s.lastRestartAt = s.now()
	s.failures = 0
	metrics.IncRestart(s.spec.Name)
	metrics.SetConsecutiveFailures(s.spec.Name, 0)
	s.log.Info("service restarted", "pid", s.handle.PID, "run_id", s.handle.RunID, "restarts", s.restarts)
	s.record(history.EventRestart, reason, 0)
	s.setState(StateRunning, "restarted")
	return nil
}

// launch starts the child, retrying launch failures with exponential backoff.
// It returns nil without a handle when ctx is canceled during a backoff.
func (s *Supervisor) launch(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		h, err := s.ctrl.Start(s.spec)
		if err == nil {
			s.handle = h
			s.launchFails = 0
			metrics.IncStart(s.spec.Name)
			s.log.Info("process started", "state", s.state.String(), "pid", h.PID, "run_id", h.RunID)
			s.publish()
			s.record(history.EventStart, "", 0)
			return nil
		}

		s.launchFails++
		metrics.IncLaunchFailure(s.spec.Name)
		s.log.Error("launch failed",
			"state", s.state.String(),
			"attempt", s.launchFails,
			"max_attempts", s.policy.MaxLaunchAttempts,
			"cause", launchCause(err),
			"error", err)
		s.setLastError(err)
		s.record(history.EventLaunchError, err.Error(), s.launchFails)

		if s.launchFails >= s.policy.MaxLaunchAttempts {
			return fmt.Errorf("service %q: %w after %d attempts: %w",
				s.spec.Name, ErrLaunchAttemptsExceeded, s.launchFails, err)
		}
		backoff := s.policy.LaunchBackoff(s.launchFails)
		s.log.Info("retrying launch", "backoff", backoff, "attempt", s.launchFails+1)
		if !s.sleep(ctx, backoff) {
			return nil
		}
	}
}

// launchCause names the class of a launch failure for logs.
func launchCause(err error) string {
	var le *process.LaunchError
	if !errors.As(err, &le) {
		return "unknown"
	}
	switch {
	case le.NotFound():
		return "not_found"
	case le.PermissionDenied():
		return "permission_denied"
	default:
		return "spawn"
	}
}

// stopHandle stops and releases the current child, if any.
func (s *Supervisor) stopHandle() error {
	h := s.handle
	if h == nil {
		return nil
	}
	if err := s.ctrl.Stop(h, s.policy.GracePeriod); err != nil {
		return err
	}
	s.handle = nil
	metrics.IncStop(s.spec.Name)
	metrics.ForgetProcess(s.spec.Name)
	s.log.Info("process stopped", "pid", h.PID, "run_id", h.RunID)
	s.recordFor(h, history.EventStop, "", 0)
	s.publish()
	return nil
}

// shutdown is the cooperative exit path.
func (s *Supervisor) shutdown(reason string) error {
	if err := s.stopHandle(); err != nil {
		return s.exit(err)
	}
	s.setState(StateStopped, reason)
	s.record(history.EventShutdown, reason, 0)
	s.log.Info("supervisor stopped")
	return nil
}

// exit halts the supervisor on a fatal error.
func (s *Supervisor) exit(err error) error {
	var stopErr *process.StopError
	if errors.As(err, &stopErr) {
		s.log.Error("FATAL: process survived force kill; supervisor halting",
			"state", s.state.String(), "pid", stopErr.PID, "error", err)
	} else {
		s.log.Error("FATAL: supervisor halting", "state", s.state.String(), "error", err)
	}
	s.setLastError(err)
	s.setState(StateStopped, err.Error())
	s.record(history.EventHalt, err.Error(), s.launchFails)
	return err
}

func (s *Supervisor) setState(next State, reason string) {
	prev := s.state
	s.state = next
	if prev != next {
		s.log.Info("state transition", "from", prev.String(), "to", next.String(), "reason", reason)
		metrics.RecordStateTransition(s.spec.Name, prev.String(), next.String())
	}
	for _, st := range allStates {
		metrics.SetCurrentState(s.spec.Name, st.String(), st == next)
	}
	s.publish()
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	s.snap.LastError = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = s.state
	s.snap.ConsecutiveFailures = s.failures
	s.snap.Restarts = s.restarts
	s.snap.LaunchFailures = s.launchFails
	s.snap.LastRestartAt = s.lastRestartAt
	if h := s.handle; h != nil {
		s.snap.PID, s.snap.RunID, s.snap.StartedAt = h.PID, h.RunID, h.StartedAt
	} else {
		s.snap.PID, s.snap.RunID, s.snap.StartedAt = 0, "", time.Time{}
		s.snap.Usage = nil
	}
}

func (s *Supervisor) record(t history.EventType, reason string, attempt int) {
	s.recordFor(s.handle, t, reason, attempt)
}

func (s *Supervisor) recordFor(h *process.Handle, t history.EventType, reason string, attempt int) {
	if s.sink == nil {
		return
	}
	rec := history.Record{Service: s.spec.Name, State: s.state.String(), Reason: reason, Attempt: attempt}
	if h != nil {
		rec.PID, rec.RunID = h.PID, h.RunID
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.sink.Send(ctx, history.Event{Type: t, OccurredAt: s.now().UTC(), Record: rec}); err != nil {
		s.log.Warn("history sink failed", "event", string(t), "error", err)
	}
}

// sleep waits d or until ctx is done; it reports whether the full wait elapsed.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.after(d):
		return ctx.Err() == nil
	}
}
