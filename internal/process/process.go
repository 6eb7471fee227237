package process

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/healthsup/internal/env"
)

// DefaultKillTimeout bounds how long Stop waits for the reaper after SIGKILL.
const DefaultKillTimeout = 2 * time.Second

// Handle is the owned reference to one running child. Exactly one goroutine
// waits on the underlying command; it closes Done when the child is reaped.
type Handle struct {
	Name      string
	RunID     string
	PID       int
	StartedAt time.Time

	cmd     *exec.Cmd
	closers []io.Closer
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
	exitAt  time.Time
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr returns the wait error after exit (nil while running or on exit 0).
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// ExitedAt returns the reap time, zero while running.
func (h *Handle) ExitedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitAt
}

// Controller starts, stops and signals supervised children.
// It keeps no per-child state; every child is represented by its Handle.
type Controller struct {
	env *env.Env
	// KillTimeout is how long Stop waits for exit after SIGKILL.
	KillTimeout time.Duration
	// WaitDelay bounds how long reaping waits for output pipes held open by
	// grandchildren after the child itself exited.
	WaitDelay time.Duration
}

// NewController returns a Controller composing child environments from e.
// A nil e uses the OS environment only.
func NewController(e *env.Env) *Controller {
	if e == nil {
		e = env.New()
		e.FromOS()
	}
	return &Controller{env: e, KillTimeout: DefaultKillTimeout, WaitDelay: time.Second}
}

// Start launches the service described by spec and returns its handle.
// Any failure before the child is running is reported as *LaunchError.
func (c *Controller) Start(spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, &LaunchError{Name: spec.Name, Command: spec.String(), Err: err}
	}
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = c.env.Merge(spec.Env)
	cmd.WaitDelay = c.WaitDelay
	configureSysProcAttr(cmd)

	var closers []io.Closer
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, &LaunchError{Name: spec.Name, Command: spec.String(), Err: err}
	}
	closers = append(closers, null)
	cmd.Stdin = null
	cmd.Stdout, cmd.Stderr = null, null
	if spec.Log.Enabled() {
		outW, errW, err := spec.Log.Writers(spec.Name)
		if err != nil {
			closeAll(closers)
			return nil, &LaunchError{Name: spec.Name, Command: spec.String(), Err: err}
		}
		if outW != nil {
			cmd.Stdout = outW
			closers = append(closers, outW)
		}
		if errW != nil {
			cmd.Stderr = errW
			closers = append(closers, errW)
		}
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return nil, &LaunchError{Name: spec.Name, Command: spec.String(), Err: err}
	}
	h := &Handle{
		Name:      spec.Name,
		RunID:     uuid.NewString(),
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		closers:   closers,
		done:      make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	closeAll(h.closers)
	h.mu.Lock()
	h.exitErr = err
	h.exitAt = time.Now()
	h.mu.Unlock()
	close(h.done)
}

// IsAlive reports, without blocking, whether the handle's process is still running.
func (c *Controller) IsAlive(h *Handle) bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop asks the process group to terminate, waits up to grace, then force-kills.
// Stopping a nil or already exited handle is a no-op.
func (c *Controller) Stop(h *Handle, grace time.Duration) error {
	if !c.IsAlive(h) {
		return nil
	}
	_ = terminate(h.PID)
	if waitDone(h.done, grace) {
		return nil
	}
	_ = forceKill(h.PID)
	if waitDone(h.done, c.killTimeout()) {
		return nil
	}
	return &StopError{Name: h.Name, PID: h.PID, Err: ErrStopFailed}
}

func (c *Controller) killTimeout() time.Duration {
	if c.KillTimeout <= 0 {
		return DefaultKillTimeout
	}
	return c.KillTimeout
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}
