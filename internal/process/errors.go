package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrStopFailed reports a child that survived SIGKILL.
var ErrStopFailed = errors.New("process did not exit after force kill")

// LaunchError is returned by Controller.Start when the service could not be
// spawned: executable missing, permission denied, bad working directory.
type LaunchError struct {
	Name    string
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s (%s): %v", e.Name, e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// NotFound reports whether the executable could not be located.
func (e *LaunchError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, os.ErrNotExist)
}

// PermissionDenied reports whether the executable or working dir was not accessible.
func (e *LaunchError) PermissionDenied() bool { return errors.Is(e.Err, os.ErrPermission) }

// StopError is returned when a child could not be terminated.
type StopError struct {
	Name string
	PID  int
	Err  error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop %s (pid %d): %v", e.Name, e.PID, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
