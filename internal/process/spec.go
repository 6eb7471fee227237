package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/healthsup/internal/logger"
)

// Spec describes a service to be launched and supervised.
// It is immutable once handed to a supervisor.
type Spec struct {
	Name    string              `json:"name" mapstructure:"name"`
	Command []string            `json:"command" mapstructure:"command"` // argv; a single entry with shell metacharacters runs via the shell
	WorkDir string              `json:"work_dir" mapstructure:"workdir"`
	Env     map[string]string   `json:"env" mapstructure:"env"`
	Log     logger.OutputConfig `json:"log" mapstructure:"log"`
}

const shellMeta = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for the spec's argv.
// A one-element command such as "cd app && python3 server.py" is handed to
// the platform shell; anything else is executed directly.
func (s Spec) BuildCommand() *exec.Cmd {
	if len(s.Command) == 1 {
		line := strings.TrimSpace(s.Command[0])
		if strings.ContainsAny(line, shellMeta) {
			return getShellCommand(line)
		}
		parts := strings.Fields(line)
		// #nosec G204
		return exec.Command(parts[0], parts[1:]...)
	}
	// #nosec G204
	return exec.Command(s.Command[0], s.Command[1:]...)
}

// Validate checks the fields required to launch the service.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("service name is required")
	}
	if !ValidName(s.Name) {
		return fmt.Errorf("service name %q: only A-Z a-z 0-9 . _ - are allowed and '..' is not", s.Name)
	}
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return fmt.Errorf("service %q: command is required", s.Name)
	}
	return nil
}

// ValidName reports whether name is usable as a service name: it travels in
// URLs, metric labels and log file names.
func ValidName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// String renders the command for logs.
func (s Spec) String() string { return strings.Join(s.Command, " ") }
