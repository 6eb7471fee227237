package supervisor

import (
	"errors"
	"time"
)

// RestartPolicy bounds how aggressively a failing service is restarted.
type RestartPolicy struct {
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period"`
	// Cooldown is the minimum spacing between two health-triggered restarts.
	Cooldown time.Duration `json:"cooldown" mapstructure:"cooldown"`
	// BackoffBase is the first wait after a failed launch.
	BackoffBase time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	// MaxBackoff caps both launch backoff and cool-down growth.
	MaxBackoff time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	// MaxLaunchAttempts is how many consecutive launch failures are tolerated.
	MaxLaunchAttempts int `json:"max_launch_attempts" mapstructure:"max_launch_attempts"`
}

// DefaultRestartPolicy returns the policy used when a service configures none.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		GracePeriod:       time.Second,
		Cooldown:          10 * time.Second,
		BackoffBase:       time.Second,
		MaxBackoff:        time.Minute,
		MaxLaunchAttempts: 5,
	}
}

// WithDefaults fills zero fields from DefaultRestartPolicy.
func (p RestartPolicy) WithDefaults() RestartPolicy {
	d := DefaultRestartPolicy()
	if p.GracePeriod == 0 {
		p.GracePeriod = d.GracePeriod
	}
	if p.Cooldown == 0 {
		p.Cooldown = d.Cooldown
	}
	if p.BackoffBase == 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.MaxLaunchAttempts == 0 {
		p.MaxLaunchAttempts = d.MaxLaunchAttempts
	}
	return p
}

func (p RestartPolicy) Validate() error {
	if p.GracePeriod < 0 || p.Cooldown < 0 || p.BackoffBase < 0 || p.MaxBackoff < 0 {
		return errors.New("restart durations must not be negative")
	}
	if p.MaxLaunchAttempts < 1 {
		return errors.New("restart max_launch_attempts must be >= 1")
	}
	return nil
}

// LaunchBackoff is the wait after the n-th consecutive failed launch:
// BackoffBase·2^(n-1), capped at MaxBackoff.
func (p RestartPolicy) LaunchBackoff(n int) time.Duration {
	return p.grow(p.BackoffBase, n)
}

// CooldownDelay is the wait before a restart that follows the previous one
// by sinceLast. rapid counts consecutive restarts that each fell inside the
// cool-down window (0 = this restart is not rapid). The first rapid restart
// waits out the remaining window; later ones wait at least
// Cooldown·2^(rapid-1), capped at MaxBackoff, and never less than the
// remaining window.
func (p RestartPolicy) CooldownDelay(sinceLast time.Duration, rapid int) time.Duration {
	if rapid <= 0 || p.Cooldown <= 0 {
		return 0
	}
	remaining := p.Cooldown - sinceLast
	if remaining < 0 {
		remaining = 0
	}
	if rapid == 1 {
		return remaining
	}
	if grown := p.grow(p.Cooldown, rapid); grown > remaining {
		return grown
	}
	return remaining
}

func (p RestartPolicy) grow(base time.Duration, n int) time.Duration {
	if base <= 0 || n <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
