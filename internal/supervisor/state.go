package supervisor

// State is the supervisor's lifecycle position for one service.
//
// State Machine:
// Starting -> Running -> Degraded -> Restarting -> Running
// any -> Stopped (terminal)
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDegraded
	StateRestarting
	StateStopped
)

var allStates = []State{StateStarting, StateRunning, StateDegraded, StateRestarting, StateStopped}

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool { return s == StateStopped }
