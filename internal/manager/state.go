package manager

import "fmt"

// State is the lifecycle state of a managed server process.
//
// Stopped -> Starting -> Running -> Stopping -> Stopped, and any active state
// falls back to Stopped when the process exits.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// StateNames lists every state name, used to reset per-state gauges.
var StateNames = []string{"stopped", "starting", "running", "stopping"}

func (s State) String() string {
	if s >= 0 && int(s) < len(StateNames) {
		return StateNames[s]
	}
	return "unknown"
}

// Active reports whether an OS process is held in this state.
func (s State) Active() bool { return s != StateStopped }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseState maps a name produced by String back to a State.
func ParseState(name string) (State, bool) {
	for i, n := range StateNames {
		if n == name {
			return State(i), true
		}
	}
	return StateStopped, false
}

func (s *State) UnmarshalText(b []byte) error {
	v, ok := ParseState(string(b))
	if !ok {
		return fmt.Errorf("unknown state %q", string(b))
	}
	*s = v
	return nil
}
