package emg

import "fmt"

// PipelineState is the lifecycle state of the online control loop.
type PipelineState int32

const (
	StateIdle PipelineState = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name so JSON status payloads are readable.
func (s PipelineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *PipelineState) UnmarshalText(b []byte) error {
	for _, st := range []PipelineState{StateIdle, StateRunning, StateStopping, StateTerminated} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", b)
}
