package l6mission

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the navigation state machine position.
type State int

const (
	StateInit State = iota + 1
	StateTracking
	StatePlanning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateTracking:
		return "TRACKING"
	case StatePlanning:
		return "PLANNING"
	case StateFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState converts a state name into a State.
func ParseState(value string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "INIT":
		return StateInit, nil
	case "TRACKING":
		return StateTracking, nil
	case "PLANNING":
		return StatePlanning, nil
	case "FINISHED":
		return StateFinished, nil
	default:
		return 0, fmt.Errorf("unknown navigation state %q", value)
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts state names.
func (s *State) UnmarshalJSON(b []byte) error {
	var raw *string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	parsed, err := ParseState(*raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
