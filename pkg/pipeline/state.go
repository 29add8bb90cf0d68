package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned when a controller is used after its session ended.
var ErrClosed = errors.New("pipeline: controller closed")

// State is the lifecycle position of a session.
type State int

const (
	// Idle means no session has started.
	Idle State = iota
	// Opening acquires the frame source and loads the model.
	Opening
	// Running reads and processes frames.
	Running
	// Draining flushes the recording and releases resources.
	Draining
	// Closed is terminal.
	Closed
)

var stateNames = [...]string{"idle", "opening", "running", "draining", "closed"}

// String returns the lower-case state name.
func (s State) String() string {
	if s < Idle || s > Closed {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state name for JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown state %q", text)
}

// next lists the transitions allowed from each state.
var next = map[State][]State{
	Idle:     {Opening},
	Opening:  {Running, Closed},
	Running:  {Draining, Closed},
	Draining: {Closed},
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EndReason says why a session stopped.
type EndReason string

const (
	// EndEOS means the source ran out of frames.
	EndEOS EndReason = "eos"
	// EndCancelled means the cancel key was pressed or the context was cancelled.
	EndCancelled EndReason = "cancelled"
	// EndReadFailure means a frame read failed mid-stream.
	EndReadFailure EndReason = "read-failure"
	// EndFatal means the session could not start or crashed.
	EndFatal EndReason = "fatal"
)
