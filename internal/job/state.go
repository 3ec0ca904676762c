package job

import (
	"errors"
	"fmt"
	"time"
)

// State is a step in a job's lifecycle.
type State int

const (
	StateCreated State = iota
	StateProbing
	StatePlanning
	StateEncoding
	StateValidating
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateCreated:    "created",
	StateProbing:    "probing",
	StatePlanning:   "planning",
	StateEncoding:   "encoding",
	StateValidating: "validating",
	StateCompleted:  "completed",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrTerminalState is returned when a transition leaves a terminal state.
var ErrTerminalState = errors.New("job is in a terminal state")

// ErrIllegalTransition is returned for transitions outside the lifecycle.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StateCreated:    {StateProbing, StateFailed},
	StateProbing:    {StatePlanning, StateFailed},
	StatePlanning:   {StateEncoding, StateFailed},
	StateEncoding:   {StateValidating, StateFailed, StateCancelled},
	StateValidating: {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is reported to observers on every state change.
type Transition struct {
	JobID string
	From  State
	To    State
	At    time.Time
	Err   error
}
