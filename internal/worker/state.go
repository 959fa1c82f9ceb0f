package worker

import (
	"fmt"
	"slices"
)

const (
	StateStarting State = iota
	StateInitializing
	StateReady
	StateServing
	StateDraining
	StateTerminated
)

// State is the lifecycle state of a worker runtime.
type State int

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateStarting:     {StateInitializing, StateDraining, StateTerminated},
	StateInitializing: {StateReady, StateDraining, StateTerminated},
	StateReady:        {StateServing, StateDraining, StateTerminated},
	StateServing:      {StateDraining, StateTerminated},
	StateDraining:     {StateServing, StateTerminated},
}

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canTransition reports whether moving from one state to another is permitted.
func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
