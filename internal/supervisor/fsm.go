package supervisor

import (
	"fmt"

	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/errors"
)

const (
	EventSpawned          EventKind = "spawned"
	EventSpawnFailed      EventKind = "spawn_failed"
	EventHandshakeOK      EventKind = "handshake_ok"
	EventHandshakeTimeout EventKind = "handshake_timeout"
	EventExited           EventKind = "exited"
	EventStopRequested    EventKind = "stop_requested"
	EventStopCompleted    EventKind = "stop_completed"
	EventRestartScheduled EventKind = "restart_scheduled"
	EventBudgetExhausted  EventKind = "budget_exhausted"
	EventReset            EventKind = "reset"
)

// EventKind names a lifecycle event.
type EventKind string

// Event drives a server's lifecycle state machine.
type Event struct {
	Kind EventKind

	// ExitCode is set for EventExited.
	ExitCode int
}

// Exited creates an EventExited carrying the process exit code.
func Exited(code int) Event {
	return Event{Kind: EventExited, ExitCode: code}
}

func (e Event) String() string {
	if e.Kind == EventExited {
		return fmt.Sprintf("%s(%d)", e.Kind, e.ExitCode)
	}
	return string(e.Kind)
}

// TransitionError reports an event that is not permitted in the current state.
type TransitionError struct {
	From  domain.ServerState
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: event '%s' in state '%s'", errors.ErrInvalidStateTransition, e.Event, e.From)
}

// Unwrap allows TransitionError to match ErrInvalidStateTransition.
func (e *TransitionError) Unwrap() error {
	return errors.ErrInvalidStateTransition
}

type edge struct {
	from domain.ServerState
	kind EventKind
}

var lifecycle = map[edge]domain.ServerState{
	{domain.ServerStateStopped, EventSpawned}:    domain.ServerStateStarting,
	{domain.ServerStateCrashed, EventSpawned}:    domain.ServerStateStarting,
	{domain.ServerStateRestarting, EventSpawned}: domain.ServerStateStarting,

	{domain.ServerStateStopped, EventSpawnFailed}:    domain.ServerStateCrashed,
	{domain.ServerStateCrashed, EventSpawnFailed}:    domain.ServerStateCrashed,
	{domain.ServerStateRestarting, EventSpawnFailed}: domain.ServerStateCrashed,

	{domain.ServerStateStarting, EventHandshakeOK}:      domain.ServerStateRunning,
	{domain.ServerStateStarting, EventHandshakeTimeout}: domain.ServerStateCrashed,

	{domain.ServerStateStarting, EventExited}: domain.ServerStateCrashed,
	{domain.ServerStateRunning, EventExited}:  domain.ServerStateCrashed,

	{domain.ServerStateStarting, EventStopRequested}:   domain.ServerStateStopping,
	{domain.ServerStateRunning, EventStopRequested}:    domain.ServerStateStopping,
	{domain.ServerStateCrashed, EventStopRequested}:    domain.ServerStateStopping,
	{domain.ServerStateRestarting, EventStopRequested}: domain.ServerStateStopping,
	{domain.ServerStateStopping, EventStopCompleted}:   domain.ServerStateStopped,

	{domain.ServerStateStopped, EventRestartScheduled}: domain.ServerStateRestarting,
	{domain.ServerStateCrashed, EventRestartScheduled}: domain.ServerStateRestarting,

	{domain.ServerStateStopped, EventBudgetExhausted}: domain.ServerStatePermanentlyFailed,
	{domain.ServerStateCrashed, EventBudgetExhausted}: domain.ServerStatePermanentlyFailed,

	{domain.ServerStateCrashed, EventReset}:           domain.ServerStateStopped,
	{domain.ServerStatePermanentlyFailed, EventReset}: domain.ServerStateStopped,
}

// transition returns the state reached by applying ev in from.
// The current state is left unchanged by the caller when a *TransitionError is returned.
func transition(from domain.ServerState, ev Event) (domain.ServerState, error) {
	to, ok := lifecycle[edge{from: from, kind: ev.Kind}]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}
