package domain

import "time"

const (
	ServerStateStopped           ServerState = "stopped"
	ServerStateStarting          ServerState = "starting"
	ServerStateRunning           ServerState = "running"
	ServerStateStopping          ServerState = "stopping"
	ServerStateCrashed           ServerState = "crashed"
	ServerStateRestarting        ServerState = "restarting"
	ServerStatePermanentlyFailed ServerState = "permanently_failed"
)

// ServerState is the lifecycle state of a supervised server.
type ServerState string

// AllServerStates returns every lifecycle state in declaration order.
func AllServerStates() []ServerState {
	return []ServerState{
		ServerStateStopped,
		ServerStateStarting,
		ServerStateRunning,
		ServerStateStopping,
		ServerStateCrashed,
		ServerStateRestarting,
		ServerStatePermanentlyFailed,
	}
}

// ServerStatus is a point-in-time copy of a supervised server's runtime record.
type ServerStatus struct {
	Name         string
	State        ServerState
	PID          int
	StartedAt    *time.Time
	RestartCount int
	LastError    string
	LastHealth   *HealthRecord
	Resources    *ResourceSnapshot
	Tools        []string
}
