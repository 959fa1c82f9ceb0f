package domain

import "time"

const (
	AlertServerMissing           AlertType = "server_missing"
	AlertServerUnhealthy         AlertType = "server_unhealthy"
	AlertHighCPU                 AlertType = "high_cpu"
	AlertHighMemory              AlertType = "high_memory"
	AlertPortConflict            AlertType = "port_conflict"
	AlertServerCrashed           AlertType = "server_crashed"
	AlertServerPermanentlyFailed AlertType = "server_permanently_failed"
)

// AlertType classifies an alert event.
type AlertType string

// Alert is a typed event handed to notification sinks.
type Alert struct {
	ID        string    `json:"id"        yaml:"id"`
	Type      AlertType `json:"type"      yaml:"type"`
	Servers   []string  `json:"servers"   yaml:"servers"`
	Message   string    `json:"message"   yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}
