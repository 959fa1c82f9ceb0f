package domain

import "time"

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusMissing   HealthStatus = "missing"
)

// HealthStatus represents the classification of a server after a poll.
type HealthStatus string

// HealthRecord is the outcome of polling a single server.
type HealthRecord struct {
	Server    string            `json:"server"              yaml:"server"`
	Timestamp time.Time         `json:"timestamp"           yaml:"timestamp"`
	Status    HealthStatus      `json:"status"              yaml:"status"`
	Issues    []string          `json:"issues,omitempty"    yaml:"issues,omitempty"`
	Latency   time.Duration     `json:"latency"             yaml:"latency"`
	Resources *ResourceSnapshot `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Healthy reports whether the record classifies the server as healthy.
func (r HealthRecord) Healthy() bool {
	return r.Status == HealthStatusHealthy
}

// ResourceSnapshot captures the resource usage of a server process.
type ResourceSnapshot struct {
	PID int `json:"pid" yaml:"pid"`

	// CPUPercent is the CPU time consumed since the previous sample, as a percentage of wall time.
	CPUPercent float64 `json:"cpu_percent" yaml:"cpu_percent"`

	// MemoryPercent is the resident set size as a percentage of total system memory.
	MemoryPercent float64 `json:"memory_percent" yaml:"memory_percent"`

	ResidentBytes uint64    `json:"resident_bytes" yaml:"resident_bytes"`
	SampledAt     time.Time `json:"sampled_at"     yaml:"sampled_at"`
}

// HealthReport summarises the most recent poll of every server.
type HealthReport struct {
	Timestamp time.Time               `json:"timestamp"  yaml:"timestamp"`
	Total     int                     `json:"total"      yaml:"total"`
	Healthy   int                     `json:"healthy"    yaml:"healthy"`
	Unhealthy int                     `json:"unhealthy"  yaml:"unhealthy"`
	Missing   int                     `json:"missing"    yaml:"missing"`
	PerServer map[string]HealthRecord `json:"per_server" yaml:"per_server"`
	Alerts    []Alert                 `json:"alerts"     yaml:"alerts"`
}
