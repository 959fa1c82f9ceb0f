package config

import (
	"time"
)

var _ Provider = (*DefaultLoader)(nil)

type Loader interface {
	Load(path string) (*Config, error)
}

type Initializer interface {
	Init(path string) error
}

type Provider interface {
	Initializer
	Loader
}

type DefaultLoader struct{}

// Defaults applied to server entries that leave a setting unset.
const (
	DefaultAPIAddr          = "localhost:8191"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultStopGracePeriod  = 5 * time.Second
	DefaultCallTimeout      = 35 * time.Second
	DefaultProbeInterval    = 10 * time.Second
	DefaultProbeTimeout     = 2 * time.Second
	DefaultMaxAttempts      = 3
	DefaultRestartWindow    = 10 * time.Minute
	DefaultJitter           = 0.1
)

// DefaultBackoff is the backoff schedule used when a restart policy declares none.
func DefaultBackoff() []time.Duration {
	return []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
}

// Config represents the .fleetd.toml file structure.
type Config struct {
	Daemon         DaemonConfig  `toml:"daemon"`
	Servers        []ServerEntry `toml:"servers"`
	configFilePath string        `toml:"-"`
}

// DaemonConfig holds settings of the long-running daemon.
type DaemonConfig struct {
	// APIAddr is the address the HTTP API listens on.
	APIAddr string `toml:"api_addr,omitempty"`

	Health HealthConfig `toml:"health"`
}

// HealthConfig tunes the health monitor. Zero values select the monitor's defaults.
type HealthConfig struct {
	Interval              Duration `toml:"interval,omitempty"`
	UnhealthyThreshold    int      `toml:"unhealthy_threshold,omitempty"`
	HealthyResetThreshold int      `toml:"healthy_reset_threshold,omitempty"`
	CPUThreshold          float64  `toml:"cpu_threshold,omitempty"`
	MemoryThreshold       float64  `toml:"memory_threshold,omitempty"`
	HistorySize           int      `toml:"history_size,omitempty"`
	ReportPath            string   `toml:"report_path,omitempty"`
}

// ServerEntry represents the configuration of a single supervised worker.
type ServerEntry struct {
	// Name is the unique name of the server, e.g. 'quotes'.
	Name string `json:"name" toml:"name" yaml:"name"`

	// Command is the executable started for the worker.
	Command string `json:"command" toml:"command" yaml:"command"`

	Args       []string          `json:"args,omitempty"       toml:"args,omitempty"        yaml:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"        toml:"env,omitempty"         yaml:"env,omitempty"`
	WorkingDir string            `json:"workingDir,omitempty" toml:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// Ports lists the ports the worker binds. Ports shared by enabled servers are reported as conflicts.
	Ports []int `json:"ports,omitempty" toml:"ports,omitempty" yaml:"ports,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`

	HandshakeTimeout Duration `json:"handshakeTimeout,omitempty" toml:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty"`
	StopGracePeriod  Duration `json:"stopGracePeriod,omitempty"  toml:"stop_grace_period,omitempty" yaml:"stop_grace_period,omitempty"`

	// CallTimeout bounds tool calls and tool listings routed to the worker.
	CallTimeout Duration `json:"callTimeout,omitempty" toml:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`

	HealthCheck   HealthCheckEntry   `json:"healthCheck"   toml:"health_check"   yaml:"health_check"`
	RestartPolicy RestartPolicyEntry `json:"restartPolicy" toml:"restart_policy" yaml:"restart_policy"`
}

// HealthCheckEntry is the probe configuration of a server.
type HealthCheckEntry struct {
	// Probe is one of ping, http, tcp or grpc. Defaults to ping.
	Probe    string   `json:"probe,omitempty"    toml:"probe,omitempty"    yaml:"probe,omitempty"`
	Endpoint string   `json:"endpoint,omitempty" toml:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Interval Duration `json:"interval,omitempty" toml:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"  toml:"timeout,omitempty"  yaml:"timeout,omitempty"`
}

// RestartPolicyEntry is the restart configuration of a server.
// Pointer fields distinguish an explicit zero from an omitted value.
type RestartPolicyEntry struct {
	AutoRestart *bool      `json:"autoRestart,omitempty" toml:"auto_restart,omitempty" yaml:"auto_restart,omitempty"`
	MaxAttempts *int       `json:"maxAttempts,omitempty" toml:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Window      Duration   `json:"window,omitempty"      toml:"window,omitempty"       yaml:"window,omitempty"`
	Backoff     []Duration `json:"backoff,omitempty"     toml:"backoff,omitempty"      yaml:"backoff,omitempty"`
	Jitter      *float64   `json:"jitter,omitempty"      toml:"jitter,omitempty"       yaml:"jitter,omitempty"`
}
