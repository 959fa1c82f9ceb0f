package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProbePing ProbeKind = "ping"
	ProbeHTTP ProbeKind = "http"
	ProbeTCP  ProbeKind = "tcp"
	ProbeGRPC ProbeKind = "grpc"
)

// ProbeKind identifies how the health of a server is checked.
type ProbeKind string

// ServerDefinition is the declarative description of one supervised worker.
// Definitions are created once from configuration and never mutated afterwards.
type ServerDefinition struct {
	Name       string
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
	Ports      []int
	Enabled    bool

	// HandshakeTimeout bounds the wait for the worker's initialize response.
	HandshakeTimeout time.Duration

	// StopGracePeriod bounds the wait between the graceful stop signal and a forced kill.
	StopGracePeriod time.Duration

	// CallTimeout bounds each request routed to the worker. Zero selects the supervisor's default.
	CallTimeout time.Duration

	HealthCheck   HealthCheckSpec
	RestartPolicy RestartPolicy
}

// HealthCheckSpec declares how a server is probed.
type HealthCheckSpec struct {
	Probe ProbeKind

	// Endpoint is the probe target for http, tcp and grpc probes.
	Endpoint string

	Interval time.Duration
	Timeout  time.Duration
}

// RestartPolicy declares how crashed servers are restarted.
type RestartPolicy struct {
	AutoRestart bool

	// MaxAttempts is the number of restart attempts permitted within Window.
	MaxAttempts int
	Window      time.Duration

	// Backoff holds the delay before each successive attempt. The last entry repeats.
	Backoff []time.Duration

	// Jitter is the maximum fraction of a delay that may be added at random, in [0, 1].
	Jitter float64
}

// Environ returns the definition's environment as KEY=VALUE pairs.
func (d ServerDefinition) Environ() []string {
	env := make([]string, 0, len(d.Env))
	for k, v := range d.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Validate ensures the definition can be used to spawn and supervise a server.
func (d ServerDefinition) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, fmt.Errorf("name cannot be empty"))
	}
	if strings.TrimSpace(d.Command) == "" {
		errs = append(errs, fmt.Errorf("command cannot be empty"))
	}
	if d.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake timeout must be positive, got %v", d.HandshakeTimeout))
	}
	if d.StopGracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("stop grace period must be positive, got %v", d.StopGracePeriod))
	}
	if d.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("call timeout cannot be negative, got %v", d.CallTimeout))
	}
	for _, p := range d.Ports {
		if p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("port out of range: %d", p))
		}
	}
	if err := d.HealthCheck.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("health check: %w", err))
	}
	if err := d.RestartPolicy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("restart policy: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("server '%s' is invalid: %w", d.Name, errors.Join(errs...))
	}

	return nil
}

// Validate ensures the probe settings are usable.
func (h HealthCheckSpec) Validate() error {
	switch h.Probe {
	case ProbePing:
	case ProbeHTTP, ProbeTCP, ProbeGRPC:
		if strings.TrimSpace(h.Endpoint) == "" {
			return fmt.Errorf("endpoint is required for '%s' probes", h.Probe)
		}
	default:
		return fmt.Errorf("unknown probe kind '%s'", h.Probe)
	}

	if h.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", h.Interval)
	}
	if h.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", h.Timeout)
	}

	return nil
}

// Validate ensures the restart budget and backoff schedule are usable.
func (p RestartPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative, got %d", p.MaxAttempts)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", p.Window)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be within [0, 1], got %v", p.Jitter)
	}
	if p.AutoRestart && len(p.Backoff) == 0 {
		return fmt.Errorf("backoff schedule cannot be empty when auto restart is enabled")
	}
	for i, b := range p.Backoff {
		if b < 0 {
			return fmt.Errorf("backoff[%d] cannot be negative, got %v", i, b)
		}
	}

	return nil
}
