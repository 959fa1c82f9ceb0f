package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/perms"
)

const skeleton = `[daemon]
api_addr = "localhost:8191"

[daemon.health]
interval = "1s"
unhealthy_threshold = 3

# [[servers]]
# name = "quotes"
# command = "/usr/local/bin/quotes-worker"
# ports = [9101]
#
# [servers.health_check]
# probe = "ping"
# interval = "10s"
# timeout = "2s"
#
# [servers.restart_policy]
# max_attempts = 3
# window = "10m"
# backoff = ["1s", "2s", "4s"]
`

// Init creates the base skeleton configuration file for a fleetd project.
func (d *DefaultLoader) Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(skeleton), perms.RegularFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Load decodes and validates the configuration file at path.
func (d *DefaultLoader) Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrConfigLoadFailed)
	}

	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found, run: 'fleetd config init'", ErrConfigLoadFailed)
		}
		return nil, fmt.Errorf("%w: failed to stat config file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	var cfg *Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", ErrConfigLoadFailed, path, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: config file is empty (%s)", ErrConfigLoadFailed, path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidKey, path, strings.Join(keys, ", "))
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: failed to validate existing config (%s): %w", ErrConfigLoadFailed, path, err)
	}

	cfg.configFilePath = path

	return cfg, nil
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.configFilePath
}

// ListServers returns a copy of the configured server entries.
func (c *Config) ListServers() []ServerEntry {
	return slices.Clone(c.Servers)
}

// APIAddr returns the configured API address or the default.
func (c *Config) APIAddr() string {
	if addr := strings.TrimSpace(c.Daemon.APIAddr); addr != "" {
		return addr
	}
	return DefaultAPIAddr
}

// Definitions converts every server entry into a validated ServerDefinition, in file order.
func (c *Config) Definitions() ([]domain.ServerDefinition, error) {
	defs := make([]domain.ServerDefinition, 0, len(c.Servers))
	seen := make(map[string]struct{}, len(c.Servers))

	var errs []error
	for _, entry := range c.Servers {
		name := strings.TrimSpace(entry.Name)
		if _, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("duplicate server name '%s'", name))
			continue
		}
		seen[name] = struct{}{}

		def := entry.Definition()
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return defs, nil
}

// Definition converts the entry into a ServerDefinition, applying defaults for unset fields.
// The result is not validated.
func (e ServerEntry) Definition() domain.ServerDefinition {
	def := domain.ServerDefinition{
		Name:             strings.TrimSpace(e.Name),
		Command:          strings.TrimSpace(e.Command),
		Args:             slices.Clone(e.Args),
		Env:              make(map[string]string, len(e.Env)),
		WorkingDir:       e.WorkingDir,
		Ports:            slices.Clone(e.Ports),
		Enabled:          e.Enabled == nil || *e.Enabled,
		HandshakeTimeout: e.HandshakeTimeout.or(DefaultHandshakeTimeout),
		StopGracePeriod:  e.StopGracePeriod.or(DefaultStopGracePeriod),
		CallTimeout:      e.CallTimeout.or(DefaultCallTimeout),
		HealthCheck: domain.HealthCheckSpec{
			Probe:    domain.ProbePing,
			Endpoint: strings.TrimSpace(e.HealthCheck.Endpoint),
			Interval: e.HealthCheck.Interval.or(DefaultProbeInterval),
			Timeout:  e.HealthCheck.Timeout.or(DefaultProbeTimeout),
		},
		RestartPolicy: domain.RestartPolicy{
			AutoRestart: true,
			MaxAttempts: DefaultMaxAttempts,
			Window:      e.RestartPolicy.Window.or(DefaultRestartWindow),
			Backoff:     DefaultBackoff(),
			Jitter:      DefaultJitter,
		},
	}

	for k, v := range e.Env {
		def.Env[k] = v
	}
	if p := strings.TrimSpace(e.HealthCheck.Probe); p != "" {
		def.HealthCheck.Probe = domain.ProbeKind(strings.ToLower(p))
	}

	rp := e.RestartPolicy
	if rp.AutoRestart != nil {
		def.RestartPolicy.AutoRestart = *rp.AutoRestart
	}
	if rp.MaxAttempts != nil {
		def.RestartPolicy.MaxAttempts = *rp.MaxAttempts
	}
	if rp.Jitter != nil {
		def.RestartPolicy.Jitter = *rp.Jitter
	}
	if len(rp.Backoff) > 0 {
		def.RestartPolicy.Backoff = make([]time.Duration, 0, len(rp.Backoff))
		for _, b := range rp.Backoff {
			def.RestartPolicy.Backoff = append(def.RestartPolicy.Backoff, b.Std())
		}
	}

	return def
}

// validate orchestrates validation of configuration structure.
func (c *Config) validate() error {
	if _, err := c.Definitions(); err != nil {
		return err
	}

	if err := c.Daemon.Health.validate(); err != nil {
		return fmt.Errorf("daemon configuration error: %w", err)
	}

	return nil
}

func (h HealthConfig) validate() error {
	var errs []error

	if h.Interval < 0 {
		errs = append(errs, NewErrInvalidValue("daemon.health.interval", h.Interval.String()))
	}
	if h.UnhealthyThreshold < 0 {
		errs = append(errs, NewErrInvalidValue("daemon.health.unhealthy_threshold", fmt.Sprint(h.UnhealthyThreshold)))
	}
	if h.HealthyResetThreshold < 0 {
		errs = append(errs, NewErrInvalidValue("daemon.health.healthy_reset_threshold", fmt.Sprint(h.HealthyResetThreshold)))
	}
	if h.CPUThreshold < 0 {
		errs = append(errs, NewErrInvalidValue("daemon.health.cpu_threshold", fmt.Sprint(h.CPUThreshold)))
	}
	if h.MemoryThreshold < 0 {
		errs = append(errs, NewErrInvalidValue("daemon.health.memory_threshold", fmt.Sprint(h.MemoryThreshold)))
	}
	if h.HistorySize < 0 {
		errs = append(errs, NewErrInvalidValue("daemon.health.history_size", fmt.Sprint(h.HistorySize)))
	}

	return errors.Join(errs...)
}
