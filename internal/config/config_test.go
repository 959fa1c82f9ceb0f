package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

const fullConfig = `
[daemon]
api_addr = "127.0.0.1:9000"

[daemon.health]
interval = "5s"
unhealthy_threshold = 4
healthy_reset_threshold = 6
cpu_threshold = 90.5
memory_threshold = 70.0
history_size = 20
report_path = "reports/health.yaml"

[[servers]]
name = "quotes"
command = "/usr/local/bin/quotes-worker"
args = ["--cache", "60s"]
env = { API_KEY = "secret" }
working_dir = "/srv/quotes"
ports = [9101]
handshake_timeout = "3s"
stop_grace_period = "1s"
call_timeout = "20s"

[servers.health_check]
probe = "HTTP"
endpoint = "http://localhost:9101/healthz"
interval = "15s"
timeout = "500ms"

[servers.restart_policy]
auto_restart = false
max_attempts = 0
window = "1m"
backoff = ["100ms", "1s"]
jitter = 0.0

[[servers]]
name = "search"
command = "search-worker"
enabled = false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".fleetd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultLoader_Load(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, fullConfig)
	cfg, err := (&DefaultLoader{}).Load(path)
	require.NoError(t, err)

	require.Equal(t, path, cfg.Path())
	require.Equal(t, "127.0.0.1:9000", cfg.APIAddr())
	require.Equal(t, HealthConfig{
		Interval:              Duration(5 * time.Second),
		UnhealthyThreshold:    4,
		HealthyResetThreshold: 6,
		CPUThreshold:          90.5,
		MemoryThreshold:       70,
		HistorySize:           20,
		ReportPath:            "reports/health.yaml",
	}, cfg.Daemon.Health)

	defs, err := cfg.Definitions()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	require.Equal(t, domain.ServerDefinition{
		Name:             "quotes",
		Command:          "/usr/local/bin/quotes-worker",
		Args:             []string{"--cache", "60s"},
		Env:              map[string]string{"API_KEY": "secret"},
		WorkingDir:       "/srv/quotes",
		Ports:            []int{9101},
		Enabled:          true,
		HandshakeTimeout: 3 * time.Second,
		StopGracePeriod:  time.Second,
		CallTimeout:      20 * time.Second,
		HealthCheck: domain.HealthCheckSpec{
			Probe:    domain.ProbeHTTP,
			Endpoint: "http://localhost:9101/healthz",
			Interval: 15 * time.Second,
			Timeout:  500 * time.Millisecond,
		},
		RestartPolicy: domain.RestartPolicy{
			AutoRestart: false,
			MaxAttempts: 0,
			Window:      time.Minute,
			Backoff:     []time.Duration{100 * time.Millisecond, time.Second},
			Jitter:      0,
		},
	}, defs[0])

	require.Equal(t, "search", defs[1].Name)
	require.False(t, defs[1].Enabled)
}

func TestServerEntry_DefinitionDefaults(t *testing.T) {
	t.Parallel()

	def := ServerEntry{Name: " quotes ", Command: "quotes-worker"}.Definition()

	require.Equal(t, "quotes", def.Name)
	require.True(t, def.Enabled)
	require.Equal(t, DefaultHandshakeTimeout, def.HandshakeTimeout)
	require.Equal(t, DefaultStopGracePeriod, def.StopGracePeriod)
	require.Equal(t, DefaultCallTimeout, def.CallTimeout)
	require.Equal(t, domain.HealthCheckSpec{
		Probe:    domain.ProbePing,
		Interval: DefaultProbeInterval,
		Timeout:  DefaultProbeTimeout,
	}, def.HealthCheck)
	require.Equal(t, domain.RestartPolicy{
		AutoRestart: true,
		MaxAttempts: DefaultMaxAttempts,
		Window:      DefaultRestartWindow,
		Backoff:     DefaultBackoff(),
		Jitter:      DefaultJitter,
	}, def.RestartPolicy)
	require.NoError(t, def.Validate())
}

func TestDefaultLoader_LoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		errIs       error
		errContains string
	}{
		{
			name:        "invalid duration",
			content:     "[[servers]]\nname = \"a\"\ncommand = \"a\"\nhandshake_timeout = \"soon\"\n",
			errIs:       ErrConfigLoadFailed,
			errContains: "failed to decode config",
		},
		{
			name:        "unknown key",
			content:     "[[servers]]\nname = \"a\"\ncommand = \"a\"\npackage = \"x\"\n",
			errIs:       ErrInvalidKey,
			errContains: "servers.package",
		},
		{
			name:        "duplicate names",
			content:     "[[servers]]\nname = \"a\"\ncommand = \"a\"\n[[servers]]\nname = \"a\"\ncommand = \"b\"\n",
			errIs:       ErrConfigLoadFailed,
			errContains: "duplicate server name 'a'",
		},
		{
			name:        "missing command",
			content:     "[[servers]]\nname = \"a\"\n",
			errIs:       ErrConfigLoadFailed,
			errContains: "command cannot be empty",
		},
		{
			name:        "endpoint required",
			content:     "[[servers]]\nname = \"a\"\ncommand = \"a\"\n[servers.health_check]\nprobe = \"tcp\"\n",
			errIs:       ErrConfigLoadFailed,
			errContains: "endpoint is required for 'tcp' probes",
		},
		{
			name:        "negative daemon threshold",
			content:     "[daemon.health]\nunhealthy_threshold = -1\n",
			errIs:       ErrInvalidValue,
			errContains: "daemon.health.unhealthy_threshold",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := (&DefaultLoader{}).Load(writeConfig(t, tc.content))
			require.ErrorIs(t, err, tc.errIs)
			require.ErrorContains(t, err, tc.errContains)
		})
	}
}

func TestDefaultLoader_LoadPathErrors(t *testing.T) {
	t.Parallel()

	_, err := (&DefaultLoader{}).Load("   ")
	require.ErrorIs(t, err, ErrConfigLoadFailed)
	require.ErrorContains(t, err, "path cannot be empty")

	_, err = (&DefaultLoader{}).Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, ErrConfigLoadFailed)
	require.ErrorContains(t, err, "fleetd config init")
}

func TestDefaultLoader_Init(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".fleetd.toml")
	loader := &DefaultLoader{}

	require.NoError(t, loader.Init(path))
	require.ErrorContains(t, loader.Init(path), "already exists")

	cfg, err := loader.Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultAPIAddr, cfg.APIAddr())
	require.Empty(t, cfg.ListServers())
	require.Equal(t, 3, cfg.Daemon.Health.UnhealthyThreshold)
}

func TestDuration_Text(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	require.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))

	require.NoError(t, d.UnmarshalText(nil))
	require.Zero(t, d)

	require.ErrorIs(t, d.UnmarshalText([]byte("later")), ErrInvalidValue)
}
