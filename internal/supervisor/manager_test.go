package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/domain"
	internalerrors "github.com/mozilla-ai/fleetd/internal/errors"
	"github.com/mozilla-ai/fleetd/internal/notify"
	"github.com/mozilla-ai/fleetd/internal/protocol"
	"github.com/mozilla-ai/fleetd/internal/tools"
	"github.com/mozilla-ai/fleetd/internal/worker"
)

// helperModeEnv selects the behaviour of the test binary when it is re-executed as a worker.
const helperModeEnv = "FLEETD_SUPERVISOR_TEST_WORKER"

const (
	modeServe    = "serve"    // a well-behaved worker
	modeExit     = "exit"     // exits immediately with code 3
	modeSilent   = "silent"   // never answers the handshake
	modeStubborn = "stubborn" // serves, but ignores SIGTERM and lingers after stdin closes
	modeHung     = "hung"     // completes the handshake, then never answers again
)

func TestMain(m *testing.M) {
	mode := os.Getenv(helperModeEnv)
	if mode == "" {
		os.Exit(m.Run())
	}

	switch mode {
	case modeExit:
		os.Exit(3)
	case modeSilent:
		time.Sleep(time.Hour)
		os.Exit(0)
	case modeHung:
		os.Exit(runHungWorker())
	default:
		os.Exit(runHelperWorker(mode))
	}
}

func runHelperWorker(mode string) int {
	logger := hclog.New(&hclog.LoggerOptions{Output: os.Stderr, Level: hclog.Warn})

	reg, err := tools.NewRegistry(logger)
	if err != nil {
		return 1
	}
	_ = reg.Register(tools.Descriptor{
		Name: "echo",
		Handler: tools.HandlerFunc(func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(fmt.Sprint(args["text"])), nil
		}),
	})
	_ = reg.Register(tools.Descriptor{
		Name: "crash",
		Handler: tools.HandlerFunc(func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
			os.Exit(5)
			return nil, nil
		}),
	})

	w, err := worker.New(logger, reg)
	if err != nil {
		return 1
	}

	ctx := context.Background()
	if mode == modeStubborn {
		signal.Ignore(syscall.SIGTERM)
	} else {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGTERM)
		defer stop()
	}

	err = w.Serve(ctx, os.Stdin, os.Stdout)
	if mode == modeStubborn {
		time.Sleep(time.Hour)
	}
	if err != nil {
		return 1
	}
	return 0
}

// runHungWorker answers initialize and then reads requests without responding until stdin closes.
func runHungWorker() int {
	r := protocol.NewReader(os.Stdin)
	w := protocol.NewWriter(os.Stdout)

	msg, err := r.Read()
	if err != nil {
		return 1
	}
	req, ok := msg.(*protocol.Request)
	if !ok || req.Method != protocol.MethodInitialize {
		return 1
	}

	resp, err := protocol.NewResult(req.ID, protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      mcp.Implementation{Name: "hung", Version: "0.0.0"},
		Tools:           []mcp.Tool{mcp.NewTool("echo")},
	})
	if err != nil {
		return 1
	}
	if err := w.Write(resp); err != nil {
		return 1
	}

	_, _ = io.Copy(io.Discard, os.Stdin)
	return 0
}

func helperDefinition(t *testing.T, name string, mode string) domain.ServerDefinition {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	return domain.ServerDefinition{
		Name:             name,
		Command:          exe,
		Env:              map[string]string{helperModeEnv: mode},
		Enabled:          true,
		HandshakeTimeout: 10 * time.Second,
		StopGracePeriod:  5 * time.Second,
		HealthCheck: domain.HealthCheckSpec{
			Probe:    domain.ProbePing,
			Interval: time.Second,
			Timeout:  time.Second,
		},
		RestartPolicy: domain.RestartPolicy{
			MaxAttempts: 3,
			Window:      10 * time.Minute,
			Backoff:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
	}
}

func newTestManager(t *testing.T, defs []domain.ServerDefinition, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithJitterSource(func() float64 { return 0 })}, opts...)
	m, err := NewManager(hclog.NewNullLogger(), defs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })

	return m
}

func requireState(t *testing.T, m *Manager, name string, want domain.ServerState) {
	t.Helper()

	require.Eventually(t, func() bool {
		st, err := m.Status(name)
		return err == nil && st.State == want
	}, 10*time.Second, 10*time.Millisecond, "server %s never reached %s", name, want)
}

func countAlerts(stream *notify.Stream, alertType domain.AlertType) int {
	n := 0
	for _, a := range stream.Recent(0) {
		if a.Type == alertType {
			n++
		}
	}
	return n
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "a", modeServe)

	_, err := NewManager(nil, nil)
	require.EqualError(t, err, "logger cannot be nil")

	_, err = NewManager(hclog.NewNullLogger(), []domain.ServerDefinition{def, def})
	require.ErrorContains(t, err, "duplicate server name 'a'")

	bad := def
	bad.Command = ""
	_, err = NewManager(hclog.NewNullLogger(), []domain.ServerDefinition{bad})
	require.ErrorContains(t, err, "command cannot be empty")

	_, err = NewManager(hclog.NewNullLogger(), nil, WithHealthyResetThreshold(0))
	require.ErrorContains(t, err, "healthy reset threshold must be at least 1")
}

func TestManager_StartRouteStop(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []domain.ServerDefinition{helperDefinition(t, "quotes", modeServe)})
	ctx := context.Background()

	st, err := m.Status("quotes")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateStopped, st.State)

	require.NoError(t, m.Start(ctx, "quotes"))

	st, err = m.Status("quotes")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, st.State)
	require.Positive(t, st.PID)
	require.NotNil(t, st.StartedAt)
	require.Equal(t, []string{"crash", "echo"}, st.Tools)

	again, err := m.Status("quotes")
	require.NoError(t, err)
	require.Equal(t, st, again)

	require.ErrorIs(t, m.Start(ctx, "quotes"), internalerrors.ErrServerAlreadyRunning)

	require.NoError(t, m.Ping(ctx, "quotes"))

	listed, err := m.ListTools(ctx, "quotes")
	require.NoError(t, err)
	require.Len(t, listed, 2)

	res, err := m.CallTool(ctx, "quotes", "echo", map[string]any{"text": "ACME 42.00"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	require.Equal(t, "ACME 42.00", res.Content[0].(mcp.TextContent).Text)

	_, err = m.CallTool(ctx, "quotes", "missing", nil)
	require.ErrorIs(t, err, internalerrors.ErrBadRequest)

	require.NoError(t, m.Stop("quotes"))
	st, err = m.Status("quotes")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateStopped, st.State)
	require.Zero(t, st.PID)
	require.Empty(t, st.Tools)

	require.NoError(t, m.Stop("quotes"))
	require.ErrorIs(t, m.Ping(ctx, "quotes"), internalerrors.ErrServerNotRunning)
}

func TestManager_RoutedCallsTimeOut(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "hung", modeHung)
	def.CallTimeout = 200 * time.Millisecond
	m := newTestManager(t, []domain.ServerDefinition{def})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "hung"))

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "call tool",
			call: func() error {
				_, err := m.CallTool(ctx, "hung", "echo", map[string]any{"text": "hello"})
				return err
			},
		},
		{
			name: "list tools",
			call: func() error {
				_, err := m.ListTools(ctx, "hung")
				return err
			},
		},
		{
			name: "ping",
			call: func() error { return m.Ping(ctx, "hung") },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start := time.Now()
			err := tc.call()
			require.ErrorIs(t, err, internalerrors.ErrServerTimeout)
			require.ErrorIs(t, err, protocol.ErrCallTimeout)
			require.NotErrorIs(t, err, internalerrors.ErrToolCallFailed)
			require.GreaterOrEqual(t, time.Since(start), def.CallTimeout)
			require.Less(t, time.Since(start), 5*time.Second)
		})
	}

	// A timed out request leaves the server running.
	st, err := m.Status("hung")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, st.State)

	require.NoError(t, m.Stop("hung"))
}

func TestManager_CallTimeoutFallsBackToOption(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []domain.ServerDefinition{helperDefinition(t, "hung", modeHung)}, WithCallTimeout(150*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, "hung"))

	_, err := m.CallTool(ctx, "hung", "echo", nil)
	require.ErrorIs(t, err, internalerrors.ErrServerTimeout)
	require.ErrorContains(t, err, "after 150ms")

	_, err = NewManager(hclog.NewNullLogger(), nil, WithCallTimeout(0))
	require.ErrorContains(t, err, "call timeout must be positive")
}

func TestManager_UnknownAndDisabled(t *testing.T) {
	t.Parallel()

	disabled := helperDefinition(t, "off", modeServe)
	disabled.Enabled = false
	m := newTestManager(t, []domain.ServerDefinition{disabled})
	ctx := context.Background()

	require.ErrorIs(t, m.Start(ctx, "nope"), internalerrors.ErrServerNotFound)
	require.ErrorIs(t, m.Stop("nope"), internalerrors.ErrServerNotFound)
	_, err := m.Status("nope")
	require.ErrorIs(t, err, internalerrors.ErrServerNotFound)

	require.ErrorIs(t, m.Start(ctx, "off"), internalerrors.ErrServerDisabled)
	require.ErrorIs(t, m.Restart(ctx, "off"), internalerrors.ErrServerDisabled)
}

func TestManager_StopKillsAfterGracePeriod(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "stubborn", modeStubborn)
	def.StopGracePeriod = 300 * time.Millisecond
	m := newTestManager(t, []domain.ServerDefinition{def})

	require.NoError(t, m.Start(context.Background(), "stubborn"))

	start := time.Now()
	require.NoError(t, m.Stop("stubborn"))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, def.StopGracePeriod)
	require.Less(t, elapsed, 5*time.Second)

	st, err := m.Status("stubborn")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateStopped, st.State)
}

func TestManager_HandshakeTimeout(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "silent", modeSilent)
	def.HandshakeTimeout = 200 * time.Millisecond
	stream, err := notify.NewStream(10)
	require.NoError(t, err)
	m := newTestManager(t, []domain.ServerDefinition{def}, WithNotifier(stream))

	start := time.Now()
	err = m.Start(context.Background(), "silent")
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	st, err := m.Status("silent")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateCrashed, st.State)
	require.Zero(t, st.PID)
	require.Contains(t, st.LastError, "handshake failed")
	require.Equal(t, 1, countAlerts(stream, domain.AlertServerCrashed))
}

func TestManager_SpawnFailure(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "missing", modeServe)
	def.Command = "/nonexistent/fleetd-test-worker"
	m := newTestManager(t, []domain.ServerDefinition{def})

	err := m.Start(context.Background(), "missing")
	require.ErrorContains(t, err, "failed to start server 'missing'")
	requireState(t, m, "missing", domain.ServerStateCrashed)

	require.NoError(t, m.Reset("missing"))
	requireState(t, m, "missing", domain.ServerStateStopped)
}

func TestManager_BackoffThenPermanentlyFailed(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "flaky", modeExit)
	def.RestartPolicy.AutoRestart = true
	clock := clockwork.NewFakeClock()
	stream, err := notify.NewStream(20)
	require.NoError(t, err)
	m := newTestManager(t, []domain.ServerDefinition{def}, WithClock(clock), WithNotifier(stream))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.Error(t, m.Start(ctx, "flaky"))

	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		requireState(t, m, "flaky", domain.ServerStateRestarting)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))

		clock.Advance(delay - 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		require.True(t, m.scheduler.Pending("flaky"), "attempt %d fired before %s", i+1, delay)

		clock.Advance(10 * time.Millisecond)
		require.Eventually(t, func() bool {
			return countAlerts(stream, domain.AlertServerCrashed) == i+2
		}, 10*time.Second, 5*time.Millisecond, "attempt %d did not run", i+1)
	}

	requireState(t, m, "flaky", domain.ServerStatePermanentlyFailed)
	require.False(t, m.scheduler.Pending("flaky"))

	st, err := m.Status("flaky")
	require.NoError(t, err)
	require.Equal(t, 3, st.RestartCount)
	require.Equal(t, 4, countAlerts(stream, domain.AlertServerCrashed))
	require.Equal(t, 1, countAlerts(stream, domain.AlertServerPermanentlyFailed))

	// No fourth attempt, however long we wait.
	clock.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	requireState(t, m, "flaky", domain.ServerStatePermanentlyFailed)
	require.Equal(t, 4, countAlerts(stream, domain.AlertServerCrashed))

	require.ErrorIs(t, m.Start(ctx, "flaky"), internalerrors.ErrServerPermanentlyFailed)
	require.ErrorIs(t, m.Restart(ctx, "flaky"), internalerrors.ErrServerPermanentlyFailed)
	require.NoError(t, m.Stop("flaky"))
	requireState(t, m, "flaky", domain.ServerStatePermanentlyFailed)

	require.NoError(t, m.Reset("flaky"))
	st, err = m.Status("flaky")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateStopped, st.State)
	require.Zero(t, st.RestartCount)
	require.Empty(t, st.LastError)

	require.ErrorIs(t, m.Reset("flaky"), internalerrors.ErrInvalidStateTransition)
}

func TestManager_SupersededRetryDoesNotSkipBackoff(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "flaky", modeExit)
	def.RestartPolicy.AutoRestart = true
	clock := clockwork.NewFakeClock()
	stream, err := notify.NewStream(20)
	require.NoError(t, err)
	m := newTestManager(t, []domain.ServerDefinition{def}, WithClock(clock), WithNotifier(stream))
	s := m.servers["flaky"]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.Error(t, m.Start(ctx, "flaky"))
	requireState(t, m, "flaky", domain.ServerStateRestarting)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	// The first retry fires while an operator start holds the server.
	s.op.Lock()
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return !m.scheduler.Pending("flaky")
	}, 10*time.Second, 5*time.Millisecond)

	require.Error(t, m.start(ctx, s))
	require.Equal(t, 2, countAlerts(stream, domain.AlertServerCrashed))
	require.True(t, m.scheduler.Pending("flaky"))
	s.op.Unlock()

	// The fired retry must not launch the attempt scheduled by the operator start.
	time.Sleep(100 * time.Millisecond)
	s.op.Lock()
	s.op.Unlock()

	st, err := m.Status("flaky")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRestarting, st.State)
	require.Equal(t, 2, st.RestartCount)
	require.Equal(t, 2, countAlerts(stream, domain.AlertServerCrashed))
	require.True(t, m.scheduler.Pending("flaky"))

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return countAlerts(stream, domain.AlertServerCrashed) == 3
	}, 10*time.Second, 5*time.Millisecond)
}

func TestManager_UnexpectedExitRestarts(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "quotes", modeServe)
	def.RestartPolicy.AutoRestart = true
	clock := clockwork.NewFakeClock()
	m := newTestManager(t, []domain.ServerDefinition{def}, WithClock(clock))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, m.Start(ctx, "quotes"))
	before, err := m.Status("quotes")
	require.NoError(t, err)

	_, err = m.CallTool(ctx, "quotes", "crash", nil)
	require.Error(t, err)

	requireState(t, m, "quotes", domain.ServerStateRestarting)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	requireState(t, m, "quotes", domain.ServerStateRunning)
	after, err := m.Status("quotes")
	require.NoError(t, err)
	require.NotEqual(t, before.PID, after.PID)
	require.Equal(t, 1, after.RestartCount)
	require.Empty(t, after.LastError)
	require.NoError(t, m.Ping(ctx, "quotes"))
}

func TestManager_ManualRestartCountsAgainstBudget(t *testing.T) {
	t.Parallel()

	def := helperDefinition(t, "quotes", modeServe)
	def.RestartPolicy.MaxAttempts = 1
	m := newTestManager(t, []domain.ServerDefinition{def})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "quotes"))
	before, err := m.Status("quotes")
	require.NoError(t, err)

	require.NoError(t, m.Restart(ctx, "quotes"))
	after, err := m.Status("quotes")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, after.State)
	require.NotEqual(t, before.PID, after.PID)
	require.Equal(t, 1, after.RestartCount)

	require.ErrorIs(t, m.Restart(ctx, "quotes"), internalerrors.ErrServerPermanentlyFailed)
	st, err := m.Status("quotes")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStatePermanentlyFailed, st.State)
	require.Zero(t, st.PID)

	require.NoError(t, m.Reset("quotes"))
	require.NoError(t, m.Start(ctx, "quotes"))
	requireState(t, m, "quotes", domain.ServerStateRunning)
}

func TestManager_HealthyStreakClearsBudget(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []domain.ServerDefinition{helperDefinition(t, "quotes", modeServe)}, WithHealthyResetThreshold(2))
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "quotes"))
	require.NoError(t, m.Restart(ctx, "quotes"))

	healthy := domain.HealthRecord{Server: "quotes", Status: domain.HealthStatusHealthy, Timestamp: time.Now()}
	unhealthy := domain.HealthRecord{Server: "quotes", Status: domain.HealthStatusUnhealthy, Issues: []string{"timeout"}}

	require.NoError(t, m.RecordHealth("quotes", healthy))
	require.NoError(t, m.RecordHealth("quotes", unhealthy))
	require.NoError(t, m.RecordHealth("quotes", healthy))

	st, err := m.Status("quotes")
	require.NoError(t, err)
	require.Equal(t, 1, st.RestartCount)
	require.Equal(t, domain.HealthStatusHealthy, st.LastHealth.Status)

	require.NoError(t, m.RecordHealth("quotes", healthy))
	st, err = m.Status("quotes")
	require.NoError(t, err)
	require.Zero(t, st.RestartCount)

	require.ErrorIs(t, m.RecordHealth("nope", healthy), internalerrors.ErrServerNotFound)
}

func TestManager_StartAllStopAll(t *testing.T) {
	t.Parallel()

	disabled := helperDefinition(t, "off", modeServe)
	disabled.Enabled = false
	broken := helperDefinition(t, "broken", modeExit)

	m := newTestManager(t, []domain.ServerDefinition{
		helperDefinition(t, "a", modeServe),
		helperDefinition(t, "b", modeServe),
		disabled,
		broken,
	})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "broken")

	states := map[string]domain.ServerState{}
	for _, st := range m.List() {
		states[st.Name] = st.State
	}
	require.Equal(t, map[string]domain.ServerState{
		"a":      domain.ServerStateRunning,
		"b":      domain.ServerStateRunning,
		"off":    domain.ServerStateStopped,
		"broken": domain.ServerStateCrashed,
	}, states)

	names := make([]string, 0, 4)
	for _, st := range m.List() {
		names = append(names, st.Name)
	}
	require.Equal(t, []string{"a", "b", "off", "broken"}, names)

	require.NoError(t, m.StopAll())
	for _, st := range m.List() {
		require.Equal(t, domain.ServerStateStopped, st.State, st.Name)
	}
}

func TestManager_SameServerOperationsAreSerialized(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []domain.ServerDefinition{helperDefinition(t, "quotes", modeServe)})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, "quotes"))

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = m.Restart(ctx, "quotes")
				return
			}
			_ = m.Stop("quotes")
		}()
	}
	wg.Wait()

	st, err := m.Status("quotes")
	require.NoError(t, err)
	require.Contains(t, []domain.ServerState{domain.ServerStateRunning, domain.ServerStateStopped}, st.State)
	if st.State == domain.ServerStateRunning {
		require.Positive(t, st.PID)
	} else {
		require.Zero(t, st.PID)
	}

	require.NoError(t, m.Stop("quotes"))
	requireState(t, m, "quotes", domain.ServerStateStopped)
}

func TestManager_ShutdownRejectsStarts(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []domain.ServerDefinition{helperDefinition(t, "quotes", modeServe)})
	require.NoError(t, m.Start(context.Background(), "quotes"))

	require.NoError(t, m.Shutdown())
	requireState(t, m, "quotes", domain.ServerStateStopped)
	require.ErrorIs(t, m.Start(context.Background(), "quotes"), errShuttingDown)
}
