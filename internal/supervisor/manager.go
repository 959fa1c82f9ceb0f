// Package supervisor starts, stops and restarts worker processes and routes requests to them.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mozilla-ai/fleetd/internal/domain"
	internalerrors "github.com/mozilla-ai/fleetd/internal/errors"
	"github.com/mozilla-ai/fleetd/internal/notify"
	"github.com/mozilla-ai/fleetd/internal/protocol"
)

// alertTimeout bounds delivery of a single lifecycle alert.
const alertTimeout = 5 * time.Second

// errShuttingDown is returned by operations issued after Shutdown.
var errShuttingDown = errors.New("supervisor is shutting down")

// Manager owns the lifecycle of every configured server.
// Operations on different servers run independently; operations on the same server are serialized.
// Use NewManager to create a Manager.
type Manager struct {
	logger    hclog.Logger
	opts      Options
	scheduler *Scheduler
	order     []string
	servers   map[string]*server

	// lifetime is cancelled by Shutdown and bounds handshakes of automatic restarts.
	lifetime context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
}

// server is the runtime record of one ServerDefinition.
type server struct {
	def    domain.ServerDefinition
	logger hclog.Logger

	// op serializes lifecycle operations and may be held while waiting on the process.
	op sync.Mutex
	// retryGen identifies the current scheduled restart. It is guarded by op.
	retryGen uint64

	// mu guards the fields below. It is never held while waiting.
	mu            sync.RWMutex
	state         domain.ServerState
	proc          *process
	startedAt     *time.Time
	restartCount  int
	lastError     string
	lastHealth    *domain.HealthRecord
	resources     *domain.ResourceSnapshot
	tools         []mcp.Tool
	budget        *budget
	healthyStreak int
}

// NewManager creates a Manager for defs. Servers start in the stopped state.
func NewManager(logger hclog.Logger, defs []domain.ServerDefinition, opt ...Option) (*Manager, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid supervisor options: %w", err)
	}

	logger = logger.Named("supervisor")
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:    logger,
		opts:      opts,
		scheduler: NewScheduler(opts.Clock),
		servers:   make(map[string]*server, len(defs)),
		lifetime:  ctx,
		cancel:    cancel,
	}

	var errs []error
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := m.servers[def.Name]; exists {
			errs = append(errs, fmt.Errorf("duplicate server name '%s'", def.Name))
			continue
		}
		m.servers[def.Name] = &server{
			def:    def,
			logger: logger.Named(def.Name),
			state:  domain.ServerStateStopped,
			budget: newBudget(def.RestartPolicy),
		}
		m.order = append(m.order, def.Name)
		opts.Metrics.ServerStateChanged(def.Name, domain.ServerStateStopped)
	}
	if len(errs) > 0 {
		cancel()
		return nil, errors.Join(errs...)
	}

	return m, nil
}

// Definitions returns the configured server definitions in configuration order.
func (m *Manager) Definitions() []domain.ServerDefinition {
	defs := make([]domain.ServerDefinition, 0, len(m.order))
	for _, name := range m.order {
		defs = append(defs, m.servers[name].def)
	}
	return defs
}

// Definition returns the definition of the named server.
func (m *Manager) Definition(name string) (domain.ServerDefinition, error) {
	s, err := m.lookup(name)
	if err != nil {
		return domain.ServerDefinition{}, err
	}
	return s.def, nil
}

// Start spawns the named server and waits for its handshake.
// A failed spawn or handshake leaves the server crashed and applies its restart policy.
func (m *Manager) Start(ctx context.Context, name string) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}
	if !s.def.Enabled {
		return fmt.Errorf("%w: %s", internalerrors.ErrServerDisabled, name)
	}

	s.op.Lock()
	defer s.op.Unlock()

	return m.start(ctx, s)
}

// start launches a server that is not already running. The caller holds s.op.
func (m *Manager) start(ctx context.Context, s *server) error {
	if m.closed.Load() {
		return errShuttingDown
	}

	switch s.currentState() {
	case domain.ServerStateStarting, domain.ServerStateRunning:
		return fmt.Errorf("%w: %s", internalerrors.ErrServerAlreadyRunning, s.def.Name)
	case domain.ServerStatePermanentlyFailed:
		return fmt.Errorf("%w: %s", internalerrors.ErrServerPermanentlyFailed, s.def.Name)
	case domain.ServerStateRestarting:
		m.cancelRetry(s)
	}

	return m.launch(ctx, s)
}

// Stop gracefully stops the named server, killing it when it outlives its grace period.
// The server always ends up stopped, except a permanently failed server which is left untouched.
func (m *Manager) Stop(name string) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}

	s.op.Lock()
	defer s.op.Unlock()

	m.stop(s)

	return nil
}

// Restart stops the named server, confirms it has exited and starts it again.
// The attempt counts against the server's restart budget.
func (m *Manager) Restart(ctx context.Context, name string) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}
	if !s.def.Enabled {
		return fmt.Errorf("%w: %s", internalerrors.ErrServerDisabled, name)
	}

	s.op.Lock()
	defer s.op.Unlock()

	if m.closed.Load() {
		return errShuttingDown
	}
	if s.currentState() == domain.ServerStatePermanentlyFailed {
		return fmt.Errorf("%w: %s", internalerrors.ErrServerPermanentlyFailed, name)
	}

	m.stop(s)

	s.mu.Lock()
	attempt, ok := s.budget.take(m.opts.Clock.Now())
	if !ok {
		m.applyLocked(s, Event{Kind: EventBudgetExhausted})
		s.mu.Unlock()
		m.permanentlyFailed(s)
		return fmt.Errorf("%w: %s", internalerrors.ErrServerPermanentlyFailed, name)
	}
	m.applyLocked(s, Event{Kind: EventRestartScheduled})
	s.restartCount++
	s.mu.Unlock()

	m.opts.Metrics.ServerRestarted(name)
	s.logger.Info("Restarting", "attempt", attempt, "max_attempts", s.def.RestartPolicy.MaxAttempts)

	return m.launch(ctx, s)
}

// Reset re-arms a permanently failed or crashed server: it becomes stopped with a cleared restart budget.
func (m *Manager) Reset(name string) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}

	s.op.Lock()
	defer s.op.Unlock()

	m.cancelRetry(s)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.applyLocked(s, Event{Kind: EventReset}); err != nil {
		return err
	}
	s.budget.reset()
	s.restartCount = 0
	s.healthyStreak = 0
	s.lastError = ""

	s.logger.Info("Reset")

	return nil
}

// StartAll starts every enabled server concurrently. Servers that are already running are left alone.
func (m *Manager) StartAll(ctx context.Context) error {
	return m.each(func(s *server) error {
		if !s.def.Enabled {
			s.logger.Debug("Skipping disabled server")
			return nil
		}
		err := m.Start(ctx, s.def.Name)
		if errors.Is(err, internalerrors.ErrServerAlreadyRunning) {
			return nil
		}
		return err
	})
}

// StopAll stops every server concurrently.
func (m *Manager) StopAll() error {
	return m.each(func(s *server) error {
		return m.Stop(s.def.Name)
	})
}

// Shutdown stops every server and prevents further starts and automatic restarts.
func (m *Manager) Shutdown() error {
	m.closed.Store(true)
	m.cancel()
	m.scheduler.Stop()

	return m.StopAll()
}

// Status returns a copy of the named server's runtime record. It has no side effects.
func (m *Manager) Status(name string) (domain.ServerStatus, error) {
	s, err := m.lookup(name)
	if err != nil {
		return domain.ServerStatus{}, err
	}
	return s.snapshot(), nil
}

// List returns the status of every server in configuration order.
func (m *Manager) List() []domain.ServerStatus {
	out := make([]domain.ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.servers[name].snapshot())
	}
	return out
}

// RecordHealth stores the latest health record of a server.
// A sustained run of healthy polls while running clears the restart budget and counter.
func (m *Manager) RecordHealth(name string, rec domain.HealthRecord) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := rec
	r.Issues = slices.Clone(rec.Issues)
	s.lastHealth = &r
	if rec.Resources != nil {
		res := *rec.Resources
		s.resources = &res
	}

	if !rec.Healthy() || s.state != domain.ServerStateRunning {
		s.healthyStreak = 0
		return nil
	}

	s.healthyStreak++
	if s.healthyStreak >= m.opts.HealthyResetThreshold && (s.restartCount > 0 || s.budget.used(m.opts.Clock.Now()) > 0) {
		s.budget.reset()
		s.restartCount = 0
		s.logger.Info("Restart budget cleared after sustained healthy run", "healthy_polls", s.healthyStreak)
	}

	return nil
}

// Ping sends a liveness request to a running server.
func (m *Manager) Ping(ctx context.Context, name string) error {
	return m.call(ctx, name, protocol.MethodPing, nil, nil)
}

// ListTools asks a running server for its tools.
func (m *Manager) ListTools(ctx context.Context, name string) ([]mcp.Tool, error) {
	var res protocol.ToolsListResult
	if err := m.call(ctx, name, protocol.MethodToolsList, nil, &res); err != nil {
		if isRoutingError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", internalerrors.ErrToolListFailed, name, err)
	}

	return res.Tools, nil
}

// CallTool invokes a tool on a running server.
// Arguments rejected by the worker are reported as ErrBadRequest.
func (m *Manager) CallTool(ctx context.Context, name string, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	var raw json.RawMessage
	err := m.call(ctx, name, protocol.MethodToolsCall, protocol.CallToolParams{Name: tool, Arguments: args}, &raw)
	if err != nil {
		if isRoutingError(err) {
			return nil, err
		}
		var perr *protocol.Error
		if errors.As(err, &perr) && perr.Code == protocol.CodeInvalidParams {
			return nil, fmt.Errorf("%w: %s/%s: %w", internalerrors.ErrBadRequest, name, tool, err)
		}
		return nil, fmt.Errorf("%w: %s/%s: %w", internalerrors.ErrToolCallFailed, name, tool, err)
	}

	res, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", internalerrors.ErrToolCallFailed, name, tool, err)
	}

	return res, nil
}

// call sends a request to a running server, bounded by the server's call timeout.
// A request that outlives it fails with ErrServerTimeout.
func (m *Manager) call(ctx context.Context, name string, method string, params any, result any) error {
	s, c, err := m.client(name)
	if err != nil {
		return err
	}

	timeout := s.def.CallTimeout
	if timeout <= 0 {
		timeout = m.opts.CallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = c.Call(ctx, method, params, result)
	if errors.Is(err, protocol.ErrCallTimeout) {
		return fmt.Errorf("%w: %s %s after %s: %w", internalerrors.ErrServerTimeout, name, method, timeout, err)
	}

	return err
}

// isRoutingError reports errors raised before or instead of a worker answer.
func isRoutingError(err error) bool {
	return errors.Is(err, internalerrors.ErrServerNotFound) ||
		errors.Is(err, internalerrors.ErrServerNotRunning) ||
		errors.Is(err, internalerrors.ErrServerTimeout)
}

func (m *Manager) lookup(name string) (*server, error) {
	s, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", internalerrors.ErrServerNotFound, name)
	}
	return s, nil
}

func (m *Manager) client(name string) (*server, *protocol.Client, error) {
	s, err := m.lookup(name)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != domain.ServerStateRunning || s.proc == nil {
		return nil, nil, fmt.Errorf("%w: %s", internalerrors.ErrServerNotRunning, name)
	}

	return s, s.proc.client, nil
}

func (m *Manager) each(fn func(s *server) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, name := range m.order {
		s := m.servers[name]
		g.Go(func() error {
			if err := fn(s); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// launch spawns the process and performs the handshake. The caller holds s.op.
func (m *Manager) launch(ctx context.Context, s *server) error {
	name := s.def.Name
	now := m.opts.Clock.Now()

	proc, err := spawn(s.logger, s.def, now)
	if err != nil {
		m.crashed(s, Event{Kind: EventSpawnFailed}, err)
		return fmt.Errorf("failed to start server '%s': %w", name, err)
	}

	s.mu.Lock()
	m.applyLocked(s, Event{Kind: EventSpawned})
	s.proc = proc
	s.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, s.def.HandshakeTimeout)
	tools, err := proc.handshake(hctx)
	cancel()
	if err != nil {
		ev := Event{Kind: EventHandshakeTimeout}
		if proc.exited() {
			ev = Exited(proc.exitCode())
		}
		if killErr := proc.kill(); killErr != nil {
			s.logger.Warn("Failed to kill process", "error", killErr)
		}

		s.mu.Lock()
		s.proc = nil
		s.mu.Unlock()

		m.crashed(s, ev, fmt.Errorf("handshake failed: %w", err))
		return fmt.Errorf("handshake with server '%s' failed: %w", name, err)
	}

	s.mu.Lock()
	m.applyLocked(s, Event{Kind: EventHandshakeOK})
	s.startedAt = &now
	s.tools = tools
	s.lastError = ""
	s.healthyStreak = 0
	s.mu.Unlock()

	s.logger.Info("Server running", "pid", proc.pid(), "tools", len(tools))

	go m.watch(s, proc)

	return nil
}

// watch reacts to the unexpected exit of a running process.
func (m *Manager) watch(s *server, proc *process) {
	<-proc.done

	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.proc != proc {
		// Stopped or replaced through a lifecycle operation.
		s.mu.Unlock()
		return
	}
	s.proc = nil
	s.mu.Unlock()

	code := proc.exitCode()
	m.crashed(s, Exited(code), fmt.Errorf("process exited with code %d", code))
}

// crashed records a failure, raises an alert and applies the restart policy. The caller holds s.op.
func (m *Manager) crashed(s *server, ev Event, cause error) {
	s.mu.Lock()
	m.applyLocked(s, ev)
	s.lastError = cause.Error()
	s.startedAt = nil
	s.tools = nil
	s.healthyStreak = 0
	s.mu.Unlock()

	s.logger.Error("Server crashed", "event", ev.String(), "error", cause)
	m.alert(domain.AlertServerCrashed, fmt.Sprintf("server '%s' crashed: %s", s.def.Name, cause), s.def.Name)

	m.scheduleRestart(s)
}

// scheduleRestart applies the restart policy to a crashed server. The caller holds s.op.
func (m *Manager) scheduleRestart(s *server) {
	policy := s.def.RestartPolicy
	if !policy.AutoRestart || m.closed.Load() {
		return
	}

	s.mu.Lock()
	attempt, ok := s.budget.take(m.opts.Clock.Now())
	if !ok {
		m.applyLocked(s, Event{Kind: EventBudgetExhausted})
		s.mu.Unlock()
		m.permanentlyFailed(s)
		return
	}
	m.applyLocked(s, Event{Kind: EventRestartScheduled})
	s.restartCount++
	s.mu.Unlock()

	m.opts.Metrics.ServerRestarted(s.def.Name)

	delay := backoff(policy, attempt, m.opts.Jitter)
	s.logger.Info("Scheduling restart", "attempt", attempt, "max_attempts", policy.MaxAttempts, "delay", delay)

	s.retryGen++
	gen := s.retryGen
	m.scheduler.Schedule(s.def.Name, delay, func() {
		m.retry(s, gen)
	})
}

// retry runs the scheduled restart attempt gen.
// An attempt whose timer fired while an operator superseded it does nothing.
func (m *Manager) retry(s *server, gen uint64) {
	s.op.Lock()
	defer s.op.Unlock()

	if s.retryGen != gen {
		s.logger.Debug("Dropping superseded restart attempt")
		return
	}
	if m.closed.Load() || s.currentState() != domain.ServerStateRestarting {
		return
	}

	if err := m.launch(m.lifetime, s); err != nil {
		s.logger.Warn("Restart attempt failed", "error", err)
	}
}

// cancelRetry drops the pending restart, including one whose timer has already fired. The caller holds s.op.
func (m *Manager) cancelRetry(s *server) {
	s.retryGen++
	m.scheduler.Cancel(s.def.Name)
}

// stop terminates the server's process, if any, and leaves it stopped. The caller holds s.op.
func (m *Manager) stop(s *server) {
	m.cancelRetry(s)

	s.mu.Lock()
	switch s.state {
	case domain.ServerStateStopped, domain.ServerStatePermanentlyFailed:
		s.mu.Unlock()
		return
	}
	m.applyLocked(s, Event{Kind: EventStopRequested})
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	var stopErr error
	if proc != nil {
		s.logger.Info("Stopping", "pid", proc.pid(), "grace_period", s.def.StopGracePeriod)
		stopErr = proc.stop(s.def.StopGracePeriod)
	}

	s.mu.Lock()
	m.applyLocked(s, Event{Kind: EventStopCompleted})
	s.startedAt = nil
	s.tools = nil
	s.healthyStreak = 0
	if stopErr != nil {
		s.lastError = stopErr.Error()
	}
	s.mu.Unlock()

	if stopErr != nil {
		s.logger.Warn("Server stopped with error", "error", stopErr)
		return
	}
	s.logger.Info("Server stopped")
}

func (m *Manager) permanentlyFailed(s *server) {
	policy := s.def.RestartPolicy
	s.logger.Error("Restart budget exhausted", "max_attempts", policy.MaxAttempts, "window", policy.Window)
	m.alert(
		domain.AlertServerPermanentlyFailed,
		fmt.Sprintf("server '%s' exceeded %d restart attempts within %s", s.def.Name, policy.MaxAttempts, policy.Window),
		s.def.Name,
	)
}

// applyLocked moves the server through its state machine. The caller holds s.mu.
func (m *Manager) applyLocked(s *server, ev Event) error {
	from := s.state
	to, err := transition(from, ev)
	if err != nil {
		s.logger.Warn("Rejected lifecycle event", "error", err)
		return err
	}
	s.state = to
	m.opts.Metrics.ServerStateChanged(s.def.Name, to)
	s.logger.Trace("State changed", "from", from, "to", to, "event", ev.String())

	return nil
}

func (m *Manager) alert(alertType domain.AlertType, message string, servers ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	if err := m.opts.Notifier.Notify(ctx, notify.NewAlert(alertType, message, servers...)); err != nil {
		m.logger.Warn("Failed to deliver alert", "type", string(alertType), "error", err)
	}
}

func (s *server) currentState() domain.ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *server) snapshot() domain.ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := domain.ServerStatus{
		Name:         s.def.Name,
		State:        s.state,
		RestartCount: s.restartCount,
		LastError:    s.lastError,
	}
	if s.proc != nil {
		st.PID = s.proc.pid()
	}
	if s.startedAt != nil {
		t := *s.startedAt
		st.StartedAt = &t
	}
	if s.lastHealth != nil {
		h := *s.lastHealth
		h.Issues = slices.Clone(h.Issues)
		st.LastHealth = &h
	}
	if s.resources != nil {
		r := *s.resources
		st.Resources = &r
	}
	for _, t := range s.tools {
		st.Tools = append(st.Tools, t.Name)
	}

	return st
}
