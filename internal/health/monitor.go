// Package health polls supervised servers, classifies their health and escalates sustained failures.
package health

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mozilla-ai/fleetd/internal/domain"
	internalerrors "github.com/mozilla-ai/fleetd/internal/errors"
	"github.com/mozilla-ai/fleetd/internal/notify"
)

// alertTimeout bounds delivery of a single alert.
const alertTimeout = 5 * time.Second

// Supervisor is the subset of the process supervisor the monitor reads from and escalates to.
type Supervisor interface {
	Pinger
	Definitions() []domain.ServerDefinition
	Status(name string) (domain.ServerStatus, error)
	Restart(ctx context.Context, name string) error
	RecordHealth(name string, rec domain.HealthRecord) error
}

// Monitor polls servers concurrently and keeps a bounded history of the results.
// Use NewMonitor to create a Monitor.
type Monitor struct {
	logger    hclog.Logger
	sup       Supervisor
	opts      Options
	probers   map[domain.ProbeKind]Prober
	defs      map[string]domain.ServerDefinition
	order     []string
	conflicts []portConflict

	mu         sync.RWMutex
	history    map[string][]domain.HealthRecord
	latest     map[string]domain.HealthRecord
	streaks    map[string]int
	lastPolled map[string]time.Time
	alerts     []domain.Alert
	escalating map[string]bool

	escalations sync.WaitGroup
}

// NewMonitor creates a Monitor for every server known to sup.
func NewMonitor(logger hclog.Logger, sup Supervisor, opt ...Option) (*Monitor, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if sup == nil || reflect.ValueOf(sup).IsNil() {
		return nil, fmt.Errorf("supervisor cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid monitor options: %w", err)
	}

	logger = logger.Named("health")

	probers := map[domain.ProbeKind]Prober{
		domain.ProbePing: PingProbe{Pinger: sup},
		domain.ProbeHTTP: NewHTTPProbe(logger),
		domain.ProbeTCP:  TCPProbe{},
		domain.ProbeGRPC: GRPCProbe{},
	}
	for kind, p := range opts.Probers {
		probers[kind] = p
	}

	defs := sup.Definitions()
	m := &Monitor{
		logger:     logger,
		sup:        sup,
		opts:       opts,
		probers:    probers,
		defs:       make(map[string]domain.ServerDefinition, len(defs)),
		conflicts:  findPortConflicts(defs),
		history:    make(map[string][]domain.HealthRecord),
		latest:     make(map[string]domain.HealthRecord),
		streaks:    make(map[string]int),
		lastPolled: make(map[string]time.Time),
		escalating: make(map[string]bool),
	}
	for _, def := range defs {
		m.defs[def.Name] = def
		if def.Enabled {
			m.order = append(m.order, def.Name)
		}
	}

	for _, c := range m.conflicts {
		logger.Warn("Port conflict in configuration", "port", c.Port, "servers", c.Servers)
	}

	return m, nil
}

// Poll checks a single server, records the result and applies escalation.
func (m *Monitor) Poll(ctx context.Context, name string) (domain.HealthRecord, error) {
	def, ok := m.defs[name]
	if !ok {
		return domain.HealthRecord{}, fmt.Errorf("%w: %s", internalerrors.ErrServerNotFound, name)
	}

	rec, alerts := m.poll(ctx, def)
	m.publish(alerts)

	return rec, nil
}

// PollAll checks every enabled server concurrently. Each check is bounded by its own probe timeout,
// so a hung server cannot delay the others. Port conflicts are reported once per cycle.
func (m *Monitor) PollAll(ctx context.Context) map[string]domain.HealthRecord {
	return m.pollMany(ctx, m.order)
}

// History returns the retained records of a server, oldest first.
func (m *Monitor) History(name string) ([]domain.HealthRecord, error) {
	if _, ok := m.defs[name]; !ok {
		return nil, fmt.Errorf("%w: %s", internalerrors.ErrServerNotFound, name)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.history[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", internalerrors.ErrHealthNotTracked, name)
	}

	return slices.Clone(records), nil
}

// Latest returns the most recent record of a server.
func (m *Monitor) Latest(name string) (domain.HealthRecord, error) {
	if _, ok := m.defs[name]; !ok {
		return domain.HealthRecord{}, fmt.Errorf("%w: %s", internalerrors.ErrServerNotFound, name)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.latest[name]
	if !ok {
		return domain.HealthRecord{}, fmt.Errorf("%w: %s", internalerrors.ErrHealthNotTracked, name)
	}

	return rec, nil
}

// Report summarises the latest record of every polled server and the alerts of the last cycle.
func (m *Monitor) Report() domain.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := domain.HealthReport{
		Timestamp: time.Now(),
		PerServer: make(map[string]domain.HealthRecord, len(m.latest)),
		Alerts:    slices.Clone(m.alerts),
	}
	if report.Alerts == nil {
		report.Alerts = []domain.Alert{}
	}

	for name, rec := range m.latest {
		report.PerServer[name] = rec
		report.Total++
		switch rec.Status {
		case domain.HealthStatusHealthy:
			report.Healthy++
		case domain.HealthStatusUnhealthy:
			report.Unhealthy++
		case domain.HealthStatusMissing:
			report.Missing++
		}
	}

	return report
}

// Run polls servers as their health check intervals come due until ctx is cancelled.
// The report is persisted after every cycle when a report path is configured.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.logger.Info("Health monitor started", "servers", len(m.order), "interval", m.opts.Interval)

	for {
		m.cycle(ctx, time.Now())

		select {
		case <-ctx.Done():
			m.escalations.Wait()
			m.logger.Info("Health monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until escalations started by earlier polls have finished.
func (m *Monitor) Wait() {
	m.escalations.Wait()
}

func (m *Monitor) cycle(ctx context.Context, now time.Time) {
	due := m.due(now)
	if len(due) == 0 {
		return
	}

	m.pollMany(ctx, due)

	if m.opts.ReportPath == "" {
		return
	}
	if err := WriteReport(m.opts.ReportPath, m.Report()); err != nil {
		m.logger.Error("Failed to write health report", "path", m.opts.ReportPath, "error", err)
	}
}

// due returns the enabled servers whose health check interval has elapsed.
func (m *Monitor) due(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for _, name := range m.order {
		last, polled := m.lastPolled[name]
		if !polled || now.Sub(last) >= m.defs[name].HealthCheck.Interval {
			names = append(names, name)
		}
	}
	return names
}

func (m *Monitor) pollMany(ctx context.Context, names []string) map[string]domain.HealthRecord {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		records = make(map[string]domain.HealthRecord, len(names))
		alerts  []domain.Alert
	)

	for _, name := range names {
		def := m.defs[name]
		g.Go(func() error {
			rec, recAlerts := m.poll(ctx, def)

			mu.Lock()
			records[name] = rec
			alerts = append(alerts, recAlerts...)
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	for _, c := range m.conflicts {
		alerts = append(alerts, notify.NewAlert(domain.AlertPortConflict, c.message(), c.Servers...))
	}

	m.mu.Lock()
	m.alerts = alerts
	m.mu.Unlock()

	m.publish(alerts)

	return records
}

// escalation describes the remediation a poll calls for.
type escalation int

const (
	escalateNone escalation = iota
	escalateUnhealthy
	escalateMissing
)

// poll checks and records one server, returning the alerts the poll raised.
func (m *Monitor) poll(ctx context.Context, def domain.ServerDefinition) (domain.HealthRecord, []domain.Alert) {
	rec, state := m.check(ctx, def)

	var alerts []domain.Alert
	if r := rec.Resources; r != nil {
		if r.CPUPercent > m.opts.CPUThreshold {
			alerts = append(alerts, notify.NewAlert(
				domain.AlertHighCPU,
				fmt.Sprintf("server '%s' CPU usage %.1f%% exceeds %.1f%%", def.Name, r.CPUPercent, m.opts.CPUThreshold),
				def.Name,
			))
		}
		if r.MemoryPercent > m.opts.MemoryThreshold {
			alerts = append(alerts, notify.NewAlert(
				domain.AlertHighMemory,
				fmt.Sprintf("server '%s' memory usage %.1f%% exceeds %.1f%%", def.Name, r.MemoryPercent, m.opts.MemoryThreshold),
				def.Name,
			))
		}
	}

	esc := m.record(def, rec, state)
	switch esc {
	case escalateUnhealthy:
		alerts = append(alerts, notify.NewAlert(
			domain.AlertServerUnhealthy,
			fmt.Sprintf("server '%s' unhealthy for %d consecutive polls: %v", def.Name, m.opts.UnhealthyThreshold, rec.Issues),
			def.Name,
		))
	case escalateMissing:
		alerts = append(alerts, notify.NewAlert(
			domain.AlertServerMissing,
			fmt.Sprintf("server '%s' process is not running (%s)", def.Name, state),
			def.Name,
		))
	}

	if esc != escalateNone {
		m.restart(def)
	}

	return rec, alerts
}

// check classifies a server. It never waits longer than the server's probe timeout.
func (m *Monitor) check(ctx context.Context, def domain.ServerDefinition) (domain.HealthRecord, domain.ServerState) {
	start := time.Now()
	rec := domain.HealthRecord{
		Server:    def.Name,
		Timestamp: start,
	}

	status, err := m.sup.Status(def.Name)
	if err != nil {
		rec.Status = domain.HealthStatusMissing
		rec.Issues = []string{err.Error()}
		return rec, ""
	}

	if status.State != domain.ServerStateRunning || !processAlive(status.PID) {
		rec.Status = domain.HealthStatusMissing
		rec.Issues = []string{fmt.Sprintf("process not running (state %s)", status.State)}
		return rec, status.State
	}

	if m.opts.Sampler != nil {
		snap, err := m.opts.Sampler.Sample(status.PID)
		switch {
		case errors.Is(err, errProcessGone):
			rec.Status = domain.HealthStatusMissing
			rec.Issues = []string{"process not running"}
			return rec, status.State
		case err != nil:
			m.logger.Debug("Resource sampling failed", "server", def.Name, "error", err)
		default:
			rec.Resources = &snap
		}
	}

	if err := m.probe(ctx, def); err != nil {
		rec.Issues = append(rec.Issues, err.Error())
	}
	rec.Latency = time.Since(start)
	m.opts.Metrics.ProbeObserved(def.Name, rec.Latency)

	rec.Issues = append(rec.Issues, conflictIssues(m.conflicts, def.Name)...)

	rec.Status = domain.HealthStatusHealthy
	if len(rec.Issues) > 0 {
		rec.Status = domain.HealthStatusUnhealthy
	}

	return rec, status.State
}

// probe runs the server's declared probe, abandoning it once the probe timeout elapses.
func (m *Monitor) probe(ctx context.Context, def domain.ServerDefinition) error {
	prober, ok := m.probers[def.HealthCheck.Probe]
	if !ok {
		return fmt.Errorf("no prober for '%s'", def.HealthCheck.Probe)
	}

	pctx, cancel := context.WithTimeout(ctx, def.HealthCheck.Timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- prober.Probe(pctx, def)
	}()

	select {
	case err := <-result:
		if err != nil && pctx.Err() != nil {
			return fmt.Errorf("timeout: no response within %s", def.HealthCheck.Timeout)
		}
		if err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}
		return nil
	case <-pctx.Done():
		return fmt.Errorf("timeout: no response within %s", def.HealthCheck.Timeout)
	}
}

// record stores rec and decides whether it calls for escalation.
func (m *Monitor) record(def domain.ServerDefinition, rec domain.HealthRecord, state domain.ServerState) escalation {
	m.mu.Lock()

	h := append(m.history[def.Name], rec)
	if over := len(h) - m.opts.HistorySize; over > 0 {
		h = slices.Delete(h, 0, over)
	}
	m.history[def.Name] = h
	m.latest[def.Name] = rec
	m.lastPolled[def.Name] = rec.Timestamp

	esc := escalateNone
	switch rec.Status {
	case domain.HealthStatusHealthy:
		m.streaks[def.Name] = 0
	case domain.HealthStatusUnhealthy:
		m.streaks[def.Name]++
		if m.streaks[def.Name] >= m.opts.UnhealthyThreshold {
			m.streaks[def.Name] = 0
			esc = escalateUnhealthy
		}
	case domain.HealthStatusMissing:
		m.streaks[def.Name] = 0
		// Stopped, starting and restarting servers are expected to have no process.
		if state == domain.ServerStateRunning || state == domain.ServerStateCrashed {
			esc = escalateMissing
		}
	}
	m.mu.Unlock()

	if err := m.sup.RecordHealth(def.Name, rec); err != nil {
		m.logger.Warn("Failed to record health", "server", def.Name, "error", err)
	}

	return esc
}

// restart asks the supervisor to restart a server in the background when its policy allows it.
// At most one escalation per server runs at a time.
func (m *Monitor) restart(def domain.ServerDefinition) {
	if !def.RestartPolicy.AutoRestart {
		return
	}

	m.mu.Lock()
	if m.escalating[def.Name] {
		m.mu.Unlock()
		return
	}
	m.escalating[def.Name] = true
	m.mu.Unlock()

	m.escalations.Add(1)
	go func() {
		defer m.escalations.Done()
		defer func() {
			m.mu.Lock()
			delete(m.escalating, def.Name)
			m.mu.Unlock()
		}()

		m.logger.Info("Restarting server", "server", def.Name)
		if err := m.sup.Restart(context.Background(), def.Name); err != nil {
			m.logger.Warn("Restart failed", "server", def.Name, "error", err)
		}
	}()
}

func (m *Monitor) publish(alerts []domain.Alert) {
	for _, a := range alerts {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		if err := m.opts.Notifier.Notify(ctx, a); err != nil {
			m.logger.Warn("Failed to deliver alert", "type", string(a.Type), "error", err)
		}
		cancel()
	}
}
