// Package daemon wires the process supervisor, the health monitor and the HTTP API into one long-running service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/fleetd/internal/health"
	"github.com/mozilla-ai/fleetd/internal/metrics"
	"github.com/mozilla-ai/fleetd/internal/notify"
	"github.com/mozilla-ai/fleetd/internal/supervisor"
)

// Daemon supervises the configured servers, monitors their health and serves the API.
// NewDaemon should be used to create instances of Daemon.
type Daemon struct {
	logger    hclog.Logger
	manager   *supervisor.Manager
	monitor   *health.Monitor
	alerts    *notify.Stream
	metrics   *metrics.Metrics
	apiServer *APIServer
}

// NewDaemon creates a Daemon for the servers in deps.
func NewDaemon(deps Dependencies, opt ...Option) (*Daemon, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon dependencies: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon options: %w", err)
	}

	logger := deps.Logger.Named("daemon")

	stream, err := notify.NewStream(opts.AlertHistorySize)
	if err != nil {
		return nil, err
	}
	logNotifier, err := notify.NewLogNotifier(logger)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	notifier := notify.Multi{logNotifier, stream, m}

	supOpts := append([]supervisor.Option{
		supervisor.WithNotifier(notifier),
		supervisor.WithMetrics(m),
	}, opts.SupervisorOptions...)

	manager, err := supervisor.NewManager(logger, deps.Definitions, supOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create supervisor: %w", err)
	}

	healthOpts := []health.Option{
		health.WithNotifier(notifier),
		health.WithMetrics(m),
	}
	if sampler, err := health.NewProcSampler(); err != nil {
		logger.Warn("Resource sampling unavailable", "error", err)
	} else {
		healthOpts = append(healthOpts, health.WithSampler(sampler))
	}
	healthOpts = append(healthOpts, opts.HealthOptions...)

	monitor, err := health.NewMonitor(logger, manager, healthOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create health monitor: %w", err)
	}

	apiDeps, err := NewAPIDependencies(logger, manager, monitor, stream, deps.APIAddr)
	if err != nil {
		return nil, err
	}
	apiOpts := append([]APIOption{WithMetricsHandler(m.Handler())}, opts.APIOptions...)
	apiServer, err := NewAPIServer(apiDeps, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	return &Daemon{
		logger:    logger,
		manager:   manager,
		monitor:   monitor,
		alerts:    stream,
		metrics:   m,
		apiServer: apiServer,
	}, nil
}

// StartAndManage starts every enabled server, then runs the health monitor and the API until ctx is cancelled.
// Servers that fail to start are left to their restart policy. On return every server has been stopped.
func (d *Daemon) StartAndManage(ctx context.Context) error {
	d.logger.Info("Starting servers", "count", len(d.manager.Definitions()))
	if err := d.manager.StartAll(ctx); err != nil {
		d.logger.Error("Some servers failed to start", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.monitor.Run(runCtx)
	}()

	apiErr := d.apiServer.Start(runCtx)

	// The API returns early only when its listener fails; stop the monitor either way.
	cancel()
	wg.Wait()

	if err := d.manager.Shutdown(); err != nil {
		d.logger.Error("Error stopping servers", "error", err)
	}
	d.logger.Info("All servers stopped")

	if apiErr != nil && !errors.Is(apiErr, context.Canceled) {
		return fmt.Errorf("API server failed: %w", apiErr)
	}

	return ctx.Err()
}

// Supervisor returns the daemon's process supervisor.
func (d *Daemon) Supervisor() *supervisor.Manager {
	return d.manager
}

// Alerts returns the retained alert stream.
func (d *Daemon) Alerts() *notify.Stream {
	return d.alerts
}
