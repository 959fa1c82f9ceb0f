package daemon

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/fleetd/internal/contracts"
)

// APIDependencies contains the required external dependencies for the API server.
// NewAPIDependencies should be used to create instances of APIDependencies.
type APIDependencies struct {
	// Addr specifies the network address to bind (e.g., "localhost:8191").
	Addr string

	Supervisor contracts.ServerSupervisor
	Monitor    contracts.HealthMonitor
	Alerts     contracts.AlertFeed

	Logger hclog.Logger
}

// NewAPIDependencies creates and validates APIDependencies.
func NewAPIDependencies(
	logger hclog.Logger,
	supervisor contracts.ServerSupervisor,
	monitor contracts.HealthMonitor,
	alerts contracts.AlertFeed,
	addr string,
) (APIDependencies, error) {
	deps := APIDependencies{
		Addr:       addr,
		Supervisor: supervisor,
		Monitor:    monitor,
		Alerts:     alerts,
		Logger:     logger,
	}

	if err := deps.Validate(); err != nil {
		return APIDependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d APIDependencies) Validate() error {
	if err := validateAddr(d.Addr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.Addr, err)
	}
	if d.Supervisor == nil || reflect.ValueOf(d.Supervisor).IsNil() {
		return fmt.Errorf("supervisor cannot be nil")
	}
	if d.Monitor == nil || reflect.ValueOf(d.Monitor).IsNil() {
		return fmt.Errorf("health monitor cannot be nil")
	}
	if d.Alerts == nil || reflect.ValueOf(d.Alerts).IsNil() {
		return fmt.Errorf("alert feed cannot be nil")
	}
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}
	return nil
}
