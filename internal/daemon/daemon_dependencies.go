package daemon

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// Dependencies contains required dependencies for the Daemon.
// NewDependencies should be used to create instances of Dependencies.
type Dependencies struct {
	// APIAddr specifies the network address for the APIServer to bind (e.g., "localhost:8191").
	APIAddr string

	// Logger for daemon and subcomponent operations.
	Logger hclog.Logger

	// Definitions are the validated servers to supervise, in configuration order.
	Definitions []domain.ServerDefinition
}

// NewDependencies creates and validates Dependencies.
func NewDependencies(logger hclog.Logger, apiAddr string, defs []domain.ServerDefinition) (Dependencies, error) {
	deps := Dependencies{
		APIAddr:     apiAddr,
		Logger:      logger,
		Definitions: defs,
	}

	if err := deps.Validate(); err != nil {
		return Dependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d Dependencies) Validate() error {
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}

	if err := validateAddr(d.APIAddr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.APIAddr, err)
	}

	if len(d.Definitions) == 0 {
		return fmt.Errorf("server definitions not found")
	}

	return nil
}
