package daemon

import (
	"fmt"

	"github.com/mozilla-ai/fleetd/internal/health"
	"github.com/mozilla-ai/fleetd/internal/supervisor"
)

// Options contains optional configuration for the daemon.
// NewOptions should be used to create instances of Options.
type Options struct {
	// APIOptions contains functional options for the API server.
	APIOptions []APIOption

	// SupervisorOptions are applied after the daemon's own notifier and metrics wiring.
	SupervisorOptions []supervisor.Option

	// HealthOptions are applied after the daemon's own notifier, metrics and sampler wiring.
	HealthOptions []health.Option

	// AlertHistorySize is the number of alerts retained for the alerts API.
	AlertHistorySize int
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithAPIOptions configures API server options.
// Replaces all previous API configuration including CORS settings.
func WithAPIOptions(apiOpts ...APIOption) Option {
	return func(o *Options) error {
		o.APIOptions = apiOpts
		return nil
	}
}

// WithSupervisorOptions appends options for the process supervisor.
func WithSupervisorOptions(supOpts ...supervisor.Option) Option {
	return func(o *Options) error {
		o.SupervisorOptions = append(o.SupervisorOptions, supOpts...)
		return nil
	}
}

// WithHealthOptions appends options for the health monitor.
func WithHealthOptions(healthOpts ...health.Option) Option {
	return func(o *Options) error {
		o.HealthOptions = append(o.HealthOptions, healthOpts...)
		return nil
	}
}

// WithAlertHistorySize configures how many alerts are retained for the alerts API.
func WithAlertHistorySize(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("alert history size must be at least 1, got %d", n)
		}
		o.AlertHistorySize = n
		return nil
	}
}

// DefaultAlertHistorySize is the default number of alerts retained for the alerts API.
func DefaultAlertHistorySize() int {
	return 256
}

func defaultOptions() Options {
	return Options{
		AlertHistorySize: DefaultAlertHistorySize(),
	}
}
