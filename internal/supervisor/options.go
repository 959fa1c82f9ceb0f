package supervisor

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mozilla-ai/fleetd/internal/metrics"
	"github.com/mozilla-ai/fleetd/internal/notify"
)

// Options contains optional configuration for a Manager.
// NewOptions should be used to create instances of Options.
type Options struct {
	// Clock drives restart delays and attempt windows.
	Clock clockwork.Clock

	// Notifier receives server_crashed and server_permanently_failed alerts.
	Notifier notify.Notifier

	// Metrics records restarts and state changes. Nil disables recording.
	Metrics *metrics.Metrics

	// HealthyResetThreshold is the number of consecutive healthy polls that clears a server's restart budget.
	HealthyResetThreshold int

	// Jitter returns a value in [0, 1) used to spread restart delays.
	Jitter func() float64

	// CallTimeout bounds routed requests to servers whose definition sets no call timeout.
	CallTimeout time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with defaults, then applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		Clock:                 clockwork.NewRealClock(),
		Notifier:              notify.Multi{},
		HealthyResetThreshold: DefaultHealthyResetThreshold(),
		Jitter:                rand.Float64,
		CallTimeout:           DefaultCallTimeout(),
	}

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

// WithClock configures the clock used for restart scheduling.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Options) error {
		if clock == nil || reflect.ValueOf(clock).IsNil() {
			return fmt.Errorf("clock cannot be nil")
		}
		o.Clock = clock
		return nil
	}
}

// WithNotifier configures where lifecycle alerts are sent.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Options) error {
		if n == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		o.Notifier = n
		return nil
	}
}

// WithMetrics configures lifecycle instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) error {
		o.Metrics = m
		return nil
	}
}

// WithHealthyResetThreshold configures how many consecutive healthy polls clear the restart budget.
func WithHealthyResetThreshold(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("healthy reset threshold must be at least 1, got %d", n)
		}
		o.HealthyResetThreshold = n
		return nil
	}
}

// WithJitterSource configures the random source for restart jitter.
func WithJitterSource(fn func() float64) Option {
	return func(o *Options) error {
		if fn == nil {
			return fmt.Errorf("jitter source cannot be nil")
		}
		o.Jitter = fn
		return nil
	}
}

// WithCallTimeout configures the fallback bound on routed requests.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("call timeout must be positive, got %v", timeout)
		}
		o.CallTimeout = timeout
		return nil
	}
}

// DefaultCallTimeout is a little longer than a worker's own per-call timeout,
// so a responsive worker reports its timeout before the supervisor gives up.
func DefaultCallTimeout() time.Duration {
	return 35 * time.Second
}

// DefaultHealthyResetThreshold is the default number of consecutive healthy polls that clears the restart budget.
func DefaultHealthyResetThreshold() int {
	return 5
}
