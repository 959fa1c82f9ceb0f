package health

import (
	"fmt"
	"time"

	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/metrics"
	"github.com/mozilla-ai/fleetd/internal/notify"
)

// Options contains optional configuration for a Monitor.
// NewOptions should be used to create instances of Options.
type Options struct {
	// Interval is how often Run checks which servers are due for a poll.
	Interval time.Duration

	// UnhealthyThreshold is the number of consecutive unhealthy polls that triggers escalation.
	UnhealthyThreshold int

	// CPUThreshold and MemoryThreshold are percentages above which resource alerts are raised.
	CPUThreshold    float64
	MemoryThreshold float64

	// HistorySize is the number of records retained per server.
	HistorySize int

	// ReportPath, when set, is where Run persists the report after every cycle.
	ReportPath string

	Notifier notify.Notifier
	Metrics  *metrics.Metrics

	// Sampler captures resource usage. Nil disables resource sampling.
	Sampler Sampler

	// Probers replace the built-in probe for a kind.
	Probers map[domain.ProbeKind]Prober
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with defaults, then applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		Interval:           DefaultInterval(),
		UnhealthyThreshold: DefaultUnhealthyThreshold(),
		CPUThreshold:       DefaultResourceThreshold(),
		MemoryThreshold:    DefaultResourceThreshold(),
		HistorySize:        DefaultHistorySize(),
		Notifier:           notify.Multi{},
		Probers:            make(map[domain.ProbeKind]Prober),
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

// WithInterval configures how often Run looks for servers due a poll.
func WithInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("interval must be positive, got %v", interval)
		}
		o.Interval = interval
		return nil
	}
}

// WithUnhealthyThreshold configures the consecutive unhealthy polls that trigger escalation.
func WithUnhealthyThreshold(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("unhealthy threshold must be at least 1, got %d", n)
		}
		o.UnhealthyThreshold = n
		return nil
	}
}

// WithResourceThresholds configures the CPU and memory percentages that raise alerts.
func WithResourceThresholds(cpu float64, memory float64) Option {
	return func(o *Options) error {
		if cpu <= 0 || memory <= 0 {
			return fmt.Errorf("resource thresholds must be positive, got cpu=%v memory=%v", cpu, memory)
		}
		o.CPUThreshold = cpu
		o.MemoryThreshold = memory
		return nil
	}
}

// WithHistorySize configures how many records are retained per server.
func WithHistorySize(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("history size must be at least 1, got %d", n)
		}
		o.HistorySize = n
		return nil
	}
}

// WithReportPath configures where Run persists reports.
func WithReportPath(path string) Option {
	return func(o *Options) error {
		o.ReportPath = path
		return nil
	}
}

// WithNotifier configures where alerts are sent.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Options) error {
		if n == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		o.Notifier = n
		return nil
	}
}

// WithMetrics configures probe instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) error {
		o.Metrics = m
		return nil
	}
}

// WithSampler configures resource sampling.
func WithSampler(s Sampler) Option {
	return func(o *Options) error {
		o.Sampler = s
		return nil
	}
}

// WithProber replaces the probe used for kind.
func WithProber(kind domain.ProbeKind, p Prober) Option {
	return func(o *Options) error {
		if p == nil {
			return fmt.Errorf("prober for '%s' cannot be nil", kind)
		}
		o.Probers[kind] = p
		return nil
	}
}

// DefaultInterval is the default scheduling interval of Run.
func DefaultInterval() time.Duration {
	return time.Second
}

// DefaultUnhealthyThreshold is the default number of consecutive unhealthy polls before escalation.
func DefaultUnhealthyThreshold() int {
	return 3
}

// DefaultResourceThreshold is the default CPU and memory alert threshold, in percent.
func DefaultResourceThreshold() float64 {
	return 80
}

// DefaultHistorySize is the default number of records kept per server.
func DefaultHistorySize() int {
	return 100
}
