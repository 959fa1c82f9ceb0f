package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Options contains optional configuration for a Worker.
// NewOptions should be used to create instances of Options.
type Options struct {
	// CallTimeout bounds every tool invocation.
	CallTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight calls once draining begins.
	DrainTimeout time.Duration

	// RateLimit is the sustained number of tool calls accepted per second. Zero disables limiting.
	RateLimit float64

	// RateBurst is the number of calls that may exceed RateLimit momentarily.
	RateBurst int

	// ServerInfo identifies the worker during the handshake.
	ServerInfo mcp.Implementation
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with defaults, then applies opts in order.
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

// WithCallTimeout configures the per-invocation timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("call timeout must be positive, got %v", timeout)
		}
		o.CallTimeout = timeout
		return nil
	}
}

// WithDrainTimeout configures how long in-flight calls may run once draining begins.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", timeout)
		}
		o.DrainTimeout = timeout
		return nil
	}
}

// WithRateLimit limits tool calls to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) error {
		if perSecond < 0 {
			return fmt.Errorf("rate limit cannot be negative, got %v", perSecond)
		}
		if perSecond > 0 && burst < 1 {
			return fmt.Errorf("rate burst must be at least 1, got %d", burst)
		}
		o.RateLimit = perSecond
		o.RateBurst = burst
		return nil
	}
}

// WithServerInfo configures the name and version reported during the handshake.
func WithServerInfo(name string, version string) Option {
	return func(o *Options) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("server name cannot be empty")
		}
		o.ServerInfo = mcp.Implementation{Name: name, Version: strings.TrimSpace(version)}
		return nil
	}
}

// DefaultCallTimeout is the default per-invocation timeout.
func DefaultCallTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultDrainTimeout is the default time allowed for in-flight calls to finish after a stop signal.
func DefaultDrainTimeout() time.Duration {
	return 5 * time.Second
}

func defaultOptions() Options {
	return Options{
		CallTimeout:  DefaultCallTimeout(),
		DrainTimeout: DefaultDrainTimeout(),
		ServerInfo:   mcp.Implementation{Name: "fleetd-worker", Version: "dev"},
	}
}
