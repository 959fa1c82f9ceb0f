// Package notify delivers alert events to sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// Notifier receives alert events. Implementations must be safe for concurrent use and must not block for long.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert domain.Alert) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, alert domain.Alert) error {
	return f(ctx, alert)
}

// NewAlert creates an alert with a fresh identifier and the current time.
func NewAlert(alertType domain.AlertType, message string, servers ...string) domain.Alert {
	return domain.Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Servers:   servers,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Multi delivers every alert to each of its notifiers, in order.
type Multi []Notifier

// Notify implements Notifier. Every notifier is attempted, failures are joined.
func (m Multi) Notify(ctx context.Context, alert domain.Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// LogNotifier writes alerts to a logger.
type LogNotifier struct {
	logger hclog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger hclog.Logger) (*LogNotifier, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &LogNotifier{logger: logger.Named("alerts")}, nil
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, alert domain.Alert) error {
	n.logger.Warn(
		"Alert",
		"id", alert.ID,
		"type", string(alert.Type),
		"servers", alert.Servers,
		"message", alert.Message,
	)
	return nil
}
