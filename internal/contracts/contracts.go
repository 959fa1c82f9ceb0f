// Package contracts declares the interfaces the HTTP API consumes, so handlers can be tested with fakes.
package contracts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// ServerSupervisor controls the lifecycle of supervised servers and routes requests to them.
type ServerSupervisor interface {
	// List returns the status of every server in configuration order.
	List() []domain.ServerStatus

	// Status returns the status of a single server.
	Status(name string) (domain.ServerStatus, error)

	Start(ctx context.Context, name string) error
	Stop(name string) error
	Restart(ctx context.Context, name string) error

	// Reset returns a crashed or permanently failed server to stopped, clearing its restart budget.
	Reset(name string) error

	ListTools(ctx context.Context, name string) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, tool string, args map[string]any) (*mcp.CallToolResult, error)
}

// HealthMonitor exposes the results of health polling.
type HealthMonitor interface {
	Report() domain.HealthReport
	Poll(ctx context.Context, name string) (domain.HealthRecord, error)
	PollAll(ctx context.Context) map[string]domain.HealthRecord
	History(name string) ([]domain.HealthRecord, error)
}

// AlertFeed provides the most recently raised alerts.
type AlertFeed interface {
	// Recent returns up to n alerts, oldest first. n <= 0 returns all retained alerts.
	Recent(n int) []domain.Alert

	// Subscribe delivers alerts as they are raised until the returned function is called.
	Subscribe(buffer int) (<-chan domain.Alert, func())
}
