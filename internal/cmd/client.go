package cmd

import (
	"context"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/apiclient"
)

var _ DaemonClient = (*apiclient.Client)(nil)

// DaemonClient is the view of the daemon API used by the client commands.
type DaemonClient interface {
	Servers(ctx context.Context) ([]api.Server, error)
	Server(ctx context.Context, name string) (api.Server, error)
	Apply(ctx context.Context, name string, action apiclient.Action) (api.Server, error)
	Tools(ctx context.Context, name string, detail string) ([]api.Tool, error)
	CallTool(ctx context.Context, name string, tool string, args map[string]any) (string, error)
	HealthReport(ctx context.Context) (api.HealthReport, error)
	PollAll(ctx context.Context) (api.HealthReport, error)
	Poll(ctx context.Context, name string) (api.HealthRecord, error)
	History(ctx context.Context, name string) ([]api.HealthRecord, error)
	Alerts(ctx context.Context, limit int) ([]api.Alert, error)
}
