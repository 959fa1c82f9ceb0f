package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/fleetd/internal/contracts"
	"github.com/mozilla-ai/fleetd/internal/domain"
)

// DomainServerStatus is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainServerStatus domain.ServerStatus

// Server is the API view of a supervised server.
type Server struct {
	Name         string            `doc:"Name of the server"                            json:"name"`
	State        string            `doc:"Lifecycle state"                               json:"state"`
	PID          int               `doc:"Process id, 0 when no process is running"      json:"pid"`
	StartedAt    *time.Time        `doc:"When the running process completed its handshake" json:"startedAt,omitempty"`
	RestartCount int               `doc:"Restarts within the current budget window"     json:"restartCount"`
	LastError    string            `doc:"Most recent failure"                           json:"lastError,omitempty"`
	LastHealth   *HealthRecord     `doc:"Most recent health record"                     json:"lastHealth,omitempty"`
	Resources    *ResourceSnapshot `doc:"Most recent resource sample"                   json:"resources,omitempty"`
	Tools        []string          `doc:"Tools advertised during the handshake"         json:"tools"`
}

// ServersResponse represents the wrapped API response for a list of servers.
type ServersResponse struct {
	Body struct {
		Servers []Server `doc:"Supervised servers in configuration order" json:"servers"`
	}
}

// ServerResponse represents the wrapped API response for a single server.
type ServerResponse struct {
	Body Server
}

// ServerRequest represents an incoming request that targets a single server.
type ServerRequest struct {
	Name string `doc:"Name of the server" example:"quotes" path:"name"`
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainServerStatus) ToAPIType() (Server, error) {
	s := Server{
		Name:         d.Name,
		State:        string(d.State),
		PID:          d.PID,
		StartedAt:    d.StartedAt,
		RestartCount: d.RestartCount,
		LastError:    d.LastError,
		Tools:        slices.Clone(d.Tools),
	}
	if s.Tools == nil {
		s.Tools = []string{}
	}

	if d.LastHealth != nil {
		rec, err := DomainHealthRecord(*d.LastHealth).ToAPIType()
		if err != nil {
			return Server{}, err
		}
		s.LastHealth = &rec
	}
	if d.Resources != nil {
		res := DomainResourceSnapshot(*d.Resources).ToAPIType()
		s.Resources = &res
	}

	return s, nil
}

// RegisterServerRoutes sets up server lifecycle and tool routes.
func RegisterServerRoutes(routerAPI huma.API, supervisor contracts.ServerSupervisor, apiPathPrefix string) {
	serversAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Servers"}

	// Add route at the root of the group (no path specified).
	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listServers",
			Method:      http.MethodGet,
			Summary:     "List all servers",
			Tags:        tags,
		},
		func(_ context.Context, _ *struct{}) (*ServersResponse, error) {
			return handleServers(supervisor)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getServer",
			Method:      http.MethodGet,
			Path:        "/{name}",
			Summary:     "Get the status of a server",
			Tags:        tags,
		},
		func(_ context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServer(supervisor, input.Name)
		},
	)

	actions := []struct {
		id      string
		path    string
		summary string
		do      func(ctx context.Context, name string) error
	}{
		{id: "startServer", path: "/{name}/start", summary: "Start a server", do: supervisor.Start},
		{
			id:      "stopServer",
			path:    "/{name}/stop",
			summary: "Stop a server",
			do:      func(_ context.Context, name string) error { return supervisor.Stop(name) },
		},
		{id: "restartServer", path: "/{name}/restart", summary: "Restart a server", do: supervisor.Restart},
		{
			id:      "resetServer",
			path:    "/{name}/reset",
			summary: "Reset a crashed or permanently failed server to stopped",
			do:      func(_ context.Context, name string) error { return supervisor.Reset(name) },
		},
	}

	for _, action := range actions {
		huma.Register(
			serversAPI,
			huma.Operation{
				OperationID: action.id,
				Method:      http.MethodPost,
				Path:        action.path,
				Summary:     action.summary,
				Tags:        tags,
			},
			func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
				return handleServerAction(ctx, supervisor, input.Name, action.do)
			},
		)
	}

	RegisterToolRoutes(serversAPI, supervisor)
}

// handleServers returns the status of every supervised server.
func handleServers(supervisor contracts.ServerSupervisor) (*ServersResponse, error) {
	statuses := supervisor.List()

	servers := make([]Server, 0, len(statuses))
	for _, st := range statuses {
		data, err := DomainServerStatus(st).ToAPIType()
		if err != nil {
			return nil, err
		}
		servers = append(servers, data)
	}

	resp := &ServersResponse{}
	resp.Body.Servers = servers

	return resp, nil
}

// handleServer returns the status of the named server.
func handleServer(supervisor contracts.ServerSupervisor, name string) (*ServerResponse, error) {
	st, err := supervisor.Status(name)
	if err != nil {
		return nil, err
	}

	data, err := DomainServerStatus(st).ToAPIType()
	if err != nil {
		return nil, err
	}

	return &ServerResponse{Body: data}, nil
}

// handleServerAction applies a lifecycle operation and returns the resulting status.
func handleServerAction(
	ctx context.Context,
	supervisor contracts.ServerSupervisor,
	name string,
	action func(ctx context.Context, name string) error,
) (*ServerResponse, error) {
	if err := action(ctx, name); err != nil {
		return nil, err
	}

	return handleServer(supervisor, name)
}
