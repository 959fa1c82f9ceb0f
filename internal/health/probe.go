package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// Prober checks whether a server answers its declared health check.
// Probe must return once ctx is done.
type Prober interface {
	Probe(ctx context.Context, def domain.ServerDefinition) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, def domain.ServerDefinition) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, def domain.ServerDefinition) error {
	return f(ctx, def)
}

// Pinger sends a protocol ping to a named server.
type Pinger interface {
	Ping(ctx context.Context, name string) error
}

// PingProbe checks liveness with a protocol ping over the server's own connection.
type PingProbe struct {
	Pinger Pinger
}

// Probe implements Prober.
func (p PingProbe) Probe(ctx context.Context, def domain.ServerDefinition) error {
	return p.Pinger.Ping(ctx, def.Name)
}

// HTTPProbe issues a GET against the endpoint and expects a 2xx or 3xx status.
type HTTPProbe struct {
	client *retryablehttp.Client
}

// NewHTTPProbe creates an HTTPProbe that retries transient failures within the probe timeout.
func NewHTTPProbe(logger hclog.Logger) *HTTPProbe {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = 250 * time.Millisecond
	client.Logger = logger.Named("http-probe")
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPProbe{client: client}
}

// Probe implements Prober.
func (p *HTTPProbe) Probe(ctx context.Context, def domain.ServerDefinition) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, def.HealthCheck.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}

	return nil
}

// TCPProbe checks that the endpoint accepts connections.
type TCPProbe struct{}

// Probe implements Prober.
func (TCPProbe) Probe(ctx context.Context, def domain.ServerDefinition) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", def.HealthCheck.Endpoint)
	if err != nil {
		return err
	}
	return conn.Close()
}

// GRPCProbe calls the standard gRPC health service at the endpoint.
type GRPCProbe struct{}

// Probe implements Prober.
func (GRPCProbe) Probe(ctx context.Context, def domain.ServerDefinition) error {
	conn, err := grpc.NewClient(def.HealthCheck.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service status is %s", resp.GetStatus())
	}

	return nil
}
