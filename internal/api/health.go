package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/fleetd/internal/contracts"
	"github.com/mozilla-ai/fleetd/internal/domain"
)

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusMissing   HealthStatus = "missing"
)

// HealthStatus represents the classification of a server after a health poll.
type HealthStatus string

// DomainHealthRecord wraps domain.HealthRecord for conversion via ToAPIType.
type DomainHealthRecord domain.HealthRecord

// DomainResourceSnapshot wraps domain.ResourceSnapshot for conversion via ToAPIType.
type DomainResourceSnapshot domain.ResourceSnapshot

// DomainHealthReport wraps domain.HealthReport for conversion via ToAPIType.
type DomainHealthReport domain.HealthReport

// HealthRecord is the outcome of polling a single server.
type HealthRecord struct {
	Server    string            `json:"server"`
	Timestamp time.Time         `json:"timestamp"`
	Status    HealthStatus      `json:"status"`
	Issues    []string          `json:"issues"`
	Latency   string            `json:"latency"`
	Resources *ResourceSnapshot `json:"resources,omitempty"`
}

// ResourceSnapshot is the resource usage of a server process.
type ResourceSnapshot struct {
	PID           int       `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	ResidentBytes uint64    `json:"resident_bytes"`
	SampledAt     time.Time `json:"sampled_at"`
}

// HealthReport summarises the most recent poll of every server.
type HealthReport struct {
	Timestamp time.Time               `json:"timestamp"`
	Total     int                     `json:"total"`
	Healthy   int                     `json:"healthy"`
	Unhealthy int                     `json:"unhealthy"`
	Missing   int                     `json:"missing"`
	PerServer map[string]HealthRecord `json:"per_server"`
	Alerts    []Alert                 `json:"alerts"`
}

// HealthReportResponse represents the wrapped API response for a health report.
type HealthReportResponse struct {
	Body HealthReport
}

// HealthRecordResponse represents the wrapped API response for a single health record.
type HealthRecordResponse struct {
	Body HealthRecord
}

// HealthHistoryResponse represents the wrapped API response for a server's health history.
type HealthHistoryResponse struct {
	Body struct {
		Records []HealthRecord `doc:"Retained health records, oldest first" json:"records"`
	}
}

// ServerHealthRequest represents the incoming request for a single server's health.
type ServerHealthRequest struct {
	Name string `doc:"Name of the server" example:"quotes" path:"name"`
}

// ToAPIType converts a health record to its API representation.
func (d DomainHealthRecord) ToAPIType() (HealthRecord, error) {
	status, err := parseHealthStatus(d.Status)
	if err != nil {
		return HealthRecord{}, err
	}

	rec := HealthRecord{
		Server:    d.Server,
		Timestamp: d.Timestamp,
		Status:    status,
		Issues:    slices.Clone(d.Issues),
		Latency:   d.Latency.String(),
	}
	if rec.Issues == nil {
		rec.Issues = []string{}
	}
	if d.Resources != nil {
		res := DomainResourceSnapshot(*d.Resources).ToAPIType()
		rec.Resources = &res
	}

	return rec, nil
}

// ToAPIType converts a resource snapshot to its API representation.
func (d DomainResourceSnapshot) ToAPIType() ResourceSnapshot {
	return ResourceSnapshot(d)
}

// ToAPIType converts a health report to its API representation.
func (d DomainHealthReport) ToAPIType() (HealthReport, error) {
	report := HealthReport{
		Timestamp: d.Timestamp,
		Total:     d.Total,
		Healthy:   d.Healthy,
		Unhealthy: d.Unhealthy,
		Missing:   d.Missing,
		PerServer: make(map[string]HealthRecord, len(d.PerServer)),
		Alerts:    make([]Alert, 0, len(d.Alerts)),
	}

	for name, rec := range d.PerServer {
		data, err := DomainHealthRecord(rec).ToAPIType()
		if err != nil {
			return HealthReport{}, err
		}
		report.PerServer[name] = data
	}
	for _, a := range d.Alerts {
		report.Alerts = append(report.Alerts, DomainAlert(a).ToAPIType())
	}

	return report, nil
}

// RegisterHealthRoutes sets up health-related API endpoint routes.
func RegisterHealthRoutes(routerAPI huma.API, monitor contracts.HealthMonitor, apiPathPrefix string) {
	healthAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Health"}

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "getHealthReport",
			Method:      http.MethodGet,
			Path:        "/report",
			Summary:     "Get the latest health report",
			Tags:        tags,
		},
		func(_ context.Context, _ *struct{}) (*HealthReportResponse, error) {
			return handleHealthReport(monitor)
		},
	)

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "pollAllServers",
			Method:      http.MethodPost,
			Path:        "/poll",
			Summary:     "Poll every enabled server now and return the resulting report",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*HealthReportResponse, error) {
			monitor.PollAll(ctx)
			return handleHealthReport(monitor)
		},
	)

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "pollServer",
			Method:      http.MethodPost,
			Path:        "/{name}/poll",
			Summary:     "Poll a single server now",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerHealthRequest) (*HealthRecordResponse, error) {
			return handleHealthPoll(ctx, monitor, input.Name)
		},
	)

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "getServerHealthHistory",
			Method:      http.MethodGet,
			Path:        "/{name}/history",
			Summary:     "Get the retained health records of a server",
			Tags:        tags,
		},
		func(_ context.Context, input *ServerHealthRequest) (*HealthHistoryResponse, error) {
			return handleHealthHistory(monitor, input.Name)
		},
	)
}

func handleHealthReport(monitor contracts.HealthMonitor) (*HealthReportResponse, error) {
	report, err := DomainHealthReport(monitor.Report()).ToAPIType()
	if err != nil {
		return nil, err
	}
	return &HealthReportResponse{Body: report}, nil
}

func handleHealthPoll(ctx context.Context, monitor contracts.HealthMonitor, name string) (*HealthRecordResponse, error) {
	rec, err := monitor.Poll(ctx, name)
	if err != nil {
		return nil, err
	}

	data, err := DomainHealthRecord(rec).ToAPIType()
	if err != nil {
		return nil, err
	}

	return &HealthRecordResponse{Body: data}, nil
}

func handleHealthHistory(monitor contracts.HealthMonitor, name string) (*HealthHistoryResponse, error) {
	history, err := monitor.History(name)
	if err != nil {
		return nil, err
	}

	records := make([]HealthRecord, 0, len(history))
	for _, rec := range history {
		data, err := DomainHealthRecord(rec).ToAPIType()
		if err != nil {
			return nil, err
		}
		records = append(records, data)
	}

	resp := &HealthHistoryResponse{}
	resp.Body.Records = records

	return resp, nil
}

func parseHealthStatus(status domain.HealthStatus) (HealthStatus, error) {
	switch status {
	case domain.HealthStatusHealthy:
		return HealthStatusHealthy, nil
	case domain.HealthStatusUnhealthy:
		return HealthStatusUnhealthy, nil
	case domain.HealthStatusMissing:
		return HealthStatusMissing, nil
	default:
		return "", fmt.Errorf("unknown health status: %s", status)
	}
}
