//go:build docsgen_api

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/perms"
)

// noopSupervisor satisfies contracts.ServerSupervisor. Route registration never calls it.
type noopSupervisor struct{}

func (noopSupervisor) List() []domain.ServerStatus                           { return nil }
func (noopSupervisor) Status(string) (domain.ServerStatus, error)            { return domain.ServerStatus{}, nil }
func (noopSupervisor) Start(context.Context, string) error                   { return nil }
func (noopSupervisor) Stop(string) error                                     { return nil }
func (noopSupervisor) Restart(context.Context, string) error                 { return nil }
func (noopSupervisor) Reset(string) error                                    { return nil }
func (noopSupervisor) ListTools(context.Context, string) ([]mcp.Tool, error) { return nil, nil }
func (noopSupervisor) CallTool(context.Context, string, string, map[string]any) (*mcp.CallToolResult, error) {
	return nil, nil
}

type noopMonitor struct{}

func (noopMonitor) Report() domain.HealthReport { return domain.HealthReport{} }
func (noopMonitor) Poll(context.Context, string) (domain.HealthRecord, error) {
	return domain.HealthRecord{}, nil
}
func (noopMonitor) PollAll(context.Context) map[string]domain.HealthRecord { return nil }
func (noopMonitor) History(string) ([]domain.HealthRecord, error)          { return nil, nil }

type noopAlerts struct{}

func (noopAlerts) Recent(int) []domain.Alert { return nil }

func (noopAlerts) Subscribe(int) (<-chan domain.Alert, func()) {
	return make(chan domain.Alert), func() {}
}

// main writes the OpenAPI document for the fleetd API.
// It assumes it is run from the repository root.
func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "fleetd.docsgen.api",
		Level:  hclog.Info,
		Output: os.Stderr,
	})

	outputPath := "./docs/api/openapi.yaml"

	// Same router setup as the daemon.
	mux := chi.NewMux()
	mux.Use(middleware.StripSlashes)
	router := humachi.New(mux, huma.DefaultConfig("fleetd docs", api.APIVersion))

	apiPathPrefix, err := api.RegisterRoutes(router, noopSupervisor{}, noopMonitor{}, noopAlerts{})
	if err != nil {
		logger.Error("failed to register API routes", "error", err)
		os.Exit(1)
	}
	logger.Info("Routes registered", "prefix", apiPathPrefix)

	yamlBytes, err := router.OpenAPI().YAML()
	if err != nil {
		logger.Error("failed to generate OpenAPI YAML", "error", err)
		os.Exit(1)
	}

	docsDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(docsDir, perms.RegularDir); err != nil {
		logger.Error("failed to create docs directory", "path", docsDir, "error", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outputPath, yamlBytes, perms.RegularFile); err != nil {
		logger.Error("failed to write OpenAPI spec", "path", outputPath, "error", err)
		os.Exit(1)
	}

	logger.Info("OpenAPI spec generated", "path", outputPath, "size", fmt.Sprintf("%d bytes", len(yamlBytes)))
}
