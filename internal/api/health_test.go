package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/errors"
)

func testMonitor() *fakeMonitor {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	healthy := domain.HealthRecord{Server: "a", Timestamp: now, Status: domain.HealthStatusHealthy, Latency: time.Millisecond}
	missing := domain.HealthRecord{Server: "b", Timestamp: now, Status: domain.HealthStatusMissing, Issues: []string{"process not running"}}

	return &fakeMonitor{
		report: domain.HealthReport{
			Timestamp: now,
			Total:     2,
			Healthy:   1,
			Missing:   1,
			PerServer: map[string]domain.HealthRecord{"a": healthy, "b": missing},
			Alerts: []domain.Alert{
				{ID: "1", Type: domain.AlertServerMissing, Servers: []string{"b"}, Message: "b is missing", Timestamp: now},
			},
		},
		records: map[string][]domain.HealthRecord{
			"a": {healthy},
			"b": {healthy, missing},
		},
	}
}

func TestParseHealthStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       domain.HealthStatus
		expected HealthStatus
		wantErr  bool
	}{
		{in: domain.HealthStatusHealthy, expected: HealthStatusHealthy},
		{in: domain.HealthStatusUnhealthy, expected: HealthStatusUnhealthy},
		{in: domain.HealthStatusMissing, expected: HealthStatusMissing},
		{in: "", wantErr: true},
		{in: "degraded", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(string(tc.in), func(t *testing.T) {
			t.Parallel()

			got, err := parseHealthStatus(tc.in)
			if tc.wantErr {
				require.EqualError(t, err, "unknown health status: "+string(tc.in))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestHandleHealthReport(t *testing.T) {
	t.Parallel()

	resp, err := handleHealthReport(testMonitor())
	require.NoError(t, err)

	report := resp.Body
	require.Equal(t, 2, report.Total)
	require.Equal(t, 1, report.Healthy)
	require.Equal(t, 0, report.Unhealthy)
	require.Equal(t, 1, report.Missing)
	require.Len(t, report.PerServer, 2)
	require.Equal(t, HealthStatusMissing, report.PerServer["b"].Status)
	require.Equal(t, []string{"process not running"}, report.PerServer["b"].Issues)
	require.Len(t, report.Alerts, 1)
	require.Equal(t, "server_missing", report.Alerts[0].Type)
}

func TestHandleHealthReport_Empty(t *testing.T) {
	t.Parallel()

	resp, err := handleHealthReport(&fakeMonitor{})
	require.NoError(t, err)
	require.NotNil(t, resp.Body.PerServer)
	require.NotNil(t, resp.Body.Alerts)
	require.Zero(t, resp.Body.Total)
}

func TestHandleHealthPoll(t *testing.T) {
	t.Parallel()

	mon := testMonitor()

	resp, err := handleHealthPoll(context.Background(), mon, "b")
	require.NoError(t, err)
	require.Equal(t, "b", resp.Body.Server)
	require.Equal(t, HealthStatusMissing, resp.Body.Status)
	require.Equal(t, []string{"b"}, mon.polled)

	_, err = handleHealthPoll(context.Background(), mon, "ghost")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestHandleHealthHistory(t *testing.T) {
	t.Parallel()

	mon := testMonitor()

	resp, err := handleHealthHistory(mon, "b")
	require.NoError(t, err)
	require.Len(t, resp.Body.Records, 2)
	require.Equal(t, HealthStatusHealthy, resp.Body.Records[0].Status)
	require.Equal(t, HealthStatusMissing, resp.Body.Records[1].Status)

	_, err = handleHealthHistory(mon, "ghost")
	require.ErrorIs(t, err, errors.ErrHealthNotTracked)
}
