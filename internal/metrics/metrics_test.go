package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.ServerRestarted("quotes")
	m.ServerRestarted("quotes")
	m.ServerStateChanged("quotes", domain.ServerStateRunning)
	m.ServerStateChanged("quotes", domain.ServerStateCrashed)
	m.ProbeObserved("quotes", 20*time.Millisecond)
	require.NoError(t, m.Notify(context.Background(), domain.Alert{Type: domain.AlertPortConflict}))

	body := scrape(t, m)
	require.Contains(t, body, `fleetd_server_restarts_total{server="quotes"} 2`)
	require.Contains(t, body, `fleetd_server_state{server="quotes",state="crashed"} 1`)
	require.Contains(t, body, `fleetd_server_state{server="quotes",state="running"} 0`)
	require.Contains(t, body, `fleetd_health_probe_duration_seconds_count{server="quotes"} 1`)
	require.Contains(t, body, `fleetd_alerts_total{type="port_conflict"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ServerRestarted("a")
	m.ServerStateChanged("a", domain.ServerStateRunning)
	m.ProbeObserved("a", time.Second)
	require.NoError(t, m.Notify(context.Background(), domain.Alert{}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
