package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/mozilla-ai/fleetd/internal/contracts"
	"github.com/mozilla-ai/fleetd/internal/domain"
)

// DomainAlert wraps domain.Alert for conversion via ToAPIType.
type DomainAlert domain.Alert

// Alert is a typed event raised by the supervisor or the health monitor.
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Servers   []string  `json:"servers"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertsRequest represents the incoming request for recent alerts.
type AlertsRequest struct {
	Limit int `default:"50" doc:"Maximum number of alerts to return, 0 for all retained" minimum:"0" query:"limit"`
}

// AlertsResponse represents the wrapped API response for recent alerts.
type AlertsResponse struct {
	Body struct {
		Alerts []Alert `doc:"Recent alerts, oldest first" json:"alerts"`
	}
}

// AlertStreamRequest represents the incoming request to follow alerts as they are raised.
type AlertStreamRequest struct {
	Replay int `default:"0" doc:"Number of recent alerts to send before live ones" minimum:"0" query:"replay"`
}

// alertStreamBuffer bounds how far a slow stream client may fall behind before alerts are dropped for it.
const alertStreamBuffer = 64

// ToAPIType converts an alert to its API representation.
func (d DomainAlert) ToAPIType() Alert {
	servers := slices.Clone(d.Servers)
	if servers == nil {
		servers = []string{}
	}

	return Alert{
		ID:        d.ID,
		Type:      string(d.Type),
		Servers:   servers,
		Message:   d.Message,
		Timestamp: d.Timestamp,
	}
}

// RegisterAlertRoutes sets up the alert feed routes.
func RegisterAlertRoutes(routerAPI huma.API, feed contracts.AlertFeed, apiPathPrefix string) {
	sse.Register(
		routerAPI,
		huma.Operation{
			OperationID: "streamAlerts",
			Method:      http.MethodGet,
			Path:        apiPathPrefix + "/stream",
			Summary:     "Stream alerts as they are raised",
			Tags:        []string{"Alerts"},
		},
		map[string]any{"alert": Alert{}},
		func(ctx context.Context, input *AlertStreamRequest, send sse.Sender) {
			streamAlerts(ctx, feed, input.Replay, send)
		},
	)

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "listAlerts",
			Method:      http.MethodGet,
			Path:        apiPathPrefix,
			Summary:     "List recent alerts",
			Tags:        []string{"Alerts"},
		},
		func(_ context.Context, input *AlertsRequest) (*AlertsResponse, error) {
			return handleAlerts(feed, input.Limit), nil
		},
	)
}

// streamAlerts sends up to replay recent alerts and then every new alert until ctx ends,
// the feed closes the subscription or the client stops reading.
func streamAlerts(ctx context.Context, feed contracts.AlertFeed, replay int, send sse.Sender) {
	live, unsubscribe := feed.Subscribe(alertStreamBuffer)
	defer unsubscribe()

	// Alerts raised between subscribing and replaying would otherwise be sent twice.
	sent := make(map[string]struct{})
	if replay > 0 {
		for _, a := range feed.Recent(replay) {
			if err := send.Data(DomainAlert(a).ToAPIType()); err != nil {
				return
			}
			sent[a.ID] = struct{}{}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-live:
			if !ok {
				return
			}
			if _, dup := sent[a.ID]; dup {
				delete(sent, a.ID)
				continue
			}
			if err := send.Data(DomainAlert(a).ToAPIType()); err != nil {
				return
			}
		}
	}
}

func handleAlerts(feed contracts.AlertFeed, limit int) *AlertsResponse {
	recent := feed.Recent(limit)

	alerts := make([]Alert, 0, len(recent))
	for _, a := range recent {
		alerts = append(alerts, DomainAlert(a).ToAPIType())
	}

	resp := &AlertsResponse{}
	resp.Body.Alerts = alerts

	return resp
}
