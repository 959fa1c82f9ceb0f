package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

func TestDomainAlert_ToAPIType(t *testing.T) {
	t.Parallel()

	now := time.Now()
	got := DomainAlert(domain.Alert{
		ID:        "abc",
		Type:      domain.AlertPortConflict,
		Servers:   []string{"a", "b"},
		Message:   "port 8080 is declared by a, b",
		Timestamp: now,
	}).ToAPIType()

	require.Equal(t, Alert{
		ID:        "abc",
		Type:      "port_conflict",
		Servers:   []string{"a", "b"},
		Message:   "port 8080 is declared by a, b",
		Timestamp: now,
	}, got)

	require.Equal(t, []string{}, DomainAlert(domain.Alert{Type: domain.AlertHighCPU}).ToAPIType().Servers)
}

func TestHandleAlerts(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{alerts: []domain.Alert{
		{ID: "1", Type: domain.AlertServerCrashed},
		{ID: "2", Type: domain.AlertServerUnhealthy},
		{ID: "3", Type: domain.AlertServerPermanentlyFailed},
	}}

	tests := []struct {
		name     string
		limit    int
		expected []string
	}{
		{name: "all", limit: 0, expected: []string{"1", "2", "3"}},
		{name: "most recent two", limit: 2, expected: []string{"2", "3"}},
		{name: "limit larger than feed", limit: 10, expected: []string{"1", "2", "3"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := handleAlerts(feed, tc.limit)
			ids := make([]string, 0, len(resp.Body.Alerts))
			for _, a := range resp.Body.Alerts {
				ids = append(ids, a.ID)
			}
			require.Equal(t, tc.expected, ids)
		})
	}

	empty := handleAlerts(&fakeFeed{}, 5)
	require.NotNil(t, empty.Body.Alerts)
	require.Empty(t, empty.Body.Alerts)
}

func TestStreamAlerts(t *testing.T) {
	t.Parallel()

	recent := []domain.Alert{
		{ID: "1", Type: domain.AlertServerCrashed, Message: "1"},
		{ID: "2", Type: domain.AlertServerCrashed, Message: "2"},
		{ID: "3", Type: domain.AlertHighCPU, Message: "3"},
	}

	collect := func(sent *[]string) sse.Sender {
		return func(msg sse.Message) error {
			*sent = append(*sent, msg.Data.(Alert).ID)
			return nil
		}
	}

	t.Run("replay then live without duplicates", func(t *testing.T) {
		t.Parallel()

		feed := &fakeFeed{alerts: recent, live: make(chan domain.Alert, 2)}
		feed.live <- recent[2]
		feed.live <- domain.Alert{ID: "4", Type: domain.AlertHighMemory}
		close(feed.live)

		var sent []string
		streamAlerts(context.Background(), feed, 2, collect(&sent))

		require.Equal(t, []string{"2", "3", "4"}, sent)
		require.Equal(t, 2, feed.asked)
		require.Eventually(t, func() bool { return isClosed(feed.unsubscribed) }, time.Second, time.Millisecond)
	})

	t.Run("no replay", func(t *testing.T) {
		t.Parallel()

		feed := &fakeFeed{alerts: recent, live: make(chan domain.Alert, 1)}
		feed.live <- domain.Alert{ID: "4"}
		close(feed.live)

		var sent []string
		streamAlerts(context.Background(), feed, 0, collect(&sent))

		require.Equal(t, []string{"4"}, sent)
		require.Zero(t, feed.asked)
	})

	t.Run("ends with the request", func(t *testing.T) {
		t.Parallel()

		feed := &fakeFeed{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var sent []string
		streamAlerts(ctx, feed, 0, collect(&sent))

		require.Empty(t, sent)
		require.True(t, isClosed(feed.unsubscribed))
	})

	t.Run("ends when the client stops reading", func(t *testing.T) {
		t.Parallel()

		feed := &fakeFeed{alerts: recent}
		calls := 0
		streamAlerts(context.Background(), feed, 3, func(sse.Message) error {
			calls++
			return errors.New("broken pipe")
		})

		require.Equal(t, 1, calls)
		require.True(t, isClosed(feed.unsubscribed))
	})
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
