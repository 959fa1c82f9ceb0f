package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

func TestNewAlert(t *testing.T) {
	t.Parallel()

	a := NewAlert(domain.AlertPortConflict, "port 9000 declared twice", "a", "b")
	b := NewAlert(domain.AlertPortConflict, "port 9000 declared twice", "a", "b")

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, []string{"a", "b"}, a.Servers)
	require.False(t, a.Timestamp.IsZero())
}

func TestMulti_AttemptsEveryNotifier(t *testing.T) {
	t.Parallel()

	var calls []string
	failing := NotifierFunc(func(context.Context, domain.Alert) error {
		calls = append(calls, "failing")
		return errors.New("smtp unavailable")
	})
	recording := NotifierFunc(func(context.Context, domain.Alert) error {
		calls = append(calls, "recording")
		return nil
	})

	err := Multi{failing, nil, recording}.Notify(context.Background(), NewAlert(domain.AlertHighCPU, "cpu", "a"))
	require.EqualError(t, err, "smtp unavailable")
	require.Equal(t, []string{"failing", "recording"}, calls)
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	_, err := NewLogNotifier(nil)
	require.EqualError(t, err, "logger cannot be nil")

	n, err := NewLogNotifier(hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), NewAlert(domain.AlertServerMissing, "gone", "a")))
}

func TestStream_BoundedRecent(t *testing.T) {
	t.Parallel()

	_, err := NewStream(0)
	require.Error(t, err)

	s, err := NewStream(3)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, s.Notify(context.Background(), NewAlert(domain.AlertHighMemory, fmt.Sprint(i), "a")))
	}

	messages := func(alerts []domain.Alert) []string {
		out := make([]string, 0, len(alerts))
		for _, a := range alerts {
			out = append(out, a.Message)
		}
		return out
	}

	require.Equal(t, []string{"2", "3", "4"}, messages(s.Recent(0)))
	require.Equal(t, []string{"3", "4"}, messages(s.Recent(2)))
	require.Equal(t, []string{"2", "3", "4"}, messages(s.Recent(10)))
}

func TestStream_Subscribe(t *testing.T) {
	t.Parallel()

	s, err := NewStream(10)
	require.NoError(t, err)

	ch, cancel := s.Subscribe(1)
	alert := NewAlert(domain.AlertServerCrashed, "exit 1", "a")
	require.NoError(t, s.Notify(context.Background(), alert))
	require.Equal(t, alert, <-ch)

	// A full subscriber does not block appends.
	require.NoError(t, s.Notify(context.Background(), alert))
	require.NoError(t, s.Notify(context.Background(), alert))
	require.Len(t, s.Recent(0), 3)

	cancel()
	cancel()
	_, open := <-ch
	require.True(t, open)
	_, open = <-ch
	require.False(t, open)
}
