package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/tools"
)

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	return text.Text
}

func TestWorkerRegistry_Tools(t *testing.T) {
	t.Parallel()

	reg, err := newWorkerRegistry(hclog.NewNullLogger())
	require.NoError(t, err)

	names := make([]string, 0, 2)
	for _, d := range reg.List() {
		names = append(names, d.Name)
	}
	require.ElementsMatch(t, []string{"echo", "sleep"}, names)
}

func TestWorkerRegistry_Echo(t *testing.T) {
	t.Parallel()

	reg, err := newWorkerRegistry(hclog.NewNullLogger())
	require.NoError(t, err)

	res, err := reg.Invoke(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", resultText(t, res))

	_, err = reg.Invoke(context.Background(), "echo", map[string]any{})
	var validationErr *tools.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestSleepTool(t *testing.T) {
	t.Parallel()

	t.Run("completes", func(t *testing.T) {
		t.Parallel()

		res, err := sleepTool(context.Background(), map[string]any{"duration": "1ms"})
		require.NoError(t, err)
		require.Equal(t, "slept 1ms", resultText(t, res))
	})

	t.Run("invalid duration is a tool error", func(t *testing.T) {
		t.Parallel()

		res, err := sleepTool(context.Background(), map[string]any{"duration": "soon"})
		require.NoError(t, err)
		require.True(t, res.IsError)
		require.Equal(t, "invalid duration 'soon'", resultText(t, res))
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := sleepTool(ctx, map[string]any{"duration": "1h"})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestWorkerCmd_ServeStopsAtEOF(t *testing.T) {
	t.Parallel()

	c := &WorkerCmd{BaseCmd: &cmd.BaseCmd{}, name: "diag", rateBurst: 1}

	var out strings.Builder
	done := make(chan error, 1)
	go func() {
		done <- c.serve(context.Background(), hclog.NewNullLogger(), strings.NewReader(""), &out)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after its input closed")
	}
}

func TestWorkerCmd_Flags(t *testing.T) {
	t.Parallel()

	cobraCmd, err := NewWorkerCmd(&cmd.BaseCmd{})
	require.NoError(t, err)
	require.Equal(t, "worker", cobraCmd.Name())

	for _, name := range []string{"name", "call-timeout", "rate-limit", "rate-burst"} {
		require.NotNil(t, cobraCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}
