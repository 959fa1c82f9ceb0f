package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/cmd"
	cmdopts "github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/flags"
	"github.com/mozilla-ai/fleetd/internal/tools"
	"github.com/mozilla-ai/fleetd/internal/worker"
)

const (
	echoSchema = `{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`

	sleepSchema = `{
		"type": "object",
		"properties": {"duration": {"type": "string"}},
		"required": ["duration"]
	}`
)

// WorkerCmd represents the 'worker' command, a diagnostic worker speaking the protocol over stdio.
type WorkerCmd struct {
	*cmd.BaseCmd
	name        string
	callTimeout time.Duration
	rateLimit   float64
	rateBurst   int
}

func NewWorkerCmd(baseCmd *cmd.BaseCmd, _ ...cmdopts.CmdOption) (*cobra.Command, error) {
	c := &WorkerCmd{
		BaseCmd: baseCmd,
	}

	cobraCmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs a diagnostic worker over stdin/stdout",
		Long: "Runs a diagnostic worker that hosts the 'echo' and 'sleep' tools over stdin/stdout. " +
			"Point a server entry at 'fleetd worker' to smoke-test a configuration.",
		RunE: c.run,
		Args: cobra.NoArgs,
	}

	cobraCmd.Flags().StringVar(&c.name, "name", "fleetd-worker", "Name reported during the handshake")
	cobraCmd.Flags().DurationVar(&c.callTimeout, "call-timeout", 0, "Per-call timeout (0 uses the worker default)")
	cobraCmd.Flags().Float64Var(&c.rateLimit, "rate-limit", 0, "Tool calls accepted per second (0 disables limiting)")
	cobraCmd.Flags().IntVar(&c.rateBurst, "rate-burst", 1, "Tool calls that may exceed the rate limit momentarily")

	return cobraCmd, nil
}

func (c *WorkerCmd) run(cobraCmd *cobra.Command, _ []string) error {
	// Stdout carries the protocol, so logs always go to stderr.
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   c.name,
		Level:  hclog.LevelFromString(flags.LogLevel),
		Output: cobraCmd.ErrOrStderr(),
	})

	ctx, cancel := signal.NotifyContext(cobraCmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return c.serve(ctx, logger, cobraCmd.InOrStdin(), cobraCmd.OutOrStdout())
}

func (c *WorkerCmd) serve(ctx context.Context, logger hclog.Logger, in io.Reader, out io.Writer) error {
	registry, err := newWorkerRegistry(logger)
	if err != nil {
		return err
	}

	opts := []worker.Option{
		worker.WithServerInfo(c.name, cmd.Version()),
		worker.WithRateLimit(c.rateLimit, c.rateBurst),
	}
	if c.callTimeout > 0 {
		opts = append(opts, worker.WithCallTimeout(c.callTimeout))
	}

	w, err := worker.New(logger, registry, opts...)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	return w.Serve(ctx, in, out)
}

// newWorkerRegistry returns a registry holding the diagnostic tools.
func newWorkerRegistry(logger hclog.Logger) (*tools.Registry, error) {
	registry, err := tools.NewRegistry(logger)
	if err != nil {
		return nil, err
	}

	descriptors := []tools.Descriptor{
		{
			Name:        "echo",
			Description: "Returns the given text",
			Schema:      tools.MustSchema(echoSchema),
			Handler: tools.HandlerFunc(func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText(fmt.Sprint(args["text"])), nil
			}),
		},
		{
			Name:        "sleep",
			Description: "Waits for the given duration, e.g. 1500ms, then returns",
			Schema:      tools.MustSchema(sleepSchema),
			Handler:     tools.HandlerFunc(sleepTool),
		},
	}

	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func sleepTool(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	raw := strings.TrimSpace(fmt.Sprint(args["duration"]))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid duration '%s'", raw)), nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return mcp.NewToolResultText(fmt.Sprintf("slept %s", d)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
