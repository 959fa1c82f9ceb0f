package servers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/apiclient"
	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/printer"
)

// ActionCmd applies a lifecycle operation to a server and prints its resulting status.
type ActionCmd struct {
	*cmd.BaseCmd
	Format        cmd.OutputFormat
	action        apiclient.Action
	clientBuilder options.ClientBuilder
}

func NewStartCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	return newActionCmd(baseCmd, apiclient.ActionStart, "Starts a stopped server", opt...)
}

func NewStopCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	return newActionCmd(baseCmd, apiclient.ActionStop, "Stops a server and cancels any pending restart", opt...)
}

func NewRestartCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	return newActionCmd(baseCmd, apiclient.ActionRestart, "Stops and starts a server", opt...)
}

func NewResetCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	return newActionCmd(
		baseCmd,
		apiclient.ActionReset,
		"Returns a crashed or permanently failed server to stopped, clearing its restart budget",
		opt...,
	)
}

func newActionCmd(
	baseCmd *cmd.BaseCmd,
	action apiclient.Action,
	short string,
	opt ...options.CmdOption,
) (*cobra.Command, error) {
	builder, err := clientBuilder(opt...)
	if err != nil {
		return nil, err
	}

	c := &ActionCmd{
		BaseCmd:       baseCmd,
		Format:        cmd.FormatText,
		action:        action,
		clientBuilder: builder,
	}

	cobraCmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <server-name>", action),
		Short: short,
		RunE:  c.run,
		Args:  cobra.ExactArgs(1),
	}

	allowed := cmd.AllowedOutputFormats()
	cobraCmd.Flags().Var(&c.Format, "format", fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()))

	return cobraCmd, nil
}

func (c *ActionCmd) run(cobraCmd *cobra.Command, args []string) error {
	handler, err := cmd.FormatHandler[api.Server](cobraCmd.OutOrStdout(), c.Format, printer.NewServerPrinter())
	if err != nil {
		return err
	}

	name := strings.TrimSpace(args[0])
	if name == "" {
		return handler.HandleError(fmt.Errorf("server-name is required"))
	}

	client, err := c.clientBuilder.CreateClient()
	if err != nil {
		return handler.HandleError(err)
	}

	server, err := client.Apply(cobraCmd.Context(), name, c.action)
	if err != nil {
		return handler.HandleError(fmt.Errorf("failed to %s server '%s': %w", c.action, name, err))
	}

	return handler.HandleResult(server)
}
