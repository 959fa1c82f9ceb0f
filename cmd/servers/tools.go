package servers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/printer"
)

type ToolsCmd struct {
	*cmd.BaseCmd
	Format        cmd.OutputFormat
	Detail        string
	clientBuilder options.ClientBuilder
}

func NewToolsCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	builder, err := clientBuilder(opt...)
	if err != nil {
		return nil, err
	}

	c := &ToolsCmd{
		BaseCmd:       baseCmd,
		Format:        cmd.FormatText,
		clientBuilder: builder,
	}

	cobraCmd := &cobra.Command{
		Use:   "tools <server-name>",
		Short: "Lists the tools advertised by a running server",
		RunE:  c.run,
		Args:  cobra.ExactArgs(1),
	}

	cobraCmd.Flags().StringVar(&c.Detail, "detail", "summary", "Detail level: minimal, summary or full")
	allowed := cmd.AllowedOutputFormats()
	cobraCmd.Flags().Var(&c.Format, "format", fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()))

	return cobraCmd, nil
}

func (c *ToolsCmd) run(cobraCmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])

	handler, err := cmd.FormatHandler[api.Tool](cobraCmd.OutOrStdout(), c.Format, printer.NewToolPrinter(name))
	if err != nil {
		return err
	}
	if name == "" {
		return handler.HandleError(fmt.Errorf("server-name is required"))
	}

	client, err := c.clientBuilder.CreateClient()
	if err != nil {
		return handler.HandleError(err)
	}

	tools, err := client.Tools(cobraCmd.Context(), name, c.Detail)
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResults(tools...)
}

type CallCmd struct {
	*cmd.BaseCmd
	Args          string
	clientBuilder options.ClientBuilder
}

func NewCallCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	builder, err := clientBuilder(opt...)
	if err != nil {
		return nil, err
	}

	c := &CallCmd{
		BaseCmd:       baseCmd,
		clientBuilder: builder,
	}

	cobraCmd := &cobra.Command{
		Use:   "call <server-name> <tool-name>",
		Short: "Calls a tool on a running server and prints its text result",
		Example: `  fleetd servers call quotes quote --args '{"symbol": "MZLA"}'
  fleetd servers call diag sleep --args '{"duration": "2s"}'`,
		RunE: c.run,
		Args: cobra.ExactArgs(2),
	}

	cobraCmd.Flags().StringVar(&c.Args, "args", "{}", "Tool arguments as a JSON object")

	return cobraCmd, nil
}

func (c *CallCmd) run(cobraCmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	tool := strings.TrimSpace(args[1])
	if name == "" || tool == "" {
		return fmt.Errorf("server-name and tool-name are required")
	}

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(c.Args), &toolArgs); err != nil {
		return fmt.Errorf("invalid --args, expected a JSON object: %w", err)
	}
	if toolArgs == nil {
		toolArgs = map[string]any{}
	}

	client, err := c.clientBuilder.CreateClient()
	if err != nil {
		return err
	}

	result, err := client.CallTool(cobraCmd.Context(), name, tool, toolArgs)
	if err != nil {
		return fmt.Errorf("failed to call '%s' on server '%s': %w", tool, name, err)
	}

	_, _ = fmt.Fprintln(cobraCmd.OutOrStdout(), result)

	return nil
}
