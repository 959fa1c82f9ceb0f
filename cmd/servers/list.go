package servers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/cmd/output"
	"github.com/mozilla-ai/fleetd/internal/filter"
	"github.com/mozilla-ai/fleetd/internal/printer"
)

type ListCmd struct {
	*cmd.BaseCmd
	Format        cmd.OutputFormat
	Filters       map[string]string
	clientBuilder options.ClientBuilder
	printer       output.Printer[api.Server]
	matcher       *filter.Matcher[api.Server]
}

// newServerMatcher supports filtering servers by name (substring), state, health status and tools.
func newServerMatcher() (*filter.Matcher[api.Server], error) {
	return filter.NewMatcher(
		filter.WithPredicate("name", filter.Partial(func(s api.Server) string { return s.Name })),
		filter.WithPredicate("state", filter.Equals(func(s api.Server) string { return s.State })),
		filter.WithPredicate("health", filter.Equals(func(s api.Server) string {
			if s.LastHealth == nil {
				return ""
			}
			return string(s.LastHealth.Status)
		})),
		filter.WithPredicate("tools", filter.HasAll(func(s api.Server) []string { return s.Tools })),
	)
}

func NewListCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	builder, err := clientBuilder(opt...)
	if err != nil {
		return nil, err
	}

	matcher, err := newServerMatcher()
	if err != nil {
		return nil, err
	}

	c := &ListCmd{
		BaseCmd:       baseCmd,
		Format:        cmd.FormatText, // Default to plain text
		clientBuilder: builder,
		printer:       printer.NewServerPrinter(),
		matcher:       matcher,
	}

	cobraCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the supervised servers and their state",
		RunE:  c.run,
		Args:  cobra.NoArgs,
	}

	allowed := cmd.AllowedOutputFormats()
	cobraCmd.Flags().Var(&c.Format, "format", fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()))
	cobraCmd.Flags().StringToStringVar(
		&c.Filters,
		"filter",
		nil,
		fmt.Sprintf("Only list servers matching key=value (keys: %s), can be repeated", strings.Join(matcher.Keys(), ", ")),
	)

	return cobraCmd, nil
}

func (c *ListCmd) run(cobraCmd *cobra.Command, _ []string) error {
	handler, err := cmd.FormatHandler(cobraCmd.OutOrStdout(), c.Format, c.printer)
	if err != nil {
		return err
	}

	client, err := c.clientBuilder.CreateClient()
	if err != nil {
		return handler.HandleError(err)
	}

	servers, err := client.Servers(cobraCmd.Context())
	if err != nil {
		return handler.HandleError(err)
	}

	servers, err = c.matcher.Filter(servers, c.Filters)
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResults(servers...)
}

type StatusCmd struct {
	*cmd.BaseCmd
	Format        cmd.OutputFormat
	clientBuilder options.ClientBuilder
	printer       output.Printer[api.Server]
}

func NewStatusCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	builder, err := clientBuilder(opt...)
	if err != nil {
		return nil, err
	}

	c := &StatusCmd{
		BaseCmd:       baseCmd,
		Format:        cmd.FormatText,
		clientBuilder: builder,
		printer:       printer.NewServerPrinter(),
	}

	cobraCmd := &cobra.Command{
		Use:   "status <server-name>",
		Short: "Shows the status of a single server",
		RunE:  c.run,
		Args:  cobra.ExactArgs(1),
	}

	allowed := cmd.AllowedOutputFormats()
	cobraCmd.Flags().Var(&c.Format, "format", fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()))

	return cobraCmd, nil
}

func (c *StatusCmd) run(cobraCmd *cobra.Command, args []string) error {
	handler, err := cmd.FormatHandler(cobraCmd.OutOrStdout(), c.Format, c.printer)
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

	server, err := client.Server(cobraCmd.Context(), name)
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResult(server)
}
