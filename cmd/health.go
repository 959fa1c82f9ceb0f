package cmd

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd"
	cmdopts "github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/printer"
)

// HealthCmd represents the 'health' command.
type HealthCmd struct {
	*cmd.BaseCmd
	Format        cmd.OutputFormat
	Poll          bool
	clientBuilder cmdopts.ClientBuilder
}

func NewHealthCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}
	if opts.ClientBuilder == nil || reflect.ValueOf(opts.ClientBuilder).IsNil() {
		return nil, fmt.Errorf("client builder cannot be nil")
	}

	c := &HealthCmd{
		BaseCmd:       baseCmd,
		Format:        cmd.FormatText,
		clientBuilder: opts.ClientBuilder,
	}

	cobraCmd := &cobra.Command{
		Use:   "health [server-name]",
		Short: "Shows the health of supervised servers",
		Long: "Shows the latest health report of a running daemon. With a server name, shows the " +
			"retained health history of that server. Use --poll to poll now instead of reading the last results.",
		RunE: c.run,
		Args: cobra.MaximumNArgs(1),
	}

	cobraCmd.Flags().BoolVar(&c.Poll, "poll", false, "Poll now instead of reading the latest results")
	allowed := cmd.AllowedOutputFormats()
	cobraCmd.Flags().Var(&c.Format, "format", fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()))

	return cobraCmd, nil
}

func (c *HealthCmd) run(cobraCmd *cobra.Command, args []string) error {
	client, err := c.clientBuilder.CreateClient()
	if err != nil {
		return err
	}

	ctx := cobraCmd.Context()
	w := cobraCmd.OutOrStdout()

	if len(args) == 0 {
		handler, err := cmd.FormatHandler[api.HealthReport](w, c.Format, printer.NewHealthReportPrinter())
		if err != nil {
			return err
		}

		var report api.HealthReport
		if c.Poll {
			report, err = client.PollAll(ctx)
		} else {
			report, err = client.HealthReport(ctx)
		}
		if err != nil {
			return handler.HandleError(err)
		}

		return handler.HandleResult(report)
	}

	name := strings.TrimSpace(args[0])
	handler, err := cmd.FormatHandler[api.HealthRecord](w, c.Format, printer.NewHealthRecordPrinter())
	if err != nil {
		return err
	}
	if name == "" {
		return handler.HandleError(fmt.Errorf("server-name is required"))
	}

	if c.Poll {
		rec, err := client.Poll(ctx, name)
		if err != nil {
			return handler.HandleError(err)
		}
		return handler.HandleResult(rec)
	}

	records, err := client.History(ctx, name)
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResults(records...)
}

// AlertsCmd represents the 'alerts' command.
type AlertsCmd struct {
	*cmd.BaseCmd
	Format        cmd.OutputFormat
	Limit         int
	clientBuilder cmdopts.ClientBuilder
}

func NewAlertsCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}
	if opts.ClientBuilder == nil || reflect.ValueOf(opts.ClientBuilder).IsNil() {
		return nil, fmt.Errorf("client builder cannot be nil")
	}

	c := &AlertsCmd{
		BaseCmd:       baseCmd,
		Format:        cmd.FormatText,
		clientBuilder: opts.ClientBuilder,
	}

	cobraCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Lists recent alerts raised by the daemon",
		RunE:  c.run,
		Args:  cobra.NoArgs,
	}

	cobraCmd.Flags().IntVar(&c.Limit, "limit", 50, "Maximum number of alerts to show, 0 for all retained")
	allowed := cmd.AllowedOutputFormats()
	cobraCmd.Flags().Var(&c.Format, "format", fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()))

	return cobraCmd, nil
}

func (c *AlertsCmd) run(cobraCmd *cobra.Command, _ []string) error {
	handler, err := cmd.FormatHandler[api.Alert](cobraCmd.OutOrStdout(), c.Format, printer.NewAlertPrinter())
	if err != nil {
		return err
	}

	if c.Limit < 0 {
		return handler.HandleError(fmt.Errorf("limit cannot be negative, got %d", c.Limit))
	}

	client, err := c.clientBuilder.CreateClient()
	if err != nil {
		return handler.HandleError(err)
	}

	alerts, err := client.Alerts(cobraCmd.Context(), c.Limit)
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResults(alerts...)
}
