package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/cmd"
	cmdopts "github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/config"
	"github.com/mozilla-ai/fleetd/internal/daemon"
	"github.com/mozilla-ai/fleetd/internal/flags"
	"github.com/mozilla-ai/fleetd/internal/health"
	"github.com/mozilla-ai/fleetd/internal/supervisor"
)

const (
	flagDev                = "dev"
	flagAddr               = "api-addr"
	flagCORSEnable         = "cors-enable"
	flagCORSOrigin         = "cors-allow-origin"
	flagCORSCredentials    = "cors-allow-credentials"
	flagCORSMaxAge         = "cors-max-age"
	flagTimeoutAPIShutdown = "timeout-api-shutdown"
	flagIntervalHealth     = "interval-health"
)

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	config    daemonFlagConfig
	cfgLoader config.Loader
}

// daemonFlagConfig holds the values of the daemon's command line flags.
type daemonFlagConfig struct {
	dev     bool
	addr    string
	cors    corsFlagConfig
	timeout timeoutFlagConfig
	health  healthFlagConfig
}

type corsFlagConfig struct {
	enable      bool
	origins     []string
	credentials bool
	maxAge      string
}

type timeoutFlagConfig struct {
	apiShutdown string
}

type healthFlagConfig struct {
	interval string
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c, err := newDaemonCmd(baseCmd, opts.ConfigLoader)
	if err != nil {
		return nil, err
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--dev] [--api-addr]",
		Short: "Launches a fleetd daemon instance",
		Long: "Launches a fleetd daemon instance, which starts the configured tool servers, " +
			"restarts them when they crash, polls their health and serves the status API over HTTP",
		RunE: c.run,
		Args: cobra.NoArgs,
	}

	fs := cobraCommand.Flags()
	fs.BoolVar(&c.config.dev, flagDev, false, "Run the daemon in development-focused mode")
	fs.StringVar(&c.config.addr, flagAddr, "", "Address for the daemon API to bind (overrides daemon.api_addr)")
	fs.BoolVar(&c.config.cors.enable, flagCORSEnable, false, "Enable CORS on the daemon API")
	fs.StringSliceVar(&c.config.cors.origins, flagCORSOrigin, nil, "Allowed CORS origin (repeatable)")
	fs.BoolVar(&c.config.cors.credentials, flagCORSCredentials, false, "Allow credentials in CORS requests")
	fs.StringVar(&c.config.cors.maxAge, flagCORSMaxAge, "", "How long browsers may cache CORS preflight results, e.g. 10m")
	fs.StringVar(&c.config.timeout.apiShutdown, flagTimeoutAPIShutdown, "", "Graceful shutdown timeout of the API, e.g. 5s")
	fs.StringVar(&c.config.health.interval, flagIntervalHealth, "", "How often health polls are scheduled (overrides daemon.health.interval)")

	cobraCommand.MarkFlagsMutuallyExclusive(flagDev, flagAddr)

	return cobraCommand, nil
}

func newDaemonCmd(baseCmd *cmd.BaseCmd, cfgLoader config.Loader) (*DaemonCmd, error) {
	if cfgLoader == nil || reflect.ValueOf(cfgLoader).IsNil() {
		return nil, fmt.Errorf("config loader cannot be nil")
	}

	return &DaemonCmd{
		BaseCmd:   baseCmd,
		cfgLoader: cfgLoader,
	}, nil
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
func (c *DaemonCmd) run(cobraCmd *cobra.Command, _ []string) error {
	if err := c.validateFlags(cobraCmd); err != nil {
		return err
	}

	logger := c.Logger()

	cfg, err := c.LoadConfig(c.cfgLoader)
	if err != nil {
		return err
	}

	defs, err := cfg.Definitions()
	if err != nil {
		return fmt.Errorf("invalid server definitions: %w", err)
	}

	addr := c.resolveAddr(cfg)

	deps, err := daemon.NewDependencies(logger, addr, defs)
	if err != nil {
		return fmt.Errorf("error configuring fleetd daemon dependencies: %w", err)
	}

	opts, err := c.buildDaemonOptions(cfg.Daemon.Health)
	if err != nil {
		return fmt.Errorf("error configuring fleetd daemon options: %w", err)
	}

	d, err := daemon.NewDaemon(deps, opts...)
	if err != nil {
		return fmt.Errorf("failed to create fleetd daemon instance: %w", err)
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	runErr := make(chan error, 1)
	go func() {
		if err := d.StartAndManage(daemonCtx); err != nil && !errors.Is(err, context.Canceled) {
			runErr <- err
		}
		close(runErr)
	}()

	if c.config.dev {
		c.printDevBanner(cobraCmd.OutOrStdout(), logger, addr, len(defs))
	}

	select {
	case <-daemonCtx.Done():
		logger.Info("Shutting down daemon")
		return <-runErr // Wait for cleanup and deferred logging.
	case err := <-runErr:
		if err != nil {
			logger.Error("daemon exited with error", "error", err)
		}
		return err
	}
}

// validateFlags checks flag combinations and values before anything is started.
func (c *DaemonCmd) validateFlags(cobraCmd *cobra.Command) error {
	if err := c.RequireTogether(cobraCmd, flagCORSEnable, flagCORSOrigin); err != nil {
		return err
	}

	durations := map[string]string{
		flagCORSMaxAge:         c.config.cors.maxAge,
		flagTimeoutAPIShutdown: c.config.timeout.apiShutdown,
		flagIntervalHealth:     c.config.health.interval,
	}
	for name, value := range durations {
		if _, err := parseOptionalDuration(value); err != nil {
			return fmt.Errorf("invalid value for --%s: %w", name, err)
		}
	}

	if addr := strings.TrimSpace(c.config.addr); addr != "" && !strings.Contains(addr, ":") {
		return fmt.Errorf("invalid value for --%s: '%s' must be in host:port form", flagAddr, addr)
	}

	return nil
}

// resolveAddr picks the API address from the dev override, the flag, or the configuration, in that order.
func (c *DaemonCmd) resolveAddr(cfg *config.Config) string {
	if c.config.dev {
		return config.DefaultAPIAddr
	}
	if addr := strings.TrimSpace(c.config.addr); addr != "" {
		return addr
	}
	return cfg.APIAddr()
}

// buildAPIOptions converts the API related flags into daemon API options.
func (c *DaemonCmd) buildAPIOptions() ([]daemon.APIOption, error) {
	var opts []daemon.APIOption

	if c.config.cors.enable {
		opts = append(opts,
			daemon.WithCORSEnabled(true),
			daemon.WithCORSAllowOrigins(c.config.cors.origins),
			daemon.WithCORSAllowCredentials(c.config.cors.credentials),
		)

		maxAge, err := parseOptionalDuration(c.config.cors.maxAge)
		if err != nil {
			return nil, fmt.Errorf("invalid CORS max age: %w", err)
		}
		if maxAge > 0 {
			opts = append(opts, daemon.WithCORSMaxAge(maxAge))
		}
	}

	shutdown, err := parseOptionalDuration(c.config.timeout.apiShutdown)
	if err != nil {
		return nil, fmt.Errorf("invalid API shutdown timeout: %w", err)
	}
	if shutdown > 0 {
		opts = append(opts, daemon.WithShutdownTimeout(shutdown))
	}

	return opts, nil
}

// buildDaemonOptions combines flag values with the health section of the configuration file.
// Flags take precedence and unset values leave the component defaults in place.
func (c *DaemonCmd) buildDaemonOptions(hc config.HealthConfig) ([]daemon.Option, error) {
	apiOpts, err := c.buildAPIOptions()
	if err != nil {
		return nil, err
	}

	var healthOpts []health.Option

	interval, err := parseOptionalDuration(c.config.health.interval)
	if err != nil {
		return nil, fmt.Errorf("invalid health interval: %w", err)
	}
	if interval == 0 {
		interval = hc.Interval.Std()
	}
	if interval > 0 {
		healthOpts = append(healthOpts, health.WithInterval(interval))
	}

	if hc.UnhealthyThreshold > 0 {
		healthOpts = append(healthOpts, health.WithUnhealthyThreshold(hc.UnhealthyThreshold))
	}
	if hc.CPUThreshold > 0 || hc.MemoryThreshold > 0 {
		cpu, mem := hc.CPUThreshold, hc.MemoryThreshold
		if cpu == 0 {
			cpu = health.DefaultResourceThreshold()
		}
		if mem == 0 {
			mem = health.DefaultResourceThreshold()
		}
		healthOpts = append(healthOpts, health.WithResourceThresholds(cpu, mem))
	}
	if hc.HistorySize > 0 {
		healthOpts = append(healthOpts, health.WithHistorySize(hc.HistorySize))
	}
	if path := strings.TrimSpace(hc.ReportPath); path != "" {
		healthOpts = append(healthOpts, health.WithReportPath(path))
	}

	var supervisorOpts []supervisor.Option
	if hc.HealthyResetThreshold > 0 {
		supervisorOpts = append(supervisorOpts, supervisor.WithHealthyResetThreshold(hc.HealthyResetThreshold))
	}

	return []daemon.Option{
		daemon.WithAPIOptions(apiOpts...),
		daemon.WithHealthOptions(healthOpts...),
		daemon.WithSupervisorOptions(supervisorOpts...),
	}, nil
}

// printDevBanner writes a summary of the running daemon for interactive use.
func (c *DaemonCmd) printDevBanner(w io.Writer, logger hclog.Logger, addr string, servers int) {
	logger.Info("Launching daemon in dev mode", "addr", addr)

	banner := fmt.Sprintf("fleetd daemon running in 'dev' mode.\n\n"+
		"  Local API:\thttp://%s/api/v1\n"+
		"  OpenAPI UI:\thttp://%s/docs\n"+
		"  Metrics:\thttp://%s/metrics\n"+
		"  Config file:\t%s\n"+
		"  Servers:\t%d\n",
		addr, addr, addr, flags.ConfigFile, servers)

	if c.config.cors.enable {
		banner += fmt.Sprintf("  CORS enabled:\ttrue (origins: %s)\n", strings.Join(c.config.cors.origins, ", "))
		if c.config.cors.maxAge != "" {
			banner += fmt.Sprintf("  CORS max age:\t%s\n", c.config.cors.maxAge)
		}
	}
	if c.config.health.interval != "" {
		banner += fmt.Sprintf("  Health interval:\t%s\n", c.config.health.interval)
	}
	if flags.LogPath != "" {
		banner += fmt.Sprintf("  Log file:\t%s => (%s)\n", flags.LogPath, flags.LogLevel)
	}

	banner += "\nPress Ctrl+C to stop.\n\n"
	_, _ = fmt.Fprint(w, banner)
}

// parseOptionalDuration parses value as a positive duration, treating an empty value as unset.
func parseOptionalDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", value)
	}

	return d, nil
}
