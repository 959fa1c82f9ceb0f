package config

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/config"
)

type ValidateCmd struct {
	*cmd.BaseCmd
	Strict    bool
	cfgLoader config.Loader
}

func NewValidateCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	opts, err := options.NewOptions(opt...)
	if err != nil {
		return nil, err
	}
	if opts.ConfigLoader == nil || reflect.ValueOf(opts.ConfigLoader).IsNil() {
		return nil, fmt.Errorf("config loader cannot be nil")
	}

	c := &ValidateCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validates the configuration file",
		Long: "Validates the server definitions and daemon settings in the .fleetd.toml file. " +
			"With --strict, also checks that every enabled server's command can be found and " +
			"that no two enabled servers declare the same port.",
		RunE: c.run,
		Args: cobra.NoArgs,
	}

	cobraCmd.Flags().BoolVar(&c.Strict, "strict", false, "Also check commands and port conflicts")

	return cobraCmd, nil
}

func (c *ValidateCmd) run(cobraCmd *cobra.Command, _ []string) error {
	loader := c.cfgLoader
	if c.Strict {
		loader = config.NewValidatingLoader(loader, config.ValidateCommands, config.ValidateNoPortConflicts)
	}

	cfg, err := c.LoadConfig(loader)
	if err == nil {
		_, err = cfg.Definitions()
	}
	if err != nil {
		_, _ = fmt.Fprintf(cobraCmd.ErrOrStderr(), "✗ Configuration validation failed: %v\n", err)
		return err
	}

	_, _ = fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Configuration is valid (%d servers)\n", len(cfg.Servers))
	return nil
}
