package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/config"
	"github.com/mozilla-ai/fleetd/internal/files"
	"github.com/mozilla-ai/fleetd/internal/flags"
	"github.com/mozilla-ai/fleetd/internal/perms"
)

type InitCmd struct {
	*cmd.BaseCmd
	User           bool
	cfgInitializer config.Initializer
}

func NewInitCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	opts, err := options.NewOptions(opt...)
	if err != nil {
		return nil, err
	}
	if opts.ConfigInitializer == nil || reflect.ValueOf(opts.ConfigInitializer).IsNil() {
		return nil, fmt.Errorf("config initializer cannot be nil")
	}

	c := &InitCmd{
		BaseCmd:        baseCmd,
		cfgInitializer: opts.ConfigInitializer,
	}

	cobraCmd := &cobra.Command{
		Use:   "init",
		Short: "Creates a skeleton configuration file",
		Long:  "Creates a skeleton .fleetd.toml configuration file with a commented example server entry",
		RunE:  c.run,
		Args:  cobra.NoArgs,
	}

	cobraCmd.Flags().BoolVar(
		&c.User,
		"user",
		false,
		"Create the file in the user configuration directory, readable only by the current user",
	)

	return cobraCmd, nil
}

func (c *InitCmd) run(cobraCmd *cobra.Command, _ []string) error {
	path := flags.ConfigFile
	if path == "" {
		path = flags.DefaultConfigFile
	}

	if c.User {
		// Server entries may carry credentials in their env tables.
		dir, err := files.UserSpecificConfigDir()
		if err != nil {
			return err
		}
		if err := files.EnsureAtLeastSecureDir(dir); err != nil {
			return err
		}
		path = filepath.Join(dir, flags.DefaultConfigFile)
	}

	if err := c.cfgInitializer.Init(path); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if c.User {
		if err := os.Chmod(path, perms.SecureFile); err != nil {
			return fmt.Errorf("failed to restrict permissions of %s: %w", path, err)
		}
	}

	c.Logger().Info("Created configuration file", "path", path)
	_, _ = fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Created %s\n", path)
	if c.User {
		_, _ = fmt.Fprintf(cobraCmd.OutOrStdout(), "  Use it with: fleetd --%s %s\n", flags.FlagNameConfigFile, path)
	}

	return nil
}
