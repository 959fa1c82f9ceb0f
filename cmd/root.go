package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configcmd "github.com/mozilla-ai/fleetd/cmd/config"
	"github.com/mozilla-ai/fleetd/cmd/servers"
	"github.com/mozilla-ai/fleetd/internal/cmd"
	cmdopts "github.com/mozilla-ai/fleetd/internal/cmd/options"
	"github.com/mozilla-ai/fleetd/internal/flags"
)

type RootCmd struct {
	*cmd.BaseCmd
}

func Execute() error {
	rootCmd, err := NewRootCmd(&RootCmd{BaseCmd: &cmd.BaseCmd{}})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error creating root command: %s\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}

	return nil
}

func NewRootCmd(c *RootCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:          "fleetd <command> [args]",
		Short:        "'fleetd' supervises a fleet of local tool servers.",
		Long:         c.longDescription(),
		SilenceUsage: true,
		Version:      cmd.Version(),
	}

	// Global flags
	flags.InitFlags(rootCmd.PersistentFlags())

	fns := []func(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error){
		NewDaemonCmd,     // daemon
		NewWorkerCmd,     // worker
		NewHealthCmd,     // health
		NewAlertsCmd,     // alerts
		servers.NewCmd,   // servers
		configcmd.NewCmd, // config
	}

	for _, fn := range fns {
		tempCmd, err := fn(c.BaseCmd, opt...)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(tempCmd)
	}

	return rootCmd, nil
}

func (c *RootCmd) longDescription() string {
	return `The 'fleetd' CLI runs the daemon that starts, supervises and health-checks
local tool servers, and talks to a running daemon to inspect and control them.`
}
