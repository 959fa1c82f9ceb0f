package config

import (
	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/cmd/options"
)

func NewCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	cobraCmd := &cobra.Command{
		Use:   "config",
		Short: "Manages the fleetd configuration file",
		Long:  "Manages the fleetd configuration file, dealing with creating and validating it",
	}

	// Sub-commands for: fleetd config
	fns := []func(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error){
		NewInitCmd,     // init
		NewValidateCmd, // validate
	}

	for _, fn := range fns {
		tempCmd, err := fn(baseCmd, opt...)
		if err != nil {
			return nil, err
		}
		cobraCmd.AddCommand(tempCmd)
	}

	return cobraCmd, nil
}
