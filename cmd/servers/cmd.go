package servers

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/cmd/options"
)

func NewCmd(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error) {
	cobraCmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspects and controls the servers of a running daemon",
		Long: "Inspects and controls the servers supervised by a running daemon, " +
			"dealing with status, lifecycle operations and tools",
	}

	// Sub-commands for: fleetd servers
	fns := []func(baseCmd *cmd.BaseCmd, opt ...options.CmdOption) (*cobra.Command, error){
		NewListCmd,    // list
		NewStatusCmd,  // status
		NewStartCmd,   // start
		NewStopCmd,    // stop
		NewRestartCmd, // restart
		NewResetCmd,   // reset
		NewToolsCmd,   // tools
		NewCallCmd,    // call
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

// clientBuilder returns the configured client builder, rejecting nil values.
func clientBuilder(opt ...options.CmdOption) (options.ClientBuilder, error) {
	opts, err := options.NewOptions(opt...)
	if err != nil {
		return nil, err
	}
	if opts.ClientBuilder == nil || reflect.ValueOf(opts.ClientBuilder).IsNil() {
		return nil, fmt.Errorf("client builder cannot be nil")
	}

	return opts.ClientBuilder, nil
}
