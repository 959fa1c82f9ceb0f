package cmd

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/mozilla-ai/fleetd/internal/apiclient"
	"github.com/mozilla-ai/fleetd/internal/config"
	"github.com/mozilla-ai/fleetd/internal/flags"
)

var version = "dev" // Set at build time using -ldflags

// Version returns the version of the fleetd binary.
func Version() string {
	return version
}

type BaseCmd struct {
	logger hclog.Logger
}

// SetLogger updates the command's logger
func (c *BaseCmd) SetLogger(logger hclog.Logger) {
	c.logger = logger
}

// Logger returns the current logger for the command
func (c *BaseCmd) Logger() hclog.Logger {
	if c.logger != nil {
		return c.logger
	}

	logLevel := flags.LogLevel
	if logLevel == "" {
		logLevel = flags.DefaultLogLevel
	}

	// Nothing is logged unless a log path was configured.
	var output io.Writer = io.Discard
	if logPath := strings.TrimSpace(flags.LogPath); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to open log file (%s): %v, logging disabled\n", logPath, err)
		} else {
			output = f
		}
	}

	c.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "fleetd",
		Level:  hclog.LevelFromString(logLevel),
		Output: output,
	})

	return c.logger
}

// LoadConfig loads the configuration file selected by the global flags.
func (c *BaseCmd) LoadConfig(loader config.Loader) (*config.Config, error) {
	if loader == nil || reflect.ValueOf(loader).IsNil() {
		return nil, fmt.Errorf("config loader cannot be nil")
	}

	return loader.Load(flags.ConfigFile)
}

// CreateClient returns a client for the daemon API found at the configured address.
func (c *BaseCmd) CreateClient() (DaemonClient, error) {
	client, err := apiclient.New(c.Logger().Named("client"), flags.Addr)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// RequireTogether returns an error when only some of the named flags were set on the command.
func (c *BaseCmd) RequireTogether(cmd *cobra.Command, flagNames ...string) error {
	var set int
	for _, name := range flagNames {
		if cmd.Flags().Changed(name) {
			set++
		}
	}

	if set == 0 || set == len(flagNames) {
		return nil
	}

	names := slices.Clone(flagNames)
	slices.Sort(names)

	return fmt.Errorf("flags must be provided together or not at all (%s)", strings.Join(names, ", "))
}
