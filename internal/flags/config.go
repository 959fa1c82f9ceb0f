package flags

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// Env vars
	EnvVarConfigFile = "FLEETD_CONFIG_FILE"
	EnvVarLogPath    = "FLEETD_LOG_PATH"
	EnvVarLogLevel   = "FLEETD_LOG_LEVEL"
	EnvVarAddr       = "FLEETD_ADDR"

	// Defaults
	DefaultConfigFile = ".fleetd.toml"
	DefaultLogPath    = ""
	DefaultLogLevel   = "info"
	DefaultAddr       = "http://localhost:8191"

	// Flag names
	FlagNameConfigFile = "config-file"
	FlagNameLogPath    = "log-path"
	FlagNameLogLevel   = "log-level"
	FlagNameAddr       = "addr"
)

var (
	ConfigFile string
	LogPath    string
	LogLevel   string

	// Addr is the base URL of a running daemon's API, used by client commands.
	Addr string
)

func InitFlags(fs *pflag.FlagSet) {
	initConfigFile(fs)
	initLogger(fs)
	initAddr(fs)
}

// fromEnv returns the trimmed value of the env var, or fallback when it is unset or blank.
func fromEnv(envVar string, fallback string) string {
	if env := strings.TrimSpace(os.Getenv(envVar)); env != "" {
		return env
	}
	return fallback
}

func initConfigFile(fs *pflag.FlagSet) {
	if ConfigFile == "" {
		ConfigFile = fromEnv(EnvVarConfigFile, DefaultConfigFile)
	}
	fs.StringVar(&ConfigFile, FlagNameConfigFile, ConfigFile, "path to config file")
}

func initLogger(fs *pflag.FlagSet) {
	if LogPath == "" {
		LogPath = fromEnv(EnvVarLogPath, DefaultLogPath)
	}
	fs.StringVar(&LogPath, FlagNameLogPath, LogPath, "path to generated log file")

	if LogLevel == "" {
		LogLevel = strings.ToLower(fromEnv(EnvVarLogLevel, DefaultLogLevel))
	}
	fs.StringVar(&LogLevel, FlagNameLogLevel, LogLevel, "log level for fleetd logs")
}

func initAddr(fs *pflag.FlagSet) {
	if Addr == "" {
		Addr = strings.TrimRight(fromEnv(EnvVarAddr, DefaultAddr), "/")
	}
	fs.StringVar(&Addr, FlagNameAddr, Addr, "base URL of the fleetd daemon API")
}
