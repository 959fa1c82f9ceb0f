package options

import (
	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/config"
)

type CmdOption func(*CmdOptions) error

// ClientBuilder creates clients for the daemon API.
type ClientBuilder interface {
	CreateClient() (cmd.DaemonClient, error)
}

type CmdOptions struct {
	ConfigLoader      config.Loader
	ConfigInitializer config.Initializer
	ClientBuilder     ClientBuilder
}

func defaultOptions() CmdOptions {
	configLoader := &config.DefaultLoader{}
	return CmdOptions{
		ConfigLoader:      configLoader,
		ConfigInitializer: configLoader,
		ClientBuilder:     &cmd.BaseCmd{},
	}
}

func NewOptions(opt ...CmdOption) (CmdOptions, error) {
	opts := defaultOptions()

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(&opts); err != nil {
			return CmdOptions{}, err
		}
	}
	return opts, nil
}

func WithConfigLoader(l config.Loader) CmdOption {
	return func(o *CmdOptions) error {
		o.ConfigLoader = l
		return nil
	}
}

func WithConfigInitializer(i config.Initializer) CmdOption {
	return func(o *CmdOptions) error {
		o.ConfigInitializer = i
		return nil
	}
}

func WithClientBuilder(b ClientBuilder) CmdOption {
	return func(o *CmdOptions) error {
		o.ClientBuilder = b
		return nil
	}
}
