package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configDir string
	relay     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "meeting",
		Short:         "Peer-to-peer audio/video meetings over a backend relay",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config", "conf", "directory with configuration files")
	root.PersistentFlags().StringVar(&opts.relay, "relay", "", "relay address, overrides the client config")

	root.AddCommand(newJoinCmd(opts), newRoomsCmd(opts))
	return root
}

// load reads the configuration and applies the global flag overrides.
func (o *rootOptions) load() (*config.AppConfig, error) {
	cfg, err := config.LoadAppConfig(o.configDir)
	if err != nil {
		return nil, err
	}
	if o.relay != "" {
		cfg.Client.RelayURL = o.relay
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// fang renders usage and errors
	if err := fang.Execute(ctx, newRootCmd()); err != nil {
		stop()
		os.Exit(1)
	}
}
