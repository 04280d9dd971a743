// Package cmd provides the fridayctl subcommands. Every subcommand resolves a
// fridayd control target and sends one invocation per call.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/friday-assistant/friday/internal/controlcli"
	"github.com/friday-assistant/friday/internal/logging"
)

var (
	configPath   string
	targetName   string
	overrideAddr string
)

// RootCmd is the fridayctl entry point.
var RootCmd = &cobra.Command{
	Use:           "fridayctl",
	Short:         "Control interface for the FRIDAY native host",
	Long:          `fridayctl invokes native commands on a running fridayd through one of its control sockets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// newClient loads the client config, applies its logging settings and
// resolves the selected target.
func newClient() (*controlcli.Client, error) {
	cfg, err := controlcli.LoadCTLConfig(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logger)
	logging.Log.Debugf("[fridayctl] targets: %v", cfg.TargetNames())

	return controlcli.NewClient(cfg, targetName, overrideAddr)
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Client config file (default: $FRIDAYCTL_CONFIG or ~/.friday/fridayctl/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&targetName, "target", "t", "", "Target name from the client config")
	RootCmd.PersistentFlags().StringVar(&overrideAddr, "addr", "", "Direct override address for fridayd (unix socket path or host:port)")

	RootCmd.AddCommand(InvokeCmd)
	RootCmd.AddCommand(PingCmd)
	RootCmd.AddCommand(CommandsCmd)
	RootCmd.AddCommand(HealthCmd)
}
