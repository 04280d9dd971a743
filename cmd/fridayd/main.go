// Command fridayd is the native host of the FRIDAY web view. It loads its
// configuration, registers the native commands and serves the command
// bridge on stdio and the configured control sockets until the web view
// closes stdin or a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friday-assistant/friday/dispatch"
	"github.com/friday-assistant/friday/internal/commands"
	"github.com/friday-assistant/friday/internal/config"
	"github.com/friday-assistant/friday/internal/host"
	"github.com/friday-assistant/friday/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "fridayd",
	Short:         "Native host for the FRIDAY web view",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runHost,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the command bridge (default)",
	RunE:  runHost,
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the registered native commands and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		for _, name := range reg.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// buildRegistry registers every native command and seals the registry.
func buildRegistry() (*dispatch.SealedRegistry, error) {
	reg := dispatch.NewRegistry()
	if err := commands.Register(reg); err != nil {
		return nil, err
	}
	return reg.Seal(), nil
}

func runHost(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Init(cfg.Logger)
	defer func() { _ = logging.Log.Sync() }()

	if cfg.Source == "" {
		logging.Log.Infof("[fridayd] No config file found, using defaults")
	} else {
		logging.Log.Infof("[fridayd] Configuration loaded from %s", cfg.Source)
	}

	reg, err := buildRegistry()
	if err != nil {
		return err
	}
	env := dispatch.NewExecutionContext(cfg.App.Name, cfg.App.Version, logging.Log.Named("handler"))

	h, err := host.New(cfg, reg, env, host.WithLogger(logging.Log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Log.Infof("[fridayd] %s %s serving %d commands", cfg.App.Name, cfg.App.Version, reg.Len())
	if err := h.Run(ctx); err != nil {
		return err
	}
	logging.Log.Infof("[fridayd] Shutdown complete. Exiting.")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[fridayd] %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $FRIDAY_CONFIG, ~/.friday/fridayd/fridayd.yaml, /etc/friday/fridayd.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(commandsCmd)
}
