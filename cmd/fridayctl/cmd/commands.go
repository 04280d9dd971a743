package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friday-assistant/friday/protocol"
)

// CommandsCmd lists the commands registered in fridayd.
var CommandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the native commands fridayd serves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		var names []string
		if err := client.Call(cmd.Context(), protocol.CmdAppCommands, nil, &names); err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), " - %s\n", name)
		}
		return nil
	},
}
