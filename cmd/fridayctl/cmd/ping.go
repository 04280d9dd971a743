package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friday-assistant/friday/protocol"
)

// PingCmd checks that fridayd answers.
var PingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that fridayd is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		start := time.Now()
		var reply string
		if err := client.Call(cmd.Context(), protocol.CmdPing, nil, &reply); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s from %s in %s\n", reply, client.Address, time.Since(start).Round(time.Microsecond))
		return nil
	},
}
