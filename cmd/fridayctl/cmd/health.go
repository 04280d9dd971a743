package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/friday-assistant/friday/internal/commands"
	"github.com/friday-assistant/friday/protocol"
)

// HealthCmd prints the health report of fridayd. It fails when the host is
// unhealthy.
var HealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the health of fridayd",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		var h commands.Health
		if err := client.Call(cmd.Context(), protocol.CmdSystemHealth, nil, &h); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Status: %s\n", h.Status)
		names := make([]string, 0, len(h.Components))
		for name := range h.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := h.Components[name]
			fmt.Fprintf(w, "  %-12s %-10s %s\n", name, c.Status, c.Message)
		}
		for _, warn := range h.Warnings {
			fmt.Fprintf(w, "Warning: %s\n", warn)
		}
		for _, e := range h.Errors {
			fmt.Fprintf(w, "Error: %s\n", e)
		}

		if h.Status == commands.StatusUnhealthy {
			return fmt.Errorf("fridayd is unhealthy")
		}
		return nil
	},
}
