package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/friday-assistant/friday/protocol"
)

var rawOutput bool

// InvokeCmd sends an arbitrary invocation and prints the Response.
var InvokeCmd = &cobra.Command{
	Use:   "invoke <command> [json-args]",
	Short: "Invoke a native command",
	Long: `Sends one invocation to fridayd and prints the response.

Examples:
  fridayctl invoke ping
  fridayctl invoke bridge.echo '{"hello":"world"}'
  fridayctl invoke system.info --raw`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload any
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("arguments are not valid JSON: %s", args[1])
			}
			payload = json.RawMessage(args[1])
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		resp, err := client.Invoke(cmd.Context(), args[0], payload)
		if err != nil {
			return err
		}
		if err := printResponse(cmd.OutOrStdout(), resp, rawOutput); err != nil {
			return err
		}
		if resp.Err != nil {
			return resp.Err
		}
		return nil
	},
}

func printResponse(w io.Writer, resp protocol.Response, raw bool) error {
	var (
		out []byte
		err error
	)
	if raw {
		out, err = json.Marshal(resp)
	} else {
		out, err = json.MarshalIndent(resp, "", "  ")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func init() {
	InvokeCmd.Flags().BoolVar(&rawOutput, "raw", false, "Print the response frame on a single line")
}
