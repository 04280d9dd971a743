// Command fridayctl provides CLI access to a running fridayd. It connects to
// a configured control socket and invokes native commands the same way the
// web view does.
package main

import (
	"fmt"
	"os"

	"github.com/friday-assistant/friday/cmd/fridayctl/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
