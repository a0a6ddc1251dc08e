package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "webmux",
	Short: "🖥  Webmux - tmux sessions in the browser",
	Long: `Webmux bridges tmux sessions to WebSocket clients.

The server captures tmux pane content on a ~30fps tick, publishes only
what changed, and fans it out to any number of browser or CLI clients.
Input, resizes, and window management flow back over the same socket.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
