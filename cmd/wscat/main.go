// Command wscat is a line-oriented client: stdin lines go out as messages,
// inbound messages and life-cycle events are printed.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "wscat",
	Short: "Talk to a WebSocket or framed TCP endpoint from the terminal",
	Long: `wscat connects through one of the wsstream transports, sends every
line read from stdin and prints every message received.

Settings come from --config, then WSSTREAM_* environment variables, then flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
