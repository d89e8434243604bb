package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/wspush/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wspush",
		Short: "Push messaging over websockets",
		Long: `wspush keeps long-lived websocket connections per application,
session and view, and dispatches inbound frames and server pushes
to the views they belong to.

  • serve   run a node with the echo demo application
  • push    publish a push to every node through Redis`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		pushCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
