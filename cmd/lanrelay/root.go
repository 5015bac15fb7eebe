package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lanrelay",
	Short: "LAN relay for presence, chat, media and file exchange",
	Long: `lanrelay runs a relay that keeps a roster of participants on a local network,
routes chat and control messages between them, fans out UDP media packets and
stores files uploaded for other participants to fetch.

The same binary ships a small client for talking to a running relay.`,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
