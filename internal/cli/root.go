package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sybil-trace",
	Short: "Inspect sybil-scope trace files",
	Long:  "Reads the JSONL trace files written by the sybil-scope library: validates their structure, summarizes runs, tails live traces, and exports them to SQLite.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
