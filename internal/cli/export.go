package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	sybilscope "github.com/elda27/sybil-scope"
)

var exportDB string

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportDB, "db", "", "Path to the SQLite database (required)")
	exportCmd.MarkFlagRequired("db")
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export a trace file into a SQLite database",
	Long:  "Replays a JSONL trace file into the trace_events table of a SQLite\ndatabase, creating it if needed. Repeated exports of the same file fail on\nduplicate ids; export each run once.",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	events, err := sybilscope.ReadFile(args[0])
	if err != nil {
		return err
	}

	backend, err := sybilscope.NewSQLiteBackend(exportDB)
	if err != nil {
		return err
	}
	defer backend.Close()

	for i, e := range events {
		if err := backend.Append(e); err != nil {
			return fmt.Errorf("export event %d of %d: %w", i+1, len(events), err)
		}
	}
	if err := backend.Close(); err != nil {
		return err
	}

	fmt.Printf("Exported %d events to %s\n", len(events), exportDB)
	return nil
}
