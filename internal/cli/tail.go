package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sybilscope "github.com/elda27/sybil-scope"
)

var (
	tailLines  int
	tailFollow bool
)

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent events to show")
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Keep the file open and print events as they are appended")
}

var tailCmd = &cobra.Command{
	Use:   "tail <file>",
	Short: "Show recent trace events",
	Long:  "Prints the last N events of a JSONL trace file, one line per event.\nWith --follow it keeps watching the file and prints events as the traced\nprogram appends them.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTail,
}

// formatEvent renders one event as a single aligned line.
func formatEvent(e *sybilscope.TraceEvent) string {
	parent := "-"
	if e.ParentID != 0 {
		parent = fmt.Sprintf("%d", e.ParentID)
	}
	duration := ""
	if e.Duration != nil {
		duration = fmt.Sprintf("  %.1fms", *e.Duration)
	}
	payload := ""
	if len(e.Payload) > 0 {
		if body, err := json.Marshal(e.Payload); err == nil {
			payload = "  " + string(body)
		}
	}
	return fmt.Sprintf("%s  %-20d  parent=%-20s  %s/%s%s%s",
		e.Timestamp.Format(sybilscope.TimestampFormat),
		e.ID, parent, e.Type, e.Action, duration, payload)
}

func runTail(cmd *cobra.Command, args []string) error {
	path := args[0]

	events, err := sybilscope.ReadFile(path)
	if err != nil {
		return err
	}

	if !tailFollow {
		start := len(events) - tailLines
		if start < 0 {
			start = 0
		}
		for _, e := range events[start:] {
			fmt.Println(formatEvent(e))
		}
		return nil
	}

	// Follow re-reads from the top, so skip what a plain tail would not
	// have printed.
	skip := len(events) - tailLines
	if skip < 0 {
		skip = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	seen := 0
	return sybilscope.Follow(ctx, path, func(e *sybilscope.TraceEvent) error {
		seen++
		if seen > skip {
			fmt.Println(formatEvent(e))
		}
		return nil
	})
}
