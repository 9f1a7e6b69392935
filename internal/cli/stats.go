package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	sybilscope "github.com/elda27/sybil-scope"
)

const separator = "──────────────────────────────────────────────────────────────────"

var statsFormat string

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsFormat, "format", "f", "text", "Output format (text|json)")
}

var statsCmd = &cobra.Command{
	Use:   "stats <file>",
	Short: "Summarize a trace file",
	Long:  "Reads a JSONL trace file and reports event counts per trace and action\ntype, span outcomes, and span duration aggregates.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

// statsResult holds aggregate counts for one trace file.
type statsResult struct {
	Path            string         `json:"path"`
	Events          int            `json:"events"`
	ByType          map[string]int `json:"by_trace_type"`
	ByAction        map[string]int `json:"by_action_type"`
	Spans           int            `json:"spans"`
	FailedSpans     int            `json:"failed_spans"`
	IncompleteSpans int            `json:"incomplete_spans"`
	DurationMinMS   float64        `json:"duration_min_ms"`
	DurationAvgMS   float64        `json:"duration_avg_ms"`
	DurationMaxMS   float64        `json:"duration_max_ms"`
	FirstTimestamp  string         `json:"first_timestamp,omitempty"`
	LastTimestamp   string         `json:"last_timestamp,omitempty"`
}

func collectStats(path string, events []*sybilscope.TraceEvent) statsResult {
	s := statsResult{
		Path:     path,
		Events:   len(events),
		ByType:   make(map[string]int),
		ByAction: make(map[string]int),
	}

	starts := make(map[int64]bool)
	var durations []float64
	for _, e := range events {
		s.ByType[string(e.Type)]++
		s.ByAction[string(e.Action)]++
		if e.Action == sybilscope.ActionStart {
			starts[e.ID] = true
		}
		if e.Action.Closing() {
			s.Spans++
			if e.Action == sybilscope.ActionError {
				s.FailedSpans++
			}
			delete(starts, e.ParentID)
			if e.Duration != nil {
				durations = append(durations, *e.Duration)
			}
		}
	}
	s.IncompleteSpans = len(starts)

	if len(durations) > 0 {
		min, max, sum := durations[0], durations[0], 0.0
		for _, d := range durations {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
			sum += d
		}
		s.DurationMinMS = min
		s.DurationMaxMS = max
		s.DurationAvgMS = sum / float64(len(durations))
	}

	if len(events) > 0 {
		s.FirstTimestamp = events[0].Timestamp.Format(sybilscope.TimestampFormat)
		s.LastTimestamp = events[len(events)-1].Timestamp.Format(sybilscope.TimestampFormat)
	}
	return s
}

// formatStats renders a statsResult as human-readable text.
func formatStats(s statsResult) string {
	var b strings.Builder

	if s.Events == 0 {
		return fmt.Sprintf("Trace: %s | No events found.\n", s.Path)
	}

	first := reformatTimestamp(s.FirstTimestamp, "2006-01-02 15:04:05")
	last := reformatTimestamp(s.LastTimestamp, "15:04:05")
	b.WriteString(fmt.Sprintf("Trace: %s | %s–%s UTC\n", s.Path, first, last))
	b.WriteString(separator + "\n")

	b.WriteString(fmt.Sprintf("Events: %d | Spans: %d", s.Events, s.Spans))
	var spanNotes []string
	if s.FailedSpans > 0 {
		spanNotes = append(spanNotes, fmt.Sprintf("%d failed", s.FailedSpans))
	}
	if s.IncompleteSpans > 0 {
		spanNotes = append(spanNotes, fmt.Sprintf("%d incomplete", s.IncompleteSpans))
	}
	if len(spanNotes) > 0 {
		b.WriteString(" (" + strings.Join(spanNotes, ", ") + ")")
	}
	b.WriteString("\n")

	b.WriteString("By type:   " + formatCounts(s.ByType) + "\n")
	b.WriteString("By action: " + formatCounts(s.ByAction) + "\n")

	if s.Spans > 0 {
		b.WriteString(fmt.Sprintf("Span durations: min %.1fms, avg %.1fms, max %.1fms\n",
			s.DurationMinMS, s.DurationAvgMS, s.DurationMaxMS))
	}
	return b.String()
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func reformatTimestamp(ts, layout string) string {
	t, err := time.Parse(sybilscope.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func runStats(cmd *cobra.Command, args []string) error {
	events, err := sybilscope.ReadFile(args[0])
	if err != nil {
		return err
	}
	result := collectStats(args[0], events)

	if statsFormat == "json" {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Print(formatStats(result))
	return nil
}
