package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	sybilscope "github.com/elda27/sybil-scope"
)

var validateFormat string

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "text", "Output format (text|json)")
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check the structural invariants of a trace file",
	Long:  "Walks a JSONL trace file and checks that ids are unique, parents are\nemitted before their children, and every closed span carries exactly one\nduration-bearing END or ERROR event. Exits 0 if valid, 1 otherwise.",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

// validateResult holds the outcome of a structural trace check.
type validateResult struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Events   int      `json:"events"`
	Spans    int      `json:"spans"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// validateFile walks a trace file and collects every invariant violation
// instead of stopping at the first. A malformed final line is only a
// warning: an abnormal exit can truncate it mid-write.
func validateFile(path string) validateResult {
	r := validateResult{Path: path}

	f, err := os.Open(path)
	if err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("open: %v", err))
		return r
	}
	defer f.Close()

	seen := make(map[int64]int)       // event id -> line
	closes := make(map[int64]int)     // span id -> close count
	openStarts := make(map[int64]int) // unclosed start-event id -> line
	pendingMalformed := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// A malformed line followed by more content cannot be a crash
		// artifact; report it as an error.
		if pendingMalformed > 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: malformed event", pendingMalformed))
			pendingMalformed = 0
		}

		var e sybilscope.TraceEvent
		if err := json.Unmarshal(line, &e); err != nil {
			pendingMalformed = lineNum
			continue
		}
		r.Events++

		if e.ID == 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: missing id", lineNum))
		} else if first, dup := seen[e.ID]; dup {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: duplicate id %d (first at line %d)", lineNum, e.ID, first))
		}
		if !e.Type.Valid() {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: unknown trace_type %q", lineNum, e.Type))
		}
		if !e.Action.Valid() {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: unknown action_type %q", lineNum, e.Action))
		}
		if e.ParentID != 0 {
			if _, ok := seen[e.ParentID]; !ok {
				r.Errors = append(r.Errors, fmt.Sprintf("line %d: parent %d not yet emitted", lineNum, e.ParentID))
			}
		}

		if e.Action.Closing() {
			switch {
			case e.Duration == nil:
				r.Errors = append(r.Errors, fmt.Sprintf("line %d: closing event without duration", lineNum))
			case *e.Duration < 0:
				r.Errors = append(r.Errors, fmt.Sprintf("line %d: negative duration %v", lineNum, *e.Duration))
			}
			if e.ParentID == 0 {
				r.Errors = append(r.Errors, fmt.Sprintf("line %d: closing event without a span to close", lineNum))
			} else {
				closes[e.ParentID]++
				if closes[e.ParentID] == 2 {
					r.Errors = append(r.Errors, fmt.Sprintf("line %d: span %d closed more than once", lineNum, e.ParentID))
				}
				delete(openStarts, e.ParentID)
			}
		} else if e.Duration != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: non-closing event carries duration", lineNum))
		}

		if e.Action == sybilscope.ActionStart && e.ID != 0 {
			openStarts[e.ID] = lineNum
		}
		if e.ID != 0 {
			seen[e.ID] = lineNum
		}
	}
	if err := scanner.Err(); err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("scan: %v", err))
	}
	if pendingMalformed > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("line %d: truncated or malformed final line", pendingMalformed))
	}

	// Start events never closed are incomplete spans: legal after an
	// abnormal exit, but worth surfacing.
	incomplete := make([]int64, 0, len(openStarts))
	for id := range openStarts {
		incomplete = append(incomplete, id)
	}
	sort.Slice(incomplete, func(i, j int) bool {
		return openStarts[incomplete[i]] < openStarts[incomplete[j]]
	})
	for _, id := range incomplete {
		r.Warnings = append(r.Warnings, fmt.Sprintf("line %d: span %d has no closing event", openStarts[id], id))
	}

	r.Spans = len(closes)
	r.Valid = len(r.Errors) == 0
	return r
}

func runValidate(cmd *cobra.Command, args []string) error {
	result := validateFile(args[0])

	if validateFormat == "json" {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e)
		}
		if result.Valid {
			fmt.Printf("OK: %d events, %d spans\n", result.Events, result.Spans)
		} else {
			fmt.Fprintf(os.Stderr, "FAILED: %d errors\n", len(result.Errors))
		}
	}
	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
