package sybilscope

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxLineBytes bounds a single JSONL line; LLM payloads can run large.
const maxLineBytes = 16 * 1024 * 1024

// ReadFile loads every event from a JSON Lines trace file. Lines that do
// not parse are skipped: an abnormal exit can truncate the final line, and
// skipping keeps the rest of the file readable.
func ReadFile(path string) ([]*TraceEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sybilscope: open trace file: %w", err)
	}
	defer f.Close()
	return ReadEvents(f)
}

// ReadEvents decodes JSONL events from r with the same leniency as
// ReadFile.
func ReadEvents(r io.Reader) ([]*TraceEvent, error) {
	var events []*TraceEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e TraceEvent
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sybilscope: scan trace file: %w", err)
	}
	return events, nil
}
