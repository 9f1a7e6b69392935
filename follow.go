package sybilscope

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the fallback cadence for filesystems without change
// notification.
const pollInterval = 500 * time.Millisecond

// Follow tails a trace file, invoking fn for every event appended to it,
// starting with the events already present. A line is delivered only once
// its trailing newline has been written, so a half-written event is never
// seen. Lines that never parse are skipped.
//
// Follow blocks until ctx is cancelled (returning nil), fn returns an error
// (returned as-is), or reading fails.
func Follow(ctx context.Context, path string, fn func(*TraceEvent) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sybilscope: open trace file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	deliver := func() error {
		for {
			line, err := r.ReadBytes('\n')
			if err == io.EOF {
				// Incomplete tail: rewind so the partial line is re-read
				// once the writer finishes it.
				if len(line) > 0 {
					if _, serr := f.Seek(-int64(len(line)), io.SeekCurrent); serr != nil {
						return fmt.Errorf("sybilscope: rewind trace file: %w", serr)
					}
					r.Reset(f)
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("sybilscope: read trace file: %w", err)
			}
			var e TraceEvent
			if err := json.Unmarshal(line, &e); err != nil {
				continue // skip malformed lines
			}
			if err := fn(&e); err != nil {
				return err
			}
		}
	}

	var events chan fsnotify.Event
	var watchErrs chan error
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(path); err == nil {
			defer w.Close()
			events = w.Events
			watchErrs = w.Errors
		} else {
			w.Close()
		}
	}
	// Polling covers the no-watcher case and missed notifications.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := deliver(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := deliver(); err != nil {
				return err
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("sybilscope: watch trace file: %w", err)
			}
		case <-ticker.C:
			if err := deliver(); err != nil {
				return err
			}
		}
	}
}
