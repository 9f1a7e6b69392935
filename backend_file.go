package sybilscope

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultDir is where trace files are written unless configured.
	DefaultDir = "traces"
	// DefaultPrefix is the leading segment of generated trace file names.
	DefaultPrefix = "traces"

	defaultBufferSize = 64 * 1024
)

// FileBackend writes events as JSON Lines, one event per line, to a file
// named {prefix}_{timestamp}_{disambiguator}.jsonl. The directory and file
// are created on the first Append, so a backend that never receives an
// event leaves no trace on disk. Writes are buffered; Flush drains the
// buffer and syncs the file.
type FileBackend struct {
	dir     string
	prefix  string
	bufSize int

	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	path   string
	closed bool
}

// FileOption configures a FileBackend at creation time.
type FileOption func(*FileBackend)

// FileWithDir sets the directory trace files are created in.
func FileWithDir(dir string) FileOption {
	return func(b *FileBackend) { b.dir = dir }
}

// FileWithPrefix sets the leading segment of generated file names.
func FileWithPrefix(prefix string) FileOption {
	return func(b *FileBackend) { b.prefix = prefix }
}

// FileWithBufferSize sets the write buffer size in bytes.
func FileWithBufferSize(n int) FileOption {
	return func(b *FileBackend) { b.bufSize = n }
}

// FileWithConfig applies dir, prefix, and buffer size from a Config.
func FileWithConfig(cfg Config) FileOption {
	return func(b *FileBackend) {
		b.dir = cfg.Dir
		b.prefix = cfg.Prefix
		b.bufSize = cfg.BufferSize
	}
}

// NewFileBackend creates a file backend. Nothing is touched on disk until
// the first Append.
func NewFileBackend(opts ...FileOption) *FileBackend {
	b := &FileBackend{
		dir:     DefaultDir,
		prefix:  DefaultPrefix,
		bufSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.dir == "" {
		b.dir = DefaultDir
	}
	if b.prefix == "" {
		b.prefix = DefaultPrefix
	}
	if b.bufSize <= 0 {
		b.bufSize = defaultBufferSize
	}
	return b
}

// open creates the trace directory and file. Caller holds b.mu.
func (b *FileBackend) open() error {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("create trace directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.jsonl",
		b.prefix,
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
	path := filepath.Join(b.dir, name)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	b.file = file
	b.w = bufio.NewWriterSize(file, b.bufSize)
	b.path = path
	return nil
}

// Append serializes the event and writes it as one line. The event is
// marshaled before anything is written, so a bad payload leaves the file
// untouched.
func (b *FileBackend) Append(e *TraceEvent) error {
	line, err := json.Marshal(e)
	if err != nil {
		return &SerializationError{EventID: e.ID, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	if b.file == nil {
		if err := b.open(); err != nil {
			return &BackendWriteError{Op: "append", Err: err}
		}
	}
	if _, err := b.w.Write(append(line, '\n')); err != nil {
		return &BackendWriteError{Op: "append", Err: err}
	}
	return nil
}

// Flush drains the write buffer and syncs the file to disk.
func (b *FileBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	return b.flushLocked()
}

func (b *FileBackend) flushLocked() error {
	if b.file == nil {
		return nil
	}
	if err := b.w.Flush(); err != nil {
		return &BackendWriteError{Op: "flush", Err: err}
	}
	if err := b.file.Sync(); err != nil {
		return &BackendWriteError{Op: "flush", Err: err}
	}
	return nil
}

// Close flushes pending events and closes the file. It is idempotent.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.file == nil {
		return nil
	}
	if err := b.flushLocked(); err != nil {
		b.file.Close()
		return err
	}
	if err := b.file.Close(); err != nil {
		return &BackendWriteError{Op: "close", Err: err}
	}
	return nil
}

// Path returns the trace file path, or "" before the first Append.
func (b *FileBackend) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Events reads back everything appended so far. Pending writes are flushed
// first so the snapshot is complete.
func (b *FileBackend) Events() ([]*TraceEvent, error) {
	b.mu.Lock()
	path := b.path
	var err error
	if !b.closed {
		err = b.flushLocked()
	}
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}
	return ReadFile(path)
}
