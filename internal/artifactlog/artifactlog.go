// Package artifactlog appends one JSON entry per completed run. Entries are
// never rewritten.
package artifactlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/storage"
)

// File appends JSON lines to a local file.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a sink writing to path. Parent directories are created on
// first append.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("artifact log path is required")
	}
	return &File{path: path}, nil
}

// Append writes entry as a single line.
func (f *File) Append(_ context.Context, entry digest.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open artifact log: %w", err)
	}
	if _, err := fh.Write(line); err != nil {
		_ = fh.Close()
		return fmt.Errorf("append artifact log: %w", err)
	}
	return fh.Close()
}

// Blob writes each entry as its own object under
// <prefix>/<civil date>/<run_id>-<category>.json.
type Blob struct {
	store  storage.BlobStore
	prefix string
	cal    digest.Calendar
}

// NewBlob returns a sink mirroring entries to store.
func NewBlob(store storage.BlobStore, prefix string, cal digest.Calendar) *Blob {
	return &Blob{store: store, prefix: prefix, cal: cal}
}

// ObjectPath returns where entry is written.
func (b *Blob) ObjectPath(entry digest.LogEntry) string {
	name := fmt.Sprintf("%s-%s.json", entry.RunID, entry.Category)
	return filepath.ToSlash(filepath.Join(b.prefix, b.cal.DateString(entry.LoggedAt), name))
}

// Append uploads entry.
func (b *Blob) Append(ctx context.Context, entry digest.LogEntry) error {
	body, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	if _, err := b.store.PutObject(ctx, b.ObjectPath(entry), "application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("upload log entry: %w", err)
	}
	return nil
}

// Multi fans an entry out to every sink. A failing sink does not stop the
// others; all failures are joined.
type Multi []digest.ArtifactLog

// Append writes to each sink in order.
func (m Multi) Append(ctx context.Context, entry digest.LogEntry) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
