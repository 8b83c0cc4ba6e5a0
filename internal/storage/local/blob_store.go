// Package local writes artifact snapshots under a directory on disk.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config points the store at its root directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes objects as files below BaseDir.
type BlobStore struct {
	baseDir string
}

// New creates BaseDir when missing and fails if it is not a directory.
func New(cfg Config) (*BlobStore, error) {
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(base)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(base, 0o750); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %q is not a directory", base)
	}
	return &BlobStore{baseDir: filepath.Clean(base)}, nil
}

// PutObject writes r to path and returns a file:// URI. The file appears
// atomically: readers never see a partial snapshot.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return "file://" + full, nil
}
