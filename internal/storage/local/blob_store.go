// Package local mirrors artifacts into a second directory tree, typically a
// synced or network-mounted folder.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local mirror.
type Config struct {
	// BaseDir is the root directory of the mirror.
	BaseDir string `mapstructure:"local_dir" yaml:"local_dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates the mirror root when missing and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// PutObject copies data to baseDir/path, replacing any previous copy, and
// returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(path))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".mirror-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_, copyErr := io.Copy(tmp, data)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return "", fmt.Errorf("write mirror copy: %w", copyErr)
		}
		return "", fmt.Errorf("close mirror copy: %w", closeErr)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish mirror copy: %w", err)
	}

	return "file://" + filepath.ToSlash(fullPath), nil
}
