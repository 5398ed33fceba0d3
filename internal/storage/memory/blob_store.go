// Package memory keeps mirrored artifacts in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	s.contentTypes[path] = contentType
	return "memory://" + path, nil
}

// Get returns a copy of the stored object and its content type.
func (s *BlobStore) Get(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.contentTypes[path], true
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
