// Package gcs mirrors markdown artifacts to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"gcs_bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// New creates a GCS-backed blob store around an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// NewFromConfig dials GCS with application default credentials. The client
// is closed by Close.
func NewFromConfig(ctx context.Context, cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// ObjectName returns the bucket object name for an artifact path.
func (s *BlobStore) ObjectName(p string) string {
	if s.prefix == "" {
		return strings.TrimLeft(p, "/")
	}
	return path.Join(s.prefix, p)
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := s.ObjectName(p)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Close releases the client when the store created it.
func (s *BlobStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
