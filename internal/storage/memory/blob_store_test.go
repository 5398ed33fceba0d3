package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "example.com/page.md", "text/markdown", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://example.com/page.md", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Get("example.com/page.md")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "text/markdown", contentType)

	stored[0] = 'X'
	again, _, _ := store.Get("example.com/page.md")
	require.Equal(t, "content", string(again))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.md", "a/c.md", "a/b.md"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a/b.md", "a/c.md", "b.md"}, store.Paths())

	_, _, ok := store.Get("missing.md")
	require.False(t, ok)
	_, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
