package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustScope(t *testing.T, mode ScopeMode, root string) scope {
	t.Helper()
	u, err := url.Parse(root)
	require.NoError(t, err)
	return newScope(mode, u)
}

func TestScopeDomain(t *testing.T) {
	t.Parallel()

	sc := mustScope(t, ScopeDomain, "https://example.com/docs/")
	cases := map[string]bool{
		"https://example.com/other":          true,
		"https://docs.example.com/api":       true,
		"http://www.example.com/":            true,
		"https://example.org/":               false,
		"https://notexample.com/":            false,
		"mailto:team@example.com":            false,
		"ftp://example.com/file":             false,
		"https://example.com.evil.org/docs/": false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, sc.contains(raw), raw)
	}
}

func TestScopeDomainPublicSuffixHosts(t *testing.T) {
	t.Parallel()

	sc := mustScope(t, ScopeDomain, "https://alice.github.io/project/")
	assert.True(t, sc.contains("https://alice.github.io/other"))
	assert.False(t, sc.contains("https://bob.github.io/project/"))

	local := mustScope(t, ScopeDomain, "http://127.0.0.1:8080/")
	assert.True(t, local.contains("http://127.0.0.1:9090/x"))
	assert.False(t, local.contains("http://127.0.0.2/"))
}

func TestScopeSubpath(t *testing.T) {
	t.Parallel()

	sc := mustScope(t, ScopeSubpath, "https://example.com/docs/guide/")
	assert.True(t, sc.contains("https://example.com/docs/guide/"))
	assert.True(t, sc.contains("https://example.com/docs/guide"))
	assert.True(t, sc.contains("https://example.com/docs/guide/install"))
	assert.False(t, sc.contains("https://example.com/docs/"))
	assert.False(t, sc.contains("https://example.com/docs/guidebook"))
	assert.False(t, sc.contains("https://docs.example.com/docs/guide/"))

	file := mustScope(t, ScopeSubpath, "https://example.com/docs/index.html")
	assert.True(t, file.contains("https://example.com/docs/setup.html"))
	assert.False(t, file.contains("https://example.com/blog/"))
}

func TestParseScopeMode(t *testing.T) {
	t.Parallel()

	mode, ok := ParseScopeMode("")
	assert.True(t, ok)
	assert.Equal(t, ScopeDomain, mode)

	mode, ok = ParseScopeMode(" SubPath ")
	assert.True(t, ok)
	assert.Equal(t, ScopeSubpath, mode)

	_, ok = ParseScopeMode("world")
	assert.False(t, ok)
}
