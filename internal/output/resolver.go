// Package output turns resolved pages into markdown files under an output
// root, one directory per host and Confluence space.
package output

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

const (
	maxNameRunes    = 100
	timestampLayout = "20060102-150405"
	fallbackName    = "unnamed"
	markdownExt     = ".md"
)

// Resolver maps resolved pages onto paths below Root.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: filepath.Clean(root)}
}

// Locate returns root/<host>[/<space>]/<title>_<timestamp>.md for page.
func (r *Resolver) Locate(page crawler.ResolvedPage) crawler.OutputPath {
	dirs := []string{r.root, Sanitize(crawler.Hostname(page.SourceURL))}
	if page.Site.IsConfluence() && strings.TrimSpace(page.Site.SpaceKey) != "" {
		dirs = append(dirs, Sanitize(page.Site.SpaceKey))
	}
	stamp := page.CrawledAt.UTC().Format(timestampLayout)
	return crawler.OutputPath{
		Dirs:     dirs,
		Filename: Sanitize(page.Title) + "_" + stamp + markdownExt,
	}
}

// Sanitize makes name safe as a single path element: reserved and control
// characters are dropped, whitespace runs become "_", the result is capped at
// 100 runes and trailing dots are removed. Empty results become "unnamed".
func Sanitize(name string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r), strings.ContainsRune(`\/*?:"<>|`, r):
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	out := b.String()
	if utf8.RuneCountInString(out) > maxNameRunes {
		out = string([]rune(out)[:maxNameRunes])
	}
	out = strings.TrimRight(out, ".")
	if out == "" {
		return fallbackName
	}
	return out
}
