package extract

import (
	"strings"
)

// shellBodyThreshold is the raw size under which a script-heavy page counts
// as an empty app shell.
const shellBodyThreshold = 2048

var shellMarkers = []string{
	`id="__next"`,
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
}

// looksScriptRendered reports whether raw HTML is a client-rendered shell
// whose content only exists after JavaScript runs.
func looksScriptRendered(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	lower := strings.ToLower(raw)
	if len(lower) < shellBodyThreshold && scriptCoverage(lower)*100/len(lower) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptCoverage counts the bytes of lower that sit inside <script> elements.
func scriptCoverage(lower string) int {
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	total := len(lower)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			return covered
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Malformed tag; the rest is script.
			return covered + total - start
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
}
