package output

import (
	"strings"
	"time"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

// RenderDocument builds the artifact: a level-1 title, a metadata block, a
// rule and the body.
func RenderDocument(page crawler.ResolvedPage) []byte {
	var b strings.Builder
	b.WriteString("# " + page.Title + "\n\n")
	b.WriteString("_Source: " + page.SourceURL + "_  \n")
	if page.Site.IsConfluence() && page.Site.SpaceKey != "" {
		b.WriteString("_Space: " + page.Site.SpaceKey + "_  \n")
	}
	b.WriteString("_Crawled: " + page.CrawledAt.UTC().Format(time.RFC3339) + "_  \n")
	b.WriteString("\n---\n\n")
	b.WriteString(strings.TrimSpace(page.Body))
	b.WriteString("\n")
	return []byte(b.String())
}
