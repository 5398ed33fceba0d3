package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func titleStrategies() []titleStrategy {
	return []titleStrategy{
		func(s *source) (string, bool) { return cleanTitle(s.res.Title) },
		func(s *source) (string, bool) { return firstText(s.document(), "title") },
		openGraphTitle,
		func(s *source) (string, bool) { return firstText(s.document(), "h1") },
		func(s *source) (string, bool) { return firstText(s.document(), "h1, h2, h3, h4, h5, h6") },
		pathSegmentTitle,
		hostTitle,
	}
}

func openGraphTitle(s *source) (string, bool) {
	if title, ok := cleanTitle(s.res.OpenGraph["og:title"]); ok {
		return title, true
	}
	doc := s.document()
	if doc == nil {
		return "", false
	}
	content, _ := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	return cleanTitle(content)
}

func firstText(doc *goquery.Document, selector string) (string, bool) {
	if doc == nil {
		return "", false
	}
	return cleanTitle(doc.Find(selector).First().Text())
}

// pathSegmentTitle uses the last non-empty path segment, percent-decoded.
func pathSegmentTitle(s *source) (string, bool) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", false
	}
	segments := strings.Split(u.EscapedPath(), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" {
			continue
		}
		seg, err := url.PathUnescape(segments[i])
		if err != nil {
			seg = segments[i]
		}
		return cleanTitle(seg)
	}
	return "", false
}

func hostTitle(s *source) (string, bool) {
	u, err := url.Parse(s.url)
	if err == nil && u.Hostname() != "" {
		return u.Hostname(), true
	}
	return cleanTitle(s.url)
}

func cleanTitle(raw string) (string, bool) {
	title := strings.Join(strings.Fields(raw), " ")
	return title, title != ""
}
