package collyfetcher

import (
	"bytes"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

// noiseSelector lists elements that never carry page content.
const noiseSelector = "script, style, noscript, iframe, nav, header, footer, aside, form, svg, template"

// mainContentSelectors are tried in order to find the article body.
var mainContentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	".content",
	"#content",
	".main-content",
	"#main-content",
	".documentation",
	".docs-content",
}

// buildResult classifies the body by content type and fills the matching
// RawFetchResult fields.
func buildResult(pageURL *url.URL, status int, contentType string, body []byte) crawler.RawFetchResult {
	res := crawler.RawFetchResult{
		URL:         pageURL.String(),
		StatusCode:  status,
		ContentType: contentType,
		Bytes:       int64(len(body)),
	}
	switch mediaType(contentType, pageURL) {
	case "text/markdown":
		res.Markdown = string(body)
	case "text/plain":
		res.PlainText = string(body)
	case "text/html", "application/xhtml+xml", "":
		fillFromHTML(&res, pageURL, body)
	}
	return res
}

func mediaType(contentType string, pageURL *url.URL) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if mt == "text/x-markdown" {
			return "text/markdown"
		}
		if mt != "application/octet-stream" {
			return mt
		}
	}
	switch strings.ToLower(path.Ext(pageURL.Path)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	}
	return ""
}

func fillFromHTML(res *crawler.RawFetchResult, pageURL *url.URL, body []byte) {
	res.RawHTML = string(body)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}
	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			base = u
		}
	}
	res.Links = collectLinks(doc, base)
	res.OpenGraph = openGraph(doc)
	res.SpaceKey = metaContent(doc, "ajs-space-key")
	res.PageID = metaContent(doc, "ajs-page-id")

	doc.Find(noiseSelector).Remove()
	if html, err := doc.Html(); err == nil {
		res.CleanedHTML = html
	}
	for _, sel := range mainContentSelectors {
		match := doc.Find(sel).First()
		if match.Length() == 0 {
			continue
		}
		if html, err := goquery.OuterHtml(match); err == nil && strings.TrimSpace(match.Text()) != "" {
			res.Extracted = html
			break
		}
	}
	res.PlainText = plainText(doc.Find("body"))
}

// collectLinks returns absolute http(s) links without fragments, in document
// order and without duplicates.
func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := base.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		link := u.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func openGraph(doc *goquery.Document) map[string]string {
	og := make(map[string]string)
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, m *goquery.Selection) {
		prop := strings.TrimSpace(m.AttrOr("property", ""))
		content := strings.TrimSpace(m.AttrOr("content", ""))
		if content == "" {
			return
		}
		if _, exists := og[prop]; !exists {
			og[prop] = content
		}
	})
	if len(og) == 0 {
		return nil
	}
	return og
}

func metaContent(doc *goquery.Document, name string) string {
	return strings.TrimSpace(doc.Find(`meta[name="` + name + `"]`).First().AttrOr("content", ""))
}

// plainText keeps one line per non-empty text line of sel.
func plainText(sel *goquery.Selection) string {
	var lines []string
	for _, line := range strings.Split(sel.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
