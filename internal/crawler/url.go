package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

// KeyFor derives the VisitedKey of a task. Confluence pages with a known ID
// are keyed by space and page so that different URL spellings of one page
// collapse. Space keys compare case-insensitively.
func KeyFor(task CrawlTask) (VisitedKey, error) {
	if task.Site.IsConfluence() && task.PageID != "" {
		space := strings.ToUpper(task.Site.SpaceKey)
		return VisitedKey("confluence:" + space + ":" + task.PageID), nil
	}
	normalized, err := NormalizeURL(task.URL)
	if err != nil {
		return "", err
	}
	key := normalized
	if i := strings.Index(key, "://"); i >= 0 {
		key = key[i+3:]
	}
	if q := strings.IndexByte(key, '?'); q >= 0 {
		key = strings.TrimRight(key[:q], "/") + key[q:]
	} else {
		key = strings.TrimRight(key, "/")
	}
	return VisitedKey(key), nil
}

// Hostname returns the lower-cased host of rawURL without the port.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// ConfluenceRef is what can be learned about a Confluence page from its URL.
type ConfluenceRef struct {
	PageID   string
	SpaceKey string
}

var (
	confluencePagePath  = regexp.MustCompile(`/spaces/([^/]+)/pages/(\d+)`)
	confluenceSpacePath = regexp.MustCompile(`/(?:spaces|display)/([^/?#]+)`)
	confluenceShortLink = regexp.MustCompile(`/l/cp/(\d+)`)
	confluenceAnyPages  = regexp.MustCompile(`/pages/(\d+)`)
)

// ParseConfluenceURL extracts the page ID and space key from the URL shapes
// used by Confluence Cloud and Server: ?pageId=, /spaces/KEY/pages/ID,
// /display/KEY/Title and /l/cp/ID short links.
func ParseConfluenceURL(rawURL string) ConfluenceRef {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ConfluenceRef{}
	}
	var ref ConfluenceRef
	if id := u.Query().Get("pageId"); id != "" {
		ref.PageID = id
	}
	if key := u.Query().Get("spaceKey"); key != "" {
		ref.SpaceKey = key
	}
	if m := confluencePagePath.FindStringSubmatch(u.Path); m != nil {
		ref.SpaceKey = m[1]
		if ref.PageID == "" {
			ref.PageID = m[2]
		}
	}
	if ref.SpaceKey == "" {
		if m := confluenceSpacePath.FindStringSubmatch(u.Path); m != nil {
			ref.SpaceKey = m[1]
		}
	}
	if ref.PageID == "" {
		if m := confluenceShortLink.FindStringSubmatch(u.Path); m != nil {
			ref.PageID = m[1]
		} else if m := confluenceAnyPages.FindStringSubmatch(u.Path); m != nil {
			ref.PageID = m[1]
		}
	}
	return ref
}

// IsConfluencePage reports whether the URL looks like a Confluence page.
func (r ConfluenceRef) IsConfluencePage() bool {
	return r.PageID != "" || r.SpaceKey != ""
}
