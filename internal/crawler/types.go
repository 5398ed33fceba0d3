// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SiteKind selects the traversal and authentication flavour for a task.
type SiteKind int

// Supported site kinds.
const (
	SiteGeneric SiteKind = iota
	SiteConfluence
)

// String returns the config/CLI spelling of the kind.
func (k SiteKind) String() string {
	switch k {
	case SiteConfluence:
		return "confluence"
	default:
		return "generic"
	}
}

// ParseSiteKind maps a config value onto a SiteKind.
func ParseSiteKind(raw string) (SiteKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "generic", "web":
		return SiteGeneric, nil
	case "confluence":
		return SiteConfluence, nil
	default:
		return SiteGeneric, fmt.Errorf("unknown site kind %q", raw)
	}
}

// Site is the variant attached to every task when it is created. SpaceKey is
// only meaningful for Confluence sites and may be empty.
type Site struct {
	Kind     SiteKind
	SpaceKey string
}

// GenericSite returns the plain web variant.
func GenericSite() Site {
	return Site{Kind: SiteGeneric}
}

// ConfluenceSite returns the Confluence variant scoped to spaceKey.
func ConfluenceSite(spaceKey string) Site {
	return Site{Kind: SiteConfluence, SpaceKey: spaceKey}
}

// IsConfluence reports whether the site is a Confluence wiki.
func (s Site) IsConfluence() bool {
	return s.Kind == SiteConfluence
}

// CrawlTask is one unit of work in the frontier. It is never mutated once
// created.
type CrawlTask struct {
	URL       string
	Depth     int
	ParentURL string
	Site      Site
	// PageID is the Confluence content ID when known.
	PageID string
}

// VisitedKey is the normalized identity used to deduplicate pages in a run.
type VisitedKey string

// RunRequest describes a single crawl invocation.
type RunRequest struct {
	RootURL  string
	MaxDepth int
	Site     Site
	PageID   string
}

// RawFetchResult is whatever the fetch capability managed to produce. Every
// field is optional.
type RawFetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Bytes       int64

	Markdown string
	// Extracted is the main-content HTML fragment picked by the fetcher.
	Extracted   string
	CleanedHTML string
	RawHTML     string
	PlainText   string

	Title     string
	OpenGraph map[string]string
	Links     []string

	SpaceKey string
	PageID   string
}

// ResolvedPage is the content resolved for one successfully processed task.
type ResolvedPage struct {
	Title     string
	Body      string
	SourceURL string
	CrawledAt time.Time
	Site      Site
	// Extraction names the body strategy that produced Body.
	Extraction string
}

// OutputPath is the resolved destination of a page. Dirs starts with the
// output root.
type OutputPath struct {
	Dirs     []string
	Filename string
}

// Dir joins the directory chain.
func (p OutputPath) Dir() string {
	return filepath.Join(p.Dirs...)
}

// Path joins the directory chain and the filename.
func (p OutputPath) Path() string {
	return filepath.Join(p.Dir(), p.Filename)
}

// SavedFile describes a persisted markdown artifact.
type SavedFile struct {
	Path string
	// RelPath is slash separated and relative to the output root.
	RelPath       string
	Bytes         int64
	Digest        string
	Disambiguated bool
	// Content is the rendered artifact, kept for mirroring.
	Content []byte
}

// Credentials holds whatever secrets are known for a host.
type Credentials struct {
	Username      string
	Password      string
	Email         string
	APIToken      string
	SessionCookie string
}

// HasBasic reports whether a username/password pair is present.
func (c Credentials) HasBasic() bool {
	return c.Username != "" && c.Password != ""
}

// HasAPIToken reports whether Confluence API credentials are present.
func (c Credentials) HasAPIToken() bool {
	return c.Email != "" && c.APIToken != ""
}

// HasSession reports whether a session cookie is present.
func (c Credentials) HasSession() bool {
	return c.SessionCookie != ""
}

// StrategyKind enumerates the ways a page can be fetched.
type StrategyKind int

// Supported fetch strategies.
const (
	StrategyAnonymous StrategyKind = iota
	StrategyBasicAuth
	StrategyConfluenceAPI
	StrategyConfluenceSession
)

// String returns a log-friendly name.
func (k StrategyKind) String() string {
	switch k {
	case StrategyBasicAuth:
		return "basic_auth"
	case StrategyConfluenceAPI:
		return "confluence_api"
	case StrategyConfluenceSession:
		return "confluence_session"
	default:
		return "anonymous"
	}
}

// FetchStrategy parameterizes one fetch. Fallback, when set, is tried after an
// authentication failure or when the strategy cannot serve the URL.
type FetchStrategy struct {
	Kind        StrategyKind
	Host        string
	Credentials Credentials
	Fallback    *FetchStrategy
}

// FetchRequest is passed to the fetch capabilities.
type FetchRequest struct {
	URL      string
	PageID   string
	SpaceKey string
	Strategy FetchStrategy
}

// ChildPage is a Confluence child reference returned by the API.
type ChildPage struct {
	ID    string
	Title string
	URL   string
}

// PageFailure records why a page was not saved.
type PageFailure struct {
	URL     string    `json:"url"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CrawlSummary is returned at the end of every run, including interrupted
// ones.
type CrawlSummary struct {
	RunID      string    `json:"run_id"`
	RootURL    string    `json:"root_url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Visited           int `json:"visited"`
	Saved             int `json:"saved"`
	SkippedOutOfScope int `json:"skipped_out_of_scope"`
	SkippedRobots     int `json:"skipped_robots"`
	Duplicates        int `json:"duplicates"`
	Failed            int `json:"failed"`
	Abandoned         int `json:"abandoned"`
	Unvisited         int `json:"unvisited"`

	Interrupted bool `json:"interrupted"`

	Failures   []PageFailure `json:"failures,omitempty"`
	OutOfScope []string      `json:"out_of_scope,omitempty"`
	Files      []string      `json:"files,omitempty"`
}

// Duration returns the wall time of the run.
func (s CrawlSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
