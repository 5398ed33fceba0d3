package crawler

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// Fetcher retrieves a page over HTTP using an anonymous, basic-auth or
// session strategy.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (RawFetchResult, error)
}

// ConfluenceAPI serves Confluence pages and their children over the REST API.
type ConfluenceAPI interface {
	FetchPage(ctx context.Context, req FetchRequest) (RawFetchResult, error)
	ChildPages(ctx context.Context, req FetchRequest) ([]ChildPage, error)
}

// CredentialStore looks up secrets for a host.
type CredentialStore interface {
	Get(host string) (Credentials, bool)
}

// StrategySelector picks the fetch strategy for a URL.
type StrategySelector interface {
	Resolve(rawURL string, site Site, creds Credentials, found bool) (FetchStrategy, error)
}

// Extractor resolves title and body from a raw fetch result.
type Extractor interface {
	Resolve(res RawFetchResult, task CrawlTask, crawledAt time.Time) (ResolvedPage, error)
}

// Normalizer cleans up resolved markdown.
type Normalizer interface {
	Normalize(body, baseURL string) string
}

// PageWriter persists a resolved page as a markdown artifact.
type PageWriter interface {
	Save(ctx context.Context, page ResolvedPage) (SavedFile, error)
}

// BlobStore mirrors artifacts to secondary storage and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RobotsPolicy gates fetches according to robots.txt.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Limiter spaces out requests to the same host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RetryPolicy decides whether and when to retry a failed fetch.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Emitter is re-exported so callers do not need the progress import to wire
// an engine.
type Emitter = progress.Emitter
