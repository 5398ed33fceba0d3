package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
)

// PageStatus mirrors the crawl_pages status column.
type PageStatus string

// Page outcomes persisted in crawl_pages.status.
const (
	PageSaved   PageStatus = "saved"
	PageFailed  PageStatus = "failed"
	PageSkipped PageStatus = "skipped"
)

// Run models one crawl invocation.
type Run struct {
	ID        uuid.UUID
	RootURL   string
	StartedAt time.Time
	// FinishedAt is nil while the run is in progress.
	FinishedAt *time.Time
	Status     RunStatus
	Note       *string
}

// PageRecord is the final outcome of one page in a run.
type PageRecord struct {
	RunID      uuid.UUID
	URL        string
	Depth      int
	Status     PageStatus
	Path       string
	ErrorKind  string
	Bytes      int64
	// Digest is the hex SHA-256 of the written artifact.
	Digest     string
	RecordedAt time.Time
}

// RunRepository persists the run ledger.
type RunRepository interface {
	// UpsertRunStart inserts the run or leaves an existing row untouched.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, rootURL string, startedAt time.Time) error
	// RecordPages stores page outcomes; a page recorded twice keeps the latest.
	RecordPages(ctx context.Context, pages []PageRecord) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, note *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
	// ListPages returns the page outcomes of a run ordered by depth then URL.
	ListPages(ctx context.Context, runID uuid.UUID, limit, offset int) ([]PageRecord, error)
}
