package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageFetchAttempt Stage = "FETCH_ATTEMPT"
	StageFetchRetry   Stage = "FETCH_RETRY"
	StageFetchDone    Stage = "FETCH_DONE"
	StagePageSkip     Stage = "PAGE_SKIP"
	StagePageSaved    Stage = "PAGE_SAVED"
	StagePageFailed   Stage = "PAGE_FAILED"
)

// KindInterrupted is the RUN_DONE error kind of a run stopped by
// cancellation or its deadline.
const KindInterrupted = "interrupted"

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single step of a crawl run.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Site is the host the event refers to.
	Site  string
	URL   string
	Depth int
	// Attempt is the zero-based fetch attempt for fetch stages.
	Attempt     int
	StatusClass StatusClass
	Bytes       int64
	Dur         time.Duration
	// Path is the written artifact for PAGE_SAVED.
	Path string
	// Digest is the hex SHA-256 of the artifact for PAGE_SAVED.
	Digest string
	// ErrorKind is the failure classification for PAGE_FAILED and is set to
	// KindInterrupted on RUN_DONE when the run was cut short.
	ErrorKind string
	Note      string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageFetchAttempt, StageFetchRetry, StageFetchDone, StagePageSkip:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	case StagePageSaved:
		if e.Path == "" {
			return errors.New("page saved requires path")
		}
	case StagePageFailed:
		if e.ErrorKind == "" {
			return errors.New("page failed requires error kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
