package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/store"
)

const (
	defaultRunLimit  = 50
	maxRunLimit      = 500
	defaultPageLimit = 100
	maxPageLimit     = 1000
	ledgerTimeout    = 3 * time.Second
)

// RunHandler exposes read-only run ledger endpoints.
type RunHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.RunRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: ledgerTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /api/runs?limit=&offset=. It returns {"runs": [...]}
// newest first, 400 for invalid paging, 503 without a ledger and 500 when
// the repository fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// GetRun handles GET /api/runs/{run_id}. It returns {"run": {...}}, 400 for
// malformed IDs and 404 when the run is unknown.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListPages handles GET /api/runs/{run_id}/pages?limit=&offset=. It returns
// {"pages": [...]} ordered by depth, then URL.
func (h *RunHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pages, err := h.repo.ListPages(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": toPageDTOs(pages)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toRunDTOs(in []store.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		RootURL:    run.RootURL,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Note:       run.Note,
	}
}

func toPageDTOs(in []store.PageRecord) []pageDTO {
	out := make([]pageDTO, 0, len(in))
	for _, p := range in {
		out = append(out, pageDTO{
			URL:        p.URL,
			Depth:      p.Depth,
			Status:     string(p.Status),
			Path:       p.Path,
			ErrorKind:  p.ErrorKind,
			Bytes:      p.Bytes,
			SHA256:     p.Digest,
			RecordedAt: p.RecordedAt,
		})
	}
	return out
}

type runDTO struct {
	ID         string     `json:"id"`
	RootURL    string     `json:"root_url"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Note       *string    `json:"note,omitempty"`
}

type pageDTO struct {
	URL        string    `json:"url"`
	Depth      int       `json:"depth"`
	Status     string    `json:"status"`
	Path       string    `json:"path,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Bytes      int64     `json:"bytes"`
	SHA256     string    `json:"sha256,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
