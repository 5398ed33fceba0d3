package crawler_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/auth"
	"github.com/JakeFAU/markdown-crawler/internal/crawler"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/storage/memory"
)

type fetchFunc func(ctx context.Context, req crawler.FetchRequest, call int) (crawler.RawFetchResult, error)

// fakeWeb serves canned responses keyed by URL (or Confluence page ID) and
// counts calls per key.
type fakeWeb struct {
	mu       sync.Mutex
	handlers map[string]fetchFunc
	calls    map[string]int
	requests []crawler.FetchRequest
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{handlers: map[string]fetchFunc{}, calls: map[string]int{}}
}

func (w *fakeWeb) handle(key string, fn fetchFunc) {
	w.handlers[key] = fn
}

func (w *fakeWeb) page(rawURL, title string, links ...string) {
	w.handle(rawURL, func(context.Context, crawler.FetchRequest, int) (crawler.RawFetchResult, error) {
		return htmlPage(rawURL, title, links...), nil
	})
}

func (w *fakeWeb) serve(ctx context.Context, key string, req crawler.FetchRequest) (crawler.RawFetchResult, error) {
	w.mu.Lock()
	w.calls[key]++
	call := w.calls[key]
	w.requests = append(w.requests, req)
	fn, ok := w.handlers[key]
	w.mu.Unlock()
	if !ok {
		return crawler.RawFetchResult{}, crawler.StatusError(req.URL, crawler.Hostname(req.URL), http.StatusNotFound)
	}
	return fn(ctx, req, call)
}

func (w *fakeWeb) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.RawFetchResult, error) {
	return w.serve(ctx, req.URL, req)
}

func (w *fakeWeb) Calls(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[key]
}

func (w *fakeWeb) Requests() []crawler.FetchRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]crawler.FetchRequest(nil), w.requests...)
}

// fakeConfluence serves the REST API keyed by page ID.
type fakeConfluence struct {
	*fakeWeb
	children map[string][]crawler.ChildPage
}

func (c *fakeConfluence) FetchPage(ctx context.Context, req crawler.FetchRequest) (crawler.RawFetchResult, error) {
	return c.serve(ctx, "api:"+req.PageID, req)
}

func (c *fakeConfluence) ChildPages(_ context.Context, req crawler.FetchRequest) ([]crawler.ChildPage, error) {
	return c.children[req.PageID], nil
}

func htmlPage(rawURL, title string, links ...string) crawler.RawFetchResult {
	return crawler.RawFetchResult{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Title:      title,
		Markdown:   "# " + title + "\n\nBody of " + title + ".",
		Links:      links,
	}
}

type staticSelector struct {
	strategy crawler.FetchStrategy
}

func (s staticSelector) Resolve(string, crawler.Site, crawler.Credentials, bool) (crawler.FetchStrategy, error) {
	return s.strategy, nil
}

type staticCredentials struct {
	creds crawler.Credentials
}

func (s staticCredentials) Get(string) (crawler.Credentials, bool) {
	return s.creds, true
}

type passthroughExtractor struct{}

func (passthroughExtractor) Resolve(res crawler.RawFetchResult, task crawler.CrawlTask, at time.Time) (crawler.ResolvedPage, error) {
	if strings.TrimSpace(res.Markdown) == "" {
		return crawler.ResolvedPage{}, &crawler.NoContentError{URL: task.URL}
	}
	return crawler.ResolvedPage{
		Title:      res.Title,
		Body:       res.Markdown,
		SourceURL:  task.URL,
		CrawledAt:  at,
		Site:       task.Site,
		Extraction: "markdown",
	}, nil
}

type identityNormalizer struct{}

func (identityNormalizer) Normalize(body, _ string) string { return body }

// recordingWriter keeps saved pages in memory.
type recordingWriter struct {
	mu    sync.Mutex
	pages []crawler.ResolvedPage
	fail  map[string]error
}

func (w *recordingWriter) Save(_ context.Context, page crawler.ResolvedPage) (crawler.SavedFile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail[page.SourceURL]; err != nil {
		return crawler.SavedFile{}, err
	}
	w.pages = append(w.pages, page)
	name := strings.ReplaceAll(page.Title, " ", "_") + ".md"
	return crawler.SavedFile{
		Path:    "/out/" + name,
		RelPath: name,
		Bytes:   int64(len(page.Body)),
		Content: []byte(page.Body),
	}, nil
}

func (w *recordingWriter) Titles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pages))
	for _, p := range w.pages {
		out = append(out, p.Title)
	}
	return out
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages(stage progress.Stage) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingEmitter) All() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

// MockRobotsPolicy is a mock implementation of the RobotsPolicy interface.
type MockRobotsPolicy struct {
	mock.Mock
}

func (m *MockRobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	args := m.Called(ctx, rawURL)
	return args.Bool(0)
}

type harness struct {
	web     *fakeWeb
	writer  *recordingWriter
	events  *recordingEmitter
	mirror  *memory.BlobStore
	cfg     crawler.Config
	deps    crawler.Deps
	confAPI *fakeConfluence
}

func newHarness() *harness {
	h := &harness{
		web:    newFakeWeb(),
		writer: &recordingWriter{fail: map[string]error{}},
		events: &recordingEmitter{},
		mirror: memory.NewBlobStore(),
		cfg:    crawler.Config{Concurrency: 2},
	}
	h.deps = crawler.Deps{
		Fetcher:    h.web,
		Selector:   staticSelector{strategy: crawler.FetchStrategy{Kind: crawler.StrategyAnonymous}},
		Extractor:  passthroughExtractor{},
		Normalizer: identityNormalizer{},
		Writer:     h.writer,
		Retry: crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		}),
		Mirror: h.mirror,
		Events: h.events,
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, req crawler.RunRequest) crawler.CrawlSummary {
	t.Helper()
	engine, err := crawler.NewEngine(h.cfg, h.deps, nil)
	require.NoError(t, err)
	summary, err := engine.Run(ctx, req)
	require.NoError(t, err)
	return summary
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	t.Parallel()

	h := newHarness()
	deps := h.deps
	deps.Writer = nil
	_, err := crawler.NewEngine(h.cfg, deps, nil)
	require.ErrorContains(t, err, "page writer is required")

	deps = h.deps
	deps.Fetcher = nil
	_, err = crawler.NewEngine(h.cfg, deps, nil)
	require.ErrorContains(t, err, "fetcher is required")
}

func TestEngineRunRejectsInvalidRoot(t *testing.T) {
	t.Parallel()

	engine, err := crawler.NewEngine(crawler.Config{}, newHarness().deps, nil)
	require.NoError(t, err)

	for _, root := range []string{"", "mailto:docs@example.com", "/relative/path", "ftp://example.com/"} {
		_, err := engine.Run(context.Background(), crawler.RunRequest{RootURL: root, MaxDepth: 1})
		require.ErrorIs(t, err, crawler.ErrInvalidRoot, root)
	}
	_, err = engine.Run(context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: -1})
	require.ErrorIs(t, err, crawler.ErrInvalidRoot)
}

func TestEngineCrawlsInScopeLinksToDepth(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.page("https://example.com/", "Home",
		"https://example.com/guide",
		"https://docs.example.com/api",
		"https://elsewhere.org/page",
	)
	h.web.page("https://example.com/guide", "Guide", "https://example.com/deeper")
	h.web.page("https://docs.example.com/api", "API")
	h.web.page("https://example.com/deeper", "Deeper")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.Equal(t, 3, summary.Visited)
	assert.Equal(t, 3, summary.Saved)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.SkippedOutOfScope)
	assert.Equal(t, []string{"https://elsewhere.org/page"}, summary.OutOfScope)
	assert.False(t, summary.Interrupted)
	assert.ElementsMatch(t, []string{"Home", "Guide", "API"}, h.writer.Titles())
	assert.Zero(t, h.web.Calls("https://example.com/deeper"))
	assert.Zero(t, h.web.Calls("https://elsewhere.org/page"))
	assert.Len(t, summary.Files, 3)
	assert.ElementsMatch(t, []string{"API.md", "Guide.md", "Home.md"}, h.mirror.Paths())
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestEngineDepthZeroFetchesOnlyRoot(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.page("https://example.com/docs/", "Docs", "https://example.com/docs/a")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/docs/", MaxDepth: 0})

	assert.Equal(t, 1, summary.Visited)
	assert.Equal(t, 1, summary.Saved)
	assert.Zero(t, h.web.Calls("https://example.com/docs/a"))
}

func TestEngineDeduplicatesEquivalentURLs(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.Concurrency = 3
	h.web.page("https://example.com/", "Home",
		"https://example.com/a",
		"https://example.com/a/",
		"https://EXAMPLE.com/a#install",
	)
	h.web.page("https://example.com/a", "A", "https://example.com/")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 2})

	assert.Equal(t, 2, summary.Visited)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 3, summary.Duplicates)
	assert.Equal(t, 1, h.web.Calls("https://example.com/a"))
	assert.Equal(t, 1, h.web.Calls("https://example.com/"))
}

func TestEngineRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	h := newHarness()
	root := "https://example.com/"
	h.web.handle(root, func(_ context.Context, req crawler.FetchRequest, call int) (crawler.RawFetchResult, error) {
		if call < 3 {
			return crawler.RawFetchResult{}, crawler.StatusError(req.URL, "example.com", http.StatusServiceUnavailable)
		}
		return htmlPage(root, "Home"), nil
	})

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: root, MaxDepth: 0})

	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 3, h.web.Calls(root))
	retries := h.events.Stages(progress.StageFetchRetry)
	require.Len(t, retries, 2)
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, 2, retries[1].Attempt)
}

func TestEngineGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.deps.Retry = crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	})
	root := "https://example.com/"
	h.web.handle(root, func(_ context.Context, req crawler.FetchRequest, _ int) (crawler.RawFetchResult, error) {
		return crawler.RawFetchResult{}, crawler.StatusError(req.URL, "example.com", http.StatusBadGateway)
	})

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: root})

	assert.Equal(t, 3, h.web.Calls(root))
	assert.Equal(t, 0, summary.Saved)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, crawler.KindFetch, summary.Failures[0].Kind)
}

func TestEngineRecordsPageFailuresAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.page("https://example.com/", "Home",
		"https://example.com/missing",
		"https://example.com/empty",
		"https://example.com/unwritable",
		"https://example.com/ok",
	)
	h.web.handle("https://example.com/empty", func(context.Context, crawler.FetchRequest, int) (crawler.RawFetchResult, error) {
		return crawler.RawFetchResult{URL: "https://example.com/empty", StatusCode: http.StatusOK}, nil
	})
	h.web.page("https://example.com/unwritable", "Unwritable")
	h.web.page("https://example.com/ok", "OK")
	h.writer.fail["https://example.com/unwritable"] = errors.New("disk full")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.Equal(t, 5, summary.Visited)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 3, summary.Failed)
	kinds := map[string]crawler.ErrorKind{}
	for _, f := range summary.Failures {
		kinds[f.URL] = f.Kind
	}
	assert.Equal(t, map[string]crawler.ErrorKind{
		"https://example.com/missing":    crawler.KindFetch,
		"https://example.com/empty":      crawler.KindNoContent,
		"https://example.com/unwritable": crawler.KindWrite,
	}, kinds)
	assert.Equal(t, 1, h.web.Calls("https://example.com/missing"))
	assert.Len(t, h.events.Stages(progress.StagePageFailed), 3)
}

func TestEngineHonoursRobots(t *testing.T) {
	t.Parallel()

	h := newHarness()
	robots := new(MockRobotsPolicy)
	robots.On("Allowed", mock.Anything, "https://example.com/private").Return(false)
	robots.On("Allowed", mock.Anything, mock.Anything).Return(true)
	h.deps.Robots = robots
	h.web.page("https://example.com/", "Home", "https://example.com/private", "https://example.com/public")
	h.web.page("https://example.com/public", "Public")
	h.web.page("https://example.com/private", "Private")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.SkippedRobots)
	assert.Zero(t, h.web.Calls("https://example.com/private"))
	robots.AssertCalled(t, "Allowed", mock.Anything, "https://example.com/private")
	skips := h.events.Stages(progress.StagePageSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "robots", skips[0].Note)
}

func TestEngineStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.Concurrency = 1
	h.cfg.MaxPages = 2
	h.web.page("https://example.com/", "Home", "https://example.com/a", "https://example.com/b", "https://example.com/c")
	h.web.page("https://example.com/a", "A")
	h.web.page("https://example.com/b", "B")
	h.web.page("https://example.com/c", "C")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.Equal(t, 2, summary.Visited)
	assert.Equal(t, 2, summary.Saved)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, 2, summary.Unvisited)
	assert.Zero(t, summary.Abandoned)
	assert.Zero(t, h.web.Calls("https://example.com/b"))
}

func TestEnginePageTimeoutFailsOnlyThatPage(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.PageTimeout = 50 * time.Millisecond
	h.web.page("https://example.com/", "Home", "https://example.com/slow", "https://example.com/fast")
	h.web.page("https://example.com/fast", "Fast")
	h.web.handle("https://example.com/slow", func(ctx context.Context, req crawler.FetchRequest, _ int) (crawler.RawFetchResult, error) {
		<-ctx.Done()
		return crawler.RawFetchResult{}, &crawler.FetchError{URL: req.URL, Err: ctx.Err()}
	})

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.False(t, summary.Interrupted)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Abandoned)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "https://example.com/slow", summary.Failures[0].URL)
	assert.Equal(t, crawler.KindFetch, summary.Failures[0].Kind)
	assert.Equal(t, 1, h.web.Calls("https://example.com/slow"))
	assert.ElementsMatch(t, []string{"Home", "Fast"}, h.writer.Titles())
}

func TestEngineRunTimeoutInterruptsTheRun(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.Concurrency = 1
	h.cfg.RunTimeout = 50 * time.Millisecond
	h.web.page("https://example.com/", "Home", "https://example.com/a", "https://example.com/b")
	h.web.handle("https://example.com/a", func(ctx context.Context, req crawler.FetchRequest, _ int) (crawler.RawFetchResult, error) {
		<-ctx.Done()
		return crawler.RawFetchResult{}, &crawler.FetchError{URL: req.URL, Err: ctx.Err()}
	})

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Saved)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 2, summary.Abandoned)
	assert.Zero(t, summary.Unvisited)
	assert.Zero(t, h.web.Calls("https://example.com/b"))
	events := h.events.All()
	require.NotEmpty(t, events)
	assert.Equal(t, progress.KindInterrupted, events[len(events)-1].ErrorKind)
}

func TestEngineSkipsRedirectsLeavingScope(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.page("https://example.com/", "Home", "https://example.com/go")
	h.web.handle("https://example.com/go", func(context.Context, crawler.FetchRequest, int) (crawler.RawFetchResult, error) {
		return htmlPage("https://evil.org/landing", "Landing", "https://evil.org/more"), nil
	})

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 2})

	assert.Equal(t, 2, summary.Visited)
	assert.Equal(t, 1, summary.Saved)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, summary.SkippedOutOfScope)
	assert.Equal(t, []string{"https://evil.org/landing"}, summary.OutOfScope)
	assert.Equal(t, []string{"Home"}, h.writer.Titles())
	assert.Zero(t, h.web.Calls("https://evil.org/more"))
	skips := h.events.Stages(progress.StagePageSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "redirect_out_of_scope", skips[0].Note)
	assert.Equal(t, "https://example.com/go", skips[0].URL)
}

func TestEngineSavesRedirectTargetOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.Concurrency = 1
	h.web.page("https://example.com/", "Home", "https://example.com/old", "https://example.com/new")
	h.web.handle("https://example.com/old", func(context.Context, crawler.FetchRequest, int) (crawler.RawFetchResult, error) {
		return htmlPage("https://example.com/new", "New"), nil
	})
	h.web.page("https://example.com/new", "New")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Zero(t, summary.SkippedOutOfScope)
	assert.Zero(t, h.web.Calls("https://example.com/new"))
	assert.ElementsMatch(t, []string{"Home", "New"}, h.writer.Titles())
}

func TestEngineSkipsPageAlreadySavedUnderRedirect(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.Concurrency = 1
	h.web.page("https://example.com/", "Home", "https://example.com/new", "https://example.com/old")
	h.web.page("https://example.com/new", "New")
	h.web.handle("https://example.com/old", func(context.Context, crawler.FetchRequest, int) (crawler.RawFetchResult, error) {
		return htmlPage("https://example.com/new", "New"), nil
	})

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.Equal(t, 3, summary.Visited)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 1, h.web.Calls("https://example.com/old"))
	assert.Equal(t, []string{"Home", "New"}, h.writer.Titles())
	skips := h.events.Stages(progress.StagePageSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "duplicate", skips[0].Note)
}

func TestEngineInterruptReturnsPartialSummary(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.Concurrency = 1
	h.web.page("https://example.com/", "Home", "https://example.com/a", "https://example.com/b", "https://example.com/c")

	started := make(chan struct{})
	h.web.handle("https://example.com/a", func(ctx context.Context, req crawler.FetchRequest, _ int) (crawler.RawFetchResult, error) {
		close(started)
		<-ctx.Done()
		return crawler.RawFetchResult{}, &crawler.FetchError{URL: req.URL, Err: ctx.Err()}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	summary := h.run(t, ctx, crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.Abandoned)
	assert.Zero(t, h.web.Calls("https://example.com/b"))

	events := h.events.All()
	require.NotEmpty(t, events)
	assert.Equal(t, progress.StageRunStart, events[0].Stage)
	last := events[len(events)-1]
	assert.Equal(t, progress.StageRunDone, last.Stage)
	assert.Equal(t, progress.KindInterrupted, last.ErrorKind)
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.page("https://example.com/", "Home", "https://example.com/a")
	h.web.page("https://example.com/a", "A")

	summary := h.run(t, context.Background(), crawler.RunRequest{RootURL: "https://example.com/", MaxDepth: 1})

	events := h.events.All()
	require.NotEmpty(t, events)
	assert.Equal(t, progress.StageRunStart, events[0].Stage)
	assert.Equal(t, progress.StageRunDone, events[len(events)-1].Stage)
	assert.Empty(t, events[len(events)-1].ErrorKind)
	for _, evt := range events {
		require.NoError(t, evt.Validate(), evt.Stage)
		assert.Equal(t, summary.RunID, evt.RunUUID().String())
	}
	saved := h.events.Stages(progress.StagePageSaved)
	require.Len(t, saved, 2)
	for _, evt := range saved {
		assert.NotEmpty(t, evt.Path)
		assert.Equal(t, "example.com", evt.Site)
	}
	assert.Len(t, h.events.Stages(progress.StageFetchAttempt), 2)
}

func TestEngineConfluenceFallsBackToSession(t *testing.T) {
	t.Parallel()

	const base = "https://wiki.example.com/wiki/spaces/DOC/pages/"
	h := newHarness()
	h.cfg.Concurrency = 1
	conf := &fakeConfluence{fakeWeb: newFakeWeb(), children: map[string][]crawler.ChildPage{
		"100": {
			{ID: "101", Title: "Setup", URL: base + "101/Setup"},
			{ID: "102", Title: "Secrets", URL: base + "102/Secrets"},
		},
	}}
	conf.handle("api:100", func(context.Context, crawler.FetchRequest, int) (crawler.RawFetchResult, error) {
		res := htmlPage(base+"100/Home", "Home")
		res.PageID, res.SpaceKey = "100", "DOC"
		return res, nil
	})
	denied := func(_ context.Context, req crawler.FetchRequest, _ int) (crawler.RawFetchResult, error) {
		return crawler.RawFetchResult{}, crawler.StatusError(req.URL, "wiki.example.com", http.StatusUnauthorized)
	}
	conf.handle("api:101", denied)
	conf.handle("api:102", denied)
	h.web.page(base+"101/Setup", "Setup")
	h.web.handle(base+"102/Secrets", denied)

	h.deps.Confluence = conf
	h.deps.Selector = auth.NewSelector(auth.SelectorConfig{})
	h.deps.Credentials = staticCredentials{creds: crawler.Credentials{
		Email:         "bot@example.com",
		APIToken:      "token",
		SessionCookie: "JSESSIONID=abc",
	}}

	summary := h.run(t, context.Background(), crawler.RunRequest{
		RootURL:  base + "100/Home",
		MaxDepth: 1,
		Site:     crawler.ConfluenceSite("DOC"),
	})

	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, base+"102/Secrets", summary.Failures[0].URL)
	assert.Equal(t, crawler.KindAuthentication, summary.Failures[0].Kind)
	assert.ElementsMatch(t, []string{"Home", "Setup"}, h.writer.Titles())

	// Authentication failures are not retried.
	assert.Equal(t, 1, conf.Calls("api:101"))
	assert.Equal(t, 1, h.web.Calls(base+"102/Secrets"))
	for _, req := range h.web.Requests() {
		assert.Equal(t, crawler.StrategyConfluenceSession, req.Strategy.Kind)
		assert.Equal(t, "DOC", req.SpaceKey)
	}
}

func TestEngineConfluenceRootWithoutSpaceIsFetchedOnce(t *testing.T) {
	t.Parallel()

	const (
		root  = "https://wiki.example.com/pages/viewpage.action?pageId=100"
		back  = "https://wiki.example.com/spaces/DOC/pages/100/Root"
		child = "https://wiki.example.com/spaces/DOC/pages/101/Child"
	)
	h := newHarness()
	h.cfg.Concurrency = 1
	h.web.handle(root, func(context.Context, crawler.FetchRequest, int) (crawler.RawFetchResult, error) {
		res := htmlPage(root, "Root", child, back)
		res.PageID, res.SpaceKey = "100", "DOC"
		return res, nil
	})
	h.web.page(child, "Child", back)
	h.web.page(back, "Root")

	summary := h.run(t, context.Background(), crawler.RunRequest{
		RootURL:  root,
		MaxDepth: 2,
		Site:     crawler.ConfluenceSite(""),
	})

	assert.Equal(t, 2, summary.Visited)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 2, summary.Duplicates)
	assert.Equal(t, 1, h.web.Calls(root))
	assert.Zero(t, h.web.Calls(back))
	assert.ElementsMatch(t, []string{"Root", "Child"}, h.writer.Titles())
	for _, req := range h.web.Requests() {
		if req.URL == child {
			assert.Equal(t, "DOC", req.SpaceKey)
		}
	}
}
