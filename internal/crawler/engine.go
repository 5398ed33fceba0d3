package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

const markdownContentType = "text/markdown; charset=utf-8"

// Config holds the orchestration knobs of an Engine.
type Config struct {
	Concurrency int
	PageTimeout time.Duration
	RunTimeout  time.Duration
	Scope       ScopeMode
	MaxPages    int
}

// Deps wires the collaborators of an Engine. Fetcher, Selector, Extractor,
// Normalizer and Writer are required; the rest fall back to permissive
// defaults.
type Deps struct {
	Fetcher    Fetcher
	Confluence ConfluenceAPI
	Selector   StrategySelector
	Extractor  Extractor
	Normalizer Normalizer
	Writer     PageWriter

	Credentials CredentialStore
	Robots      RobotsPolicy
	Limiter     Limiter
	Retry       RetryPolicy
	Clock       Clock
	IDs         IDGenerator
	Mirror      BlobStore
	Events      Emitter
}

// Engine drives a crawl run from the root URL to the summary.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewEngine validates deps and fills defaults.
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Selector == nil:
		return nil, errors.New("strategy selector is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Writer == nil:
		return nil, errors.New("page writer is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeDomain
	}
	if deps.Credentials == nil {
		deps.Credentials = noCredentials{}
	}
	if deps.Robots == nil {
		deps.Robots = allowAll{}
	}
	if deps.Limiter == nil {
		deps.Limiter = noLimit{}
	}
	if deps.Retry == nil {
		deps.Retry = NewExponentialRetryPolicy(RetryConfig{MaxRetries: 3})
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.IDs == nil {
		deps.IDs = uuidV7{}
	}
	if deps.Events == nil {
		deps.Events = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger}, nil
}

// run carries the per-invocation values workers need.
type run struct {
	id       [16]byte
	maxDepth int
	logger   *zap.Logger
	sess     *session
}

// Run crawls from req.RootURL and returns the summary. The only errors are
// configuration errors detected before the first fetch; page failures end up
// in the summary.
func (e *Engine) Run(ctx context.Context, req RunRequest) (CrawlSummary, error) {
	root, err := parseRoot(req.RootURL)
	if err != nil {
		return CrawlSummary{}, err
	}
	if req.MaxDepth < 0 {
		return CrawlSummary{}, fmt.Errorf("max depth must be >= 0: %w", ErrInvalidRoot)
	}
	runID, err := e.deps.IDs.NewRawID()
	if err != nil {
		return CrawlSummary{}, fmt.Errorf("generate run id: %w", err)
	}

	rootTask := CrawlTask{URL: root.String(), Site: req.Site, PageID: req.PageID}
	if req.Site.IsConfluence() {
		ref := ParseConfluenceURL(rootTask.URL)
		if rootTask.PageID == "" {
			rootTask.PageID = ref.PageID
		}
		if rootTask.Site.SpaceKey == "" {
			rootTask.Site.SpaceKey = ref.SpaceKey
		}
	}

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	r := &run{
		id:       progress.UUIDToBytes(runID),
		maxDepth: req.MaxDepth,
		logger: e.logger.With(
			zap.String("run_id", runID.String()),
			zap.String("root", rootTask.URL),
		),
	}
	started := e.deps.Clock.Now()
	sess := newSession(newScope(e.cfg.Scope, root), e.cfg.MaxPages, CrawlSummary{
		RunID:     runID.String(),
		RootURL:   rootTask.URL,
		StartedAt: started,
	})
	r.sess = sess
	if err := sess.seed(rootTask); err != nil {
		return CrawlSummary{}, fmt.Errorf("seed frontier: %w", ErrInvalidRoot)
	}
	stop := context.AfterFunc(ctx, sess.interrupt)
	defer stop()

	r.logger.Info("crawl started",
		zap.Int("max_depth", req.MaxDepth),
		zap.String("site", rootTask.Site.Kind.String()),
		zap.String("space", rootTask.Site.SpaceKey),
		zap.Int("workers", e.cfg.Concurrency),
	)
	e.emit(r, progress.Event{Stage: progress.StageRunStart, URL: rootTask.URL, TS: started})

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx, r, sess)
		}()
	}
	wg.Wait()

	summary := sess.finish(e.deps.Clock.Now(), ctx.Err() != nil)
	done := progress.Event{
		Stage: progress.StageRunDone,
		URL:   rootTask.URL,
		Dur:   summary.Duration(),
		Note:  fmt.Sprintf("saved=%d failed=%d", summary.Saved, summary.Failed),
	}
	if summary.Interrupted {
		done.ErrorKind = progress.KindInterrupted
	}
	e.emit(r, done)
	r.logger.Info("crawl finished",
		zap.Int("visited", summary.Visited),
		zap.Int("saved", summary.Saved),
		zap.Int("failed", summary.Failed),
		zap.Int("out_of_scope", summary.SkippedOutOfScope),
		zap.Int("skipped_robots", summary.SkippedRobots),
		zap.Int("abandoned", summary.Abandoned),
		zap.Int("unvisited", summary.Unvisited),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("elapsed", summary.Duration()),
	)
	return summary, nil
}

func parseRoot(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse root %q: %w", raw, ErrInvalidRoot)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("root %q must be http or https: %w", raw, ErrInvalidRoot)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("root %q has no host: %w", raw, ErrInvalidRoot)
	}
	u.Fragment = ""
	return u, nil
}

func (e *Engine) work(ctx context.Context, r *run, sess *session) {
	for {
		task, ok := sess.next()
		if !ok {
			return
		}
		sess.complete(task, e.process(ctx, r, task))
	}
}

// process runs one task through select, fetch, extract, normalize and save.
func (e *Engine) process(ctx context.Context, r *run, task CrawlTask) outcome {
	if ctx.Err() != nil {
		return outcome{abandoned: true}
	}
	pageCtx := ctx
	if e.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, e.cfg.PageTimeout)
		defer cancel()
	}
	host := Hostname(task.URL)
	logger := r.logger.With(zap.String("url", task.URL), zap.Int("depth", task.Depth))

	if !task.Site.IsConfluence() && !e.deps.Robots.Allowed(pageCtx, task.URL) {
		logger.Info("skipping page disallowed by robots.txt")
		e.emit(r, progress.Event{
			Stage: progress.StagePageSkip,
			Site:  host,
			URL:   task.URL,
			Depth: task.Depth,
			Note:  "robots",
		})
		return outcome{skippedRobots: true}
	}

	creds, found := e.deps.Credentials.Get(host)
	strategy, err := e.deps.Selector.Resolve(task.URL, task.Site, creds, found)
	if err != nil {
		return e.fail(r, logger, task, err)
	}

	res, used, err := e.fetchWithFallback(pageCtx, r, logger, task, strategy)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{abandoned: true}
		}
		return e.fail(r, logger, task, err)
	}
	if out, skip := e.admit(r, logger, task, res); skip {
		return out
	}

	page, err := e.deps.Extractor.Resolve(res, task, e.deps.Clock.Now())
	if err != nil {
		return e.fail(r, logger, task, err)
	}
	page.Body = e.deps.Normalizer.Normalize(page.Body, page.SourceURL)

	saved, err := e.deps.Writer.Save(ctx, page)
	if err != nil {
		return e.fail(r, logger, task, &writeError{err: err})
	}
	if saved.Disambiguated {
		logger.Debug("output name collision resolved", zap.String("path", saved.Path))
	}
	e.mirror(ctx, logger, saved)

	logger.Info("page saved",
		zap.String("title", page.Title),
		zap.String("path", saved.Path),
		zap.String("extraction", page.Extraction),
		zap.String("strategy", used.Kind.String()),
	)
	e.emit(r, progress.Event{
		Stage:  progress.StagePageSaved,
		Site:   host,
		URL:    task.URL,
		Depth:  task.Depth,
		Bytes:  saved.Bytes,
		Path:   saved.Path,
		Digest: saved.Digest,
		Note:   page.Extraction,
	})

	out := outcome{saved: &saved}
	if task.Depth < r.maxDepth {
		out.children = e.discover(pageCtx, logger, task, res, used)
	}
	return out
}

// admit checks what a fetch actually returned before anything is written. A
// redirect that left the scope is skipped as out of scope. Keys only known
// after the fetch are claimed so that a page reached under a second identity
// is counted as a duplicate instead of being saved twice.
func (e *Engine) admit(r *run, logger *zap.Logger, task CrawlTask, res RawFetchResult) (outcome, bool) {
	skip := func(note string) {
		e.emit(r, progress.Event{
			Stage: progress.StagePageSkip,
			Site:  Hostname(task.URL),
			URL:   task.URL,
			Depth: task.Depth,
			Note:  note,
		})
	}

	var learned []CrawlTask
	if landed := res.URL; landed != "" && landed != task.URL {
		generic := !task.Site.IsConfluence()
		if (generic || Hostname(landed) != Hostname(task.URL)) && !r.sess.inScope(landed) {
			logger.Info("skipping redirect out of scope", zap.String("final_url", landed))
			skip("redirect_out_of_scope")
			return outcome{redirectedOut: landed}, true
		}
		if generic {
			learned = append(learned, CrawlTask{URL: landed, Site: task.Site})
		}
	}
	if task.Site.IsConfluence() {
		site := task.Site
		if site.SpaceKey == "" {
			site.SpaceKey = res.SpaceKey
		}
		pageID := task.PageID
		if pageID == "" {
			pageID = res.PageID
		}
		if site.SpaceKey != "" && pageID != "" {
			learned = append(learned, CrawlTask{URL: task.URL, Site: site, PageID: pageID})
		}
	}

	own, _ := KeyFor(task)
	var keys []VisitedKey
	for _, t := range learned {
		key, err := KeyFor(t)
		if err != nil || key == own {
			continue
		}
		keys = append(keys, key)
	}
	if !r.sess.claim(keys) {
		logger.Info("page already visited under another address", zap.String("final_url", res.URL))
		skip("duplicate")
		return outcome{duplicate: true}, true
	}
	return outcome{}, false
}

func (e *Engine) fail(r *run, logger *zap.Logger, task CrawlTask, err error) outcome {
	kind := KindOf(err)
	logger.Warn("page failed", zap.String("kind", string(kind)), zap.Error(err))
	e.emit(r, progress.Event{
		Stage:     progress.StagePageFailed,
		Site:      Hostname(task.URL),
		URL:       task.URL,
		Depth:     task.Depth,
		ErrorKind: string(kind),
		Note:      err.Error(),
	})
	return outcome{failure: &PageFailure{URL: task.URL, Kind: kind, Message: err.Error()}}
}

// fetchWithFallback walks the strategy chain until one succeeds or fails for
// a reason other than authentication or unavailability.
func (e *Engine) fetchWithFallback(
	ctx context.Context,
	r *run,
	logger *zap.Logger,
	task CrawlTask,
	strategy FetchStrategy,
) (RawFetchResult, FetchStrategy, error) {
	current := strategy
	for {
		res, err := e.fetchWithRetry(ctx, r, logger, task, current)
		if err == nil {
			return res, current, nil
		}
		if current.Fallback == nil || !canFallBack(err) {
			return RawFetchResult{}, current, err
		}
		logger.Info("fetch strategy refused, falling back",
			zap.String("from", current.Kind.String()),
			zap.String("to", current.Fallback.Kind.String()),
			zap.Error(err),
		)
		current = *current.Fallback
	}
}

func canFallBack(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr) || errors.Is(err, ErrStrategyUnavailable)
}

func (e *Engine) fetchWithRetry(
	ctx context.Context,
	r *run,
	logger *zap.Logger,
	task CrawlTask,
	strategy FetchStrategy,
) (RawFetchResult, error) {
	host := Hostname(task.URL)
	for attempt := 0; ; attempt++ {
		if err := e.deps.Limiter.Wait(ctx, task.URL); err != nil {
			return RawFetchResult{}, &FetchError{URL: task.URL, Err: err}
		}
		e.emit(r, progress.Event{
			Stage:   progress.StageFetchAttempt,
			Site:    host,
			URL:     task.URL,
			Depth:   task.Depth,
			Attempt: attempt,
			Note:    strategy.Kind.String(),
		})
		start := time.Now()
		res, err := e.fetchOnce(ctx, task, strategy)
		e.emit(r, progress.Event{
			Stage:       progress.StageFetchDone,
			Site:        host,
			URL:         task.URL,
			Depth:       task.Depth,
			Attempt:     attempt,
			StatusClass: progress.ClassifyStatus(statusOf(res, err)),
			Bytes:       res.Bytes,
			Dur:         time.Since(start),
		})
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !e.deps.Retry.ShouldRetry(err, attempt) {
			return RawFetchResult{}, err
		}
		delay := e.deps.Retry.Backoff(attempt)
		logger.Warn("fetch failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		e.emit(r, progress.Event{
			Stage:   progress.StageFetchRetry,
			Site:    host,
			URL:     task.URL,
			Depth:   task.Depth,
			Attempt: attempt + 1,
			Dur:     delay,
			Note:    err.Error(),
		})
		if err := sleepWithContext(ctx, delay); err != nil {
			return RawFetchResult{}, &FetchError{URL: task.URL, Err: err}
		}
	}
}

func (e *Engine) fetchOnce(ctx context.Context, task CrawlTask, strategy FetchStrategy) (RawFetchResult, error) {
	req := FetchRequest{
		URL:      task.URL,
		PageID:   task.PageID,
		SpaceKey: task.Site.SpaceKey,
		Strategy: strategy,
	}
	if strategy.Kind == StrategyConfluenceAPI {
		if e.deps.Confluence == nil {
			return RawFetchResult{}, fmt.Errorf("confluence api client not configured: %w", ErrStrategyUnavailable)
		}
		res, err := e.deps.Confluence.FetchPage(ctx, req)
		if err != nil {
			return RawFetchResult{}, fmt.Errorf("confluence api fetch: %w", err)
		}
		return res, nil
	}
	res, err := e.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return RawFetchResult{}, fmt.Errorf("html fetch: %w", err)
	}
	return res, nil
}

func statusOf(res RawFetchResult, err error) int {
	if err == nil {
		return res.StatusCode
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.StatusCode
	}
	return 0
}

// discover turns the links of a fetched page into child tasks. Confluence
// pages served by the API expand through the child-page endpoint instead of
// scraped links.
func (e *Engine) discover(
	ctx context.Context,
	logger *zap.Logger,
	task CrawlTask,
	res RawFetchResult,
	used FetchStrategy,
) []CrawlTask {
	site := task.Site
	if site.IsConfluence() && site.SpaceKey == "" {
		site.SpaceKey = res.SpaceKey
	}
	child := func(rawURL, pageID string) CrawlTask {
		return CrawlTask{
			URL:       rawURL,
			Depth:     task.Depth + 1,
			ParentURL: task.URL,
			Site:      site,
			PageID:    pageID,
		}
	}

	if !site.IsConfluence() {
		tasks := make([]CrawlTask, 0, len(res.Links))
		for _, link := range res.Links {
			tasks = append(tasks, child(link, ""))
		}
		return tasks
	}

	if used.Kind == StrategyConfluenceAPI && e.deps.Confluence != nil {
		pageID := task.PageID
		if pageID == "" {
			pageID = res.PageID
		}
		children, err := e.deps.Confluence.ChildPages(ctx, FetchRequest{
			URL:      task.URL,
			PageID:   pageID,
			SpaceKey: site.SpaceKey,
			Strategy: used,
		})
		if err != nil {
			logger.Warn("listing confluence child pages failed", zap.Error(err))
			return nil
		}
		tasks := make([]CrawlTask, 0, len(children))
		for _, c := range children {
			tasks = append(tasks, child(c.URL, c.ID))
		}
		return tasks
	}

	var tasks []CrawlTask
	for _, link := range res.Links {
		ref := ParseConfluenceURL(link)
		if !ref.IsConfluencePage() {
			continue
		}
		if site.SpaceKey != "" && ref.SpaceKey != "" && !strings.EqualFold(ref.SpaceKey, site.SpaceKey) {
			continue
		}
		tasks = append(tasks, child(link, ref.PageID))
	}
	return tasks
}

func (e *Engine) mirror(ctx context.Context, logger *zap.Logger, saved SavedFile) {
	if e.deps.Mirror == nil {
		return
	}
	uri, err := e.deps.Mirror.PutObject(ctx, saved.RelPath, markdownContentType, bytes.NewReader(saved.Content))
	if err != nil {
		logger.Warn("mirror upload failed", zap.String("object", saved.RelPath), zap.Error(err))
		return
	}
	logger.Debug("mirrored page", zap.String("uri", uri))
}

func (e *Engine) emit(r *run, evt progress.Event) {
	evt.RunID = r.id
	if evt.TS.IsZero() {
		evt.TS = e.deps.Clock.Now()
	}
	e.deps.Events.Emit(evt)
}

type noCredentials struct{}

func (noCredentials) Get(string) (Credentials, bool) { return Credentials{}, false }

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }

type noLimit struct{}

func (noLimit) Wait(context.Context, string) error { return nil }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

type uuidV7 struct{}

func (uuidV7) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
