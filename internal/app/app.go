// Package app wires configuration into a ready-to-run crawl engine and owns
// the long-lived services around it (progress hub, metrics endpoint, mirror
// store, run ledger and notification publisher).
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/api"
	"github.com/JakeFAU/markdown-crawler/internal/auth"
	"github.com/JakeFAU/markdown-crawler/internal/clock/system"
	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/confluence"
	"github.com/JakeFAU/markdown-crawler/internal/crawler"
	"github.com/JakeFAU/markdown-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/markdown-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/markdown-crawler/internal/id/uuid"
	"github.com/JakeFAU/markdown-crawler/internal/markdown"
	"github.com/JakeFAU/markdown-crawler/internal/metrics"
	"github.com/JakeFAU/markdown-crawler/internal/output"
	"github.com/JakeFAU/markdown-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/markdown-crawler/internal/policy/robots"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/markdown-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/markdown-crawler/internal/storage/gcs"
	"github.com/JakeFAU/markdown-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/markdown-crawler/internal/storage/memory"
	"github.com/JakeFAU/markdown-crawler/internal/storage/postgres"
	"github.com/JakeFAU/markdown-crawler/internal/store"
)

const publishTimeout = 10 * time.Second

// ErrNoLedger is returned by Runs when no database is configured.
var ErrNoLedger = errors.New("run ledger not configured (set db.dsn)")

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Ledger is the run repository plus its lifecycle.
type Ledger interface {
	store.RunRepository
	Close()
}

// Option overrides a service New would otherwise build from config.
type Option func(*options)

type options struct {
	fetcher    crawler.Fetcher
	confluence crawler.ConfluenceAPI
	mirror     crawler.BlobStore
	ledger     Ledger
	publisher  Publisher
	registerer prometheus.Registerer
	skipEngine bool
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithConfluence replaces the Confluence REST client.
func WithConfluence(c crawler.ConfluenceAPI) Option {
	return func(o *options) { o.confluence = c }
}

// WithMirror replaces the configured mirror store.
func WithMirror(m crawler.BlobStore) Option {
	return func(o *options) { o.mirror = m }
}

// WithLedger replaces the Postgres run ledger.
func WithLedger(l Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegisterer registers progress metrics on reg even without a metrics
// listener.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// LedgerOnly skips building the crawl engine, for commands that only read
// the run ledger.
func LedgerOnly() Option {
	return func(o *options) { o.skipEngine = true }
}

// App holds the services of one mdcrawler invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	engine    *crawler.Engine
	hub       *progress.Hub
	metrics   *metrics.Server
	ledger    Ledger
	publisher Publisher
	closers   []func() error
}

// New builds every configured service. Errors are configuration errors:
// nothing has been fetched yet.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if err := a.initLedger(ctx, o.ledger); err != nil {
		return nil, err
	}
	if o.skipEngine {
		return a, nil
	}
	if err := a.initPublisher(ctx, o.publisher); err != nil {
		return nil, err
	}
	mirror, err := a.initMirror(ctx, o.mirror)
	if err != nil {
		return nil, err
	}
	if err := a.initProgress(o.registerer); err != nil {
		return nil, err
	}
	if err := a.initEngine(o, mirror); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("output", cfg.Output.Root),
		zap.String("mirror", cfg.Mirror.Provider),
		zap.Bool("ledger", a.ledger != nil),
		zap.Bool("notify", a.publisher != nil && cfg.PubSub.Topic != ""),
		zap.String("metrics", cfg.Metrics.ListenAddr),
	)
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Crawl runs the configured crawl and announces the summary when a topic is
// configured. The summary is returned even when the run was interrupted.
func (a *App) Crawl(ctx context.Context) (crawler.CrawlSummary, error) {
	if a.engine == nil {
		return crawler.CrawlSummary{}, errors.New("crawl engine not initialized")
	}
	summary, err := a.engine.Run(ctx, a.cfg.RunRequest())
	if err != nil {
		return crawler.CrawlSummary{}, fmt.Errorf("run crawl: %w", err)
	}
	a.announce(ctx, summary)
	return summary, nil
}

func (a *App) announce(ctx context.Context, summary crawler.CrawlSummary) {
	if a.publisher == nil || a.cfg.PubSub.Topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := a.publisher.Publish(pubCtx, a.cfg.PubSub.Topic, summary)
	if err != nil {
		a.logger.Warn("publishing run summary failed", zap.String("topic", a.cfg.PubSub.Topic), zap.Error(err))
		return
	}
	a.logger.Info("run summary published", zap.String("topic", a.cfg.PubSub.Topic), zap.String("message_id", id))
}

// Runs lists recorded runs, newest first.
func (a *App) Runs(ctx context.Context, limit, offset int) ([]store.Run, error) {
	if a.ledger == nil {
		return nil, ErrNoLedger
	}
	runs, err := a.ledger.ListRuns(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Serve exposes the run ledger over HTTP on api.listen_addr until ctx is
// cancelled. Without a ledger the server still answers probes.
func (a *App) Serve(ctx context.Context) error {
	var repo store.RunRepository
	if a.ledger != nil {
		repo = a.ledger
	}
	srv := api.NewServer(repo, a.cfg.API, a.logger.Named("api"))
	return srv.Serve(ctx, a.cfg.API.ListenAddr)
}

// Close flushes progress events and shuts services down in reverse order of
// dependency. It is safe to call more than once.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("flushing progress events failed", zap.Error(err))
		}
		a.hub = nil
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("stopping metrics server failed", zap.Error(err))
		}
		a.metrics = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing service failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) initLedger(ctx context.Context, override Ledger) error {
	if override != nil {
		a.ledger = override
		return nil
	}
	if a.cfg.DB.DSN == "" {
		return nil
	}
	runStore, err := postgres.NewRunStore(ctx, a.cfg.DB)
	if err != nil {
		return fmt.Errorf("init run ledger: %w", err)
	}
	a.closers = append(a.closers, func() error { runStore.Close(); return nil })
	if err := runStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("init run ledger: %w", err)
	}
	a.ledger = runStore
	a.logger.Info("run ledger connected")
	return nil
}

func (a *App) initPublisher(ctx context.Context, override Publisher) error {
	if override != nil {
		a.publisher = override
		return nil
	}
	if a.cfg.PubSub.Topic == "" {
		return nil
	}
	pub, err := pubsubpublisher.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

func (a *App) initMirror(ctx context.Context, override crawler.BlobStore) (crawler.BlobStore, error) {
	if override != nil {
		return observedMirror{inner: override}, nil
	}
	var mirror crawler.BlobStore
	switch a.cfg.Mirror.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		mirror = memorystorage.NewBlobStore()
	case "local":
		localStore, err := local.New(local.Config{BaseDir: a.cfg.Mirror.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local mirror: %w", err)
		}
		mirror = localStore
	case "gcs":
		gcsStore, err := gcs.NewFromConfig(ctx, gcs.Config{
			Bucket: a.cfg.Mirror.GCSBucket,
			Prefix: a.cfg.Mirror.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		a.closers = append(a.closers, gcsStore.Close)
		mirror = gcsStore
	default:
		return nil, fmt.Errorf("unknown mirror provider %q", a.cfg.Mirror.Provider)
	}
	a.logger.Info("mirroring artifacts", zap.String("provider", a.cfg.Mirror.Provider))
	return observedMirror{inner: mirror}, nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	progressLogger := a.logger.Named("progress")
	list := []progress.Sink{sinks.NewLogSink(progressLogger)}

	if reg == nil && a.cfg.Metrics.ListenAddr != "" {
		reg = prometheus.DefaultRegisterer
	}
	if reg != nil {
		promSink, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("init prometheus sink: %w", err)
		}
		list = append(list, promSink)
	}
	if a.ledger != nil {
		list = append(list, sinks.NewStoreSink(a.ledger, progressLogger))
	}
	a.hub = progress.NewHub(progress.Config{Logger: progressLogger}, list...)

	if a.cfg.Metrics.ListenAddr != "" {
		srv, err := metrics.Start(a.cfg.Metrics.ListenAddr, a.logger.Named("metrics"))
		if err != nil {
			return fmt.Errorf("init metrics server: %w", err)
		}
		a.metrics = srv
	}
	return nil
}

func (a *App) initEngine(o options, mirror crawler.BlobStore) error {
	cfg := a.cfg
	writer, err := output.NewWriter(cfg.Output, a.logger.Named("output"))
	if err != nil {
		return fmt.Errorf("init output writer: %w", err)
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Crawler.UserAgent,
			Timeout:      cfg.RequestTimeout(),
			MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
		}, a.logger.Named("fetcher"))
	}

	confAPI := o.confluence
	if confAPI == nil && cfg.SiteKind() == crawler.SiteConfluence {
		confAPI = confluence.New(cfg.Confluence, nil, a.logger.Named("confluence"))
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	deps := crawler.Deps{
		Fetcher:     fetcher,
		Confluence:  confAPI,
		Selector:    auth.NewSelector(auth.SelectorConfig{RequiredHosts: cfg.Auth.RequiredHosts}),
		Extractor:   extract.New(extract.Config{MinEnhancedChars: cfg.Extract.MinEnhancedChars}, a.logger.Named("extract")),
		Normalizer:  markdown.NewPostprocessor(),
		Writer:      writer,
		Credentials: credentialStore(cfg),
		Robots: robots.New(robots.Config{
			Respect:   cfg.Crawler.RespectRobots,
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.RequestTimeout(),
		}, httpClient, a.logger.Named("robots")),
		Limiter: ratelimit.New(ratelimit.Config{
			MinDelay: cfg.Crawler.MinDelay,
			OnDelay:  metrics.ObserveRateLimitDelay,
		}),
		Retry: crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		}),
		Clock:  system.New(),
		IDs:    uuid.New(),
		Mirror: mirror,
		Events: a.hub,
	}

	engine, err := crawler.NewEngine(crawler.Config{
		Concurrency: cfg.Crawler.Concurrency,
		PageTimeout: cfg.Crawler.PageTimeout,
		RunTimeout:  cfg.Crawler.RunTimeout,
		Scope:       cfg.ScopeMode(),
		MaxPages:    cfg.Crawl.MaxPages,
	}, deps, a.logger.Named("crawler"))
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	a.engine = engine
	return nil
}

// credentialStore puts the CLI username/password first so they win over
// config entries for the root host.
func credentialStore(cfg config.Config) *auth.Store {
	var entries []auth.Entry
	if cfg.Auth.Username != "" || cfg.Auth.Password != "" {
		entries = append(entries, auth.Entry{
			Host:     crawler.Hostname(cfg.Crawl.URL),
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
		})
	}
	entries = append(entries, cfg.Auth.Credentials...)
	return auth.NewStore(entries, crawler.Credentials{
		Email:         cfg.Auth.ConfluenceEmail,
		APIToken:      cfg.Auth.ConfluenceAPIToken,
		SessionCookie: cfg.Auth.ConfluenceSessionCookie,
	})
}

// observedMirror counts uploads for the metrics endpoint.
type observedMirror struct {
	inner crawler.BlobStore
}

func (m observedMirror) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	uri, err := m.inner.PutObject(ctx, path, contentType, data)
	metrics.ObserveMirrorUpload(err)
	return uri, err
}
