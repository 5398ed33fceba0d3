// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps the downloaded body; 0 keeps colly's default.
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. robots.txt is enforced by the crawl engine, so the
// collector ignores it.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Fetcher{cfg: cfg, baseCollector: c, logger: logger}
}

// Fetch executes a single HTTP GET with the credentials of req.Strategy.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.RawFetchResult, error) {
	var (
		result   crawler.RawFetchResult
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, req, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return crawler.RawFetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	req crawler.FetchRequest,
	result *crawler.RawFetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		applyStrategy(req.Strategy, r.Headers)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,text/markdown;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	})

	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = buildResult(r.Request.URL, r.StatusCode, contentType, r.Body)
		f.logger.Debug("page fetched",
			zap.String("url", result.URL),
			zap.Int("status", r.StatusCode),
			zap.Int64("bytes", result.Bytes),
		)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && r.Request != nil {
			u := r.Request.URL
			*fetchErr = crawler.StatusError(u.String(), u.Hostname(), r.StatusCode)
			return
		}
		*fetchErr = &crawler.FetchError{URL: req.URL, Err: err}
	})
}

// applyStrategy adds the authentication headers of strategy.
func applyStrategy(strategy crawler.FetchStrategy, headers *http.Header) {
	creds := strategy.Credentials
	switch strategy.Kind {
	case crawler.StrategyBasicAuth:
		setBasic(headers, creds.Username, creds.Password)
	case crawler.StrategyConfluenceSession:
		if creds.HasSession() {
			headers.Set("Cookie", creds.SessionCookie)
		}
		if creds.HasBasic() {
			setBasic(headers, creds.Username, creds.Password)
		}
	}
}

func setBasic(headers *http.Header, user, pass string) {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	headers.Set("Authorization", "Basic "+token)
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &crawler.FetchError{URL: url, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			var fe *crawler.FetchError
			if errors.As(err, &fe) {
				return err
			}
			return &crawler.FetchError{URL: url, Err: fmt.Errorf("colly visit failed: %w", err)}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
