// Package robots enforces robots.txt directives per host.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// Config controls robots.txt handling.
type Config struct {
	Respect   bool
	UserAgent string
	Timeout   time.Duration
}

// Enforcer implements crawler.RobotsPolicy. Each host's robots.txt is
// fetched once per Enforcer.
type Enforcer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*entry
}

type entry struct {
	once sync.Once
	data *robotstxt.RobotsData
	err  error
}

// New builds an Enforcer. A nil client gets one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Enforcer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{cfg: cfg, client: client, logger: logger, cache: make(map[string]*entry)}
}

// Allowed reports whether rawURL may be fetched. Unreachable robots.txt files
// allow access.
func (r *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil || !r.cfg.Respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.cfg.UserAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return group.Test(target)
}

func (r *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	r.mu.Lock()
	e, ok := r.cache[hostKey]
	if !ok {
		e = &entry{}
		r.cache[hostKey] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.data, e.err = r.fetch(ctx, parsed)
	})
	return e.data, e.err
}

func (r *Enforcer) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
