// Package confluence reads pages and their children through the Confluence
// REST API with email and API token credentials.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

const maxResponseBytes = 32 << 20

// Config controls the REST client.
type Config struct {
	// BaseURL overrides the base derived from page URLs, e.g.
	// https://acme.atlassian.net/wiki.
	BaseURL    string        `mapstructure:"base_url"`
	ChildLimit int           `mapstructure:"child_limit"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"-"`
}

// Client implements crawler.ConfluenceAPI.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.ChildLimit <= 0 {
		cfg.ChildLimit = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

type links struct {
	WebUI string `json:"webui"`
	Base  string `json:"base"`
	Next  string `json:"next"`
}

type content struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Body struct {
		View struct {
			Value string `json:"value"`
		} `json:"view"`
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Links links `json:"_links"`
}

type childList struct {
	Results []content `json:"results"`
	Start   int       `json:"start"`
	Limit   int       `json:"limit"`
	Size    int       `json:"size"`
	Links   links     `json:"_links"`
}

// FetchPage loads one page with its rendered body. Requests the API cannot
// serve fail with crawler.ErrStrategyUnavailable.
func (c *Client) FetchPage(ctx context.Context, req crawler.FetchRequest) (crawler.RawFetchResult, error) {
	base, pageID, err := c.target(req)
	if err != nil {
		return crawler.RawFetchResult{}, err
	}
	query := url.Values{"expand": {"body.view,body.storage,space,version,ancestors"}}
	endpoint := base + "/rest/api/content/" + url.PathEscape(pageID) + "?" + query.Encode()

	var page content
	n, err := c.getJSON(ctx, endpoint, req, &page)
	if err != nil {
		return crawler.RawFetchResult{}, err
	}
	html := page.Body.View.Value
	if strings.TrimSpace(html) == "" {
		html = page.Body.Storage.Value
	}
	pageURL := webURL(base, page.Links, req.URL)
	c.logger.Debug("confluence page fetched",
		zap.String("page_id", pageID),
		zap.String("space", page.Space.Key),
		zap.String("title", page.Title),
	)
	return crawler.RawFetchResult{
		URL:         pageURL,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Bytes:       n,
		CleanedHTML: html,
		Title:       page.Title,
		SpaceKey:    page.Space.Key,
		PageID:      firstNonEmpty(page.ID, pageID),
	}, nil
}

// ChildPages lists the direct child pages, following pagination.
func (c *Client) ChildPages(ctx context.Context, req crawler.FetchRequest) ([]crawler.ChildPage, error) {
	base, pageID, err := c.target(req)
	if err != nil {
		return nil, err
	}
	var children []crawler.ChildPage
	for start := 0; ; {
		query := url.Values{
			"limit": {strconv.Itoa(c.cfg.ChildLimit)},
			"start": {strconv.Itoa(start)},
		}
		endpoint := base + "/rest/api/content/" + url.PathEscape(pageID) + "/child/page?" + query.Encode()
		var list childList
		if _, err := c.getJSON(ctx, endpoint, req, &list); err != nil {
			return nil, fmt.Errorf("list children of %s: %w", pageID, err)
		}
		for _, child := range list.Results {
			children = append(children, crawler.ChildPage{
				ID:    child.ID,
				Title: child.Title,
				URL:   webURL(base, child.Links, base+"/pages/viewpage.action?pageId="+url.QueryEscape(child.ID)),
			})
		}
		if len(list.Results) == 0 || list.Links.Next == "" {
			return children, nil
		}
		start += len(list.Results)
	}
}

// target resolves the API base and page ID for req.
func (c *Client) target(req crawler.FetchRequest) (string, string, error) {
	if !req.Strategy.Credentials.HasAPIToken() {
		return "", "", fmt.Errorf("confluence api token missing: %w", crawler.ErrStrategyUnavailable)
	}
	pageID := req.PageID
	if pageID == "" {
		pageID = crawler.ParseConfluenceURL(req.URL).PageID
	}
	if pageID == "" {
		return "", "", fmt.Errorf("no confluence page id in %s: %w", req.URL, crawler.ErrStrategyUnavailable)
	}
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if base == "" {
		derived, err := BaseURL(req.URL)
		if err != nil {
			return "", "", err
		}
		base = derived
	}
	return base, pageID, nil
}

// BaseURL derives the API base from a page URL: scheme and host, plus /wiki
// for Confluence Cloud style paths.
func BaseURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("derive confluence base from %q: %w", rawURL, crawler.ErrStrategyUnavailable)
	}
	base := u.Scheme + "://" + u.Host
	if u.Path == "/wiki" || strings.HasPrefix(u.Path, "/wiki/") {
		base += "/wiki"
	}
	return base, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, req crawler.FetchRequest, out any) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("new confluence request: %w", err)
	}
	creds := req.Strategy.Credentials
	httpReq.SetBasicAuth(creds.Email, creds.APIToken)
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, &crawler.FetchError{URL: endpoint, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close confluence response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return 0, crawler.StatusError(endpoint, httpReq.URL.Hostname(), resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, &crawler.FetchError{URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return 0, fmt.Errorf("decode confluence response: %w", err)
	}
	return int64(len(body)), nil
}

// webURL builds the browser URL of a page, falling back to fallback when the
// API did not return one.
func webURL(base string, l links, fallback string) string {
	if l.WebUI == "" {
		return fallback
	}
	if l.Base != "" {
		base = strings.TrimRight(l.Base, "/")
	}
	return base + "/" + strings.TrimLeft(l.WebUI, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
