// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/markdown-crawler/internal/api"
	"github.com/JakeFAU/markdown-crawler/internal/auth"
	"github.com/JakeFAU/markdown-crawler/internal/confluence"
	"github.com/JakeFAU/markdown-crawler/internal/crawler"
	"github.com/JakeFAU/markdown-crawler/internal/logging"
	"github.com/JakeFAU/markdown-crawler/internal/output"
	"github.com/JakeFAU/markdown-crawler/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. MDCRAWLER_CRAWL_DEPTH=2.
const EnvPrefix = "MDCRAWLER"

// Config captures every knob of a crawl invocation.
type Config struct {
	Crawl      CrawlConfig         `mapstructure:"crawl"`
	Crawler    CrawlerConfig       `mapstructure:"crawler"`
	Retry      RetryConfig         `mapstructure:"retry"`
	Output     output.WriterConfig `mapstructure:"output"`
	Extract    ExtractConfig       `mapstructure:"extract"`
	Confluence confluence.Config   `mapstructure:"confluence"`
	Auth       AuthConfig          `mapstructure:"auth"`
	Logging    logging.Config      `mapstructure:"logging"`
	Metrics    MetricsConfig       `mapstructure:"metrics"`
	Mirror     MirrorConfig        `mapstructure:"mirror"`
	PubSub     PubSubConfig        `mapstructure:"pubsub"`
	DB         postgres.Config     `mapstructure:"db"`
	API        api.Config          `mapstructure:"api"`
}

// CrawlConfig describes the run itself.
type CrawlConfig struct {
	URL   string `mapstructure:"url"`
	Depth int    `mapstructure:"depth"`
	// Site is "generic" or "confluence"; Confluence forces the latter.
	Site       string `mapstructure:"site"`
	Confluence bool   `mapstructure:"confluence"`
	SpaceKey   string `mapstructure:"space_key"`
	PageID     string `mapstructure:"page_id"`
	Scope      string `mapstructure:"scope"`
	MaxPages   int    `mapstructure:"max_pages"`
}

// CrawlerConfig governs workers, politeness and timeouts.
type CrawlerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	UserAgent      string        `mapstructure:"user_agent"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	PageTimeout    time.Duration `mapstructure:"page_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// RetryConfig tunes transient fetch retries.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// ExtractConfig tunes the body fallback chain.
type ExtractConfig struct {
	MinEnhancedChars int `mapstructure:"min_enhanced_chars"`
}

// AuthConfig holds credentials. Username and Password come from the CLI and
// apply to the root URL's host.
type AuthConfig struct {
	RequiredHosts           []string     `mapstructure:"required_hosts"`
	Credentials             []auth.Entry `mapstructure:"credentials"`
	Username                string       `mapstructure:"username"`
	Password                string       `mapstructure:"password"`
	ConfluenceEmail         string       `mapstructure:"confluence_email"`
	ConfluenceAPIToken      string       `mapstructure:"confluence_api_token"`
	ConfluenceSessionCookie string       `mapstructure:"confluence_session_cookie"`
}

// MetricsConfig enables the /metrics endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// MirrorConfig selects where saved artifacts are copied.
type MirrorConfig struct {
	// Provider is one of none, local, gcs or memory.
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the run notification target.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"url":         "crawl.url",
	"depth":       "crawl.depth",
	"confluence":  "crawl.confluence",
	"space":       "crawl.space_key",
	"page-id":     "crawl.page_id",
	"scope":       "crawl.scope",
	"max-pages":   "crawl.max_pages",
	"output":      "output.root",
	"force":       "output.overwrite",
	"timeout":     "crawler.timeout_seconds",
	"concurrency": "crawler.concurrency",
	"username":    "auth.username",
	"password":    "auth.password",
	"verbose":     "logging.verbose",
	"metrics":     "metrics.listen_addr",
	"listen":      "api.listen_addr",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags present in flags (which may be nil).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if v.GetBool("logging.verbose") {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	cfg.Confluence.UserAgent = cfg.Crawler.UserAgent
	if cfg.Confluence.Timeout <= 0 {
		cfg.Confluence.Timeout = cfg.RequestTimeout()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.url", "")
	v.SetDefault("crawl.depth", 1)
	v.SetDefault("crawl.site", "generic")
	v.SetDefault("crawl.confluence", false)
	v.SetDefault("crawl.space_key", "")
	v.SetDefault("crawl.page_id", "")
	v.SetDefault("crawl.scope", string(crawler.ScopeDomain))
	v.SetDefault("crawl.max_pages", 0)

	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "mdcrawler/1.0 (+https://github.com/JakeFAU/markdown-crawler)")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.min_delay", "1s")
	v.SetDefault("crawler.page_timeout", "2m")
	v.SetDefault("crawler.run_timeout", "0s")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_body_bytes", 10<<20)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "10s")

	v.SetDefault("output.root", "./scraped_content")
	v.SetDefault("output.overwrite", false)

	v.SetDefault("extract.min_enhanced_chars", 50)

	v.SetDefault("confluence.base_url", "")
	v.SetDefault("confluence.child_limit", 50)
	v.SetDefault("confluence.timeout", "0s")

	v.SetDefault("auth.required_hosts", []string{})
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.verbose", false)

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("mirror.provider", "none")
	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.local_dir", "")
	v.SetDefault("mirror.prefix", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.request_timeout", "30s")
}

// bindEnv accepts the unprefixed Confluence variables the tool has always
// read, next to their prefixed spellings.
func bindEnv(v *viper.Viper) error {
	for key, env := range map[string]string{
		"auth.confluence_email":          "CONFLUENCE_EMAIL",
		"auth.confluence_api_token":      "CONFLUENCE_API_TOKEN",
		"auth.confluence_session_cookie": "CONFLUENCE_SESSION_COOKIE",
	} {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Depth < 0 {
		return fmt.Errorf("crawl.depth must be >= 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if _, err := crawler.ParseSiteKind(c.Crawl.Site); err != nil {
		return fmt.Errorf("crawl.site must be generic or confluence: %w", err)
	}
	if _, ok := crawler.ParseScopeMode(c.Crawl.Scope); !ok {
		return fmt.Errorf("crawl.scope must be domain or subpath")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MinDelay < 0 || c.Crawler.PageTimeout < 0 || c.Crawler.RunTimeout < 0 {
		return fmt.Errorf("crawler durations must be >= 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if strings.TrimSpace(c.Output.Root) == "" {
		return fmt.Errorf("output.root must be set")
	}
	if c.Extract.MinEnhancedChars < 0 {
		return fmt.Errorf("extract.min_enhanced_chars must be >= 0")
	}
	switch c.Mirror.Provider {
	case "", "none", "memory":
	case "gcs":
		if c.Mirror.GCSBucket == "" {
			return fmt.Errorf("mirror.gcs_bucket must be set when mirror.provider is gcs")
		}
	case "local":
		if c.Mirror.LocalDir == "" {
			return fmt.Errorf("mirror.local_dir must be set when mirror.provider is local")
		}
	default:
		return fmt.Errorf("mirror.provider must be one of none, local, gcs, memory")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.API.RequestTimeout < 0 {
		return fmt.Errorf("api.request_timeout must be >= 0")
	}
	return nil
}

// ValidateCrawl checks the settings only a crawl needs.
func (c Config) ValidateCrawl() error {
	raw := strings.TrimSpace(c.Crawl.URL)
	if raw == "" {
		return fmt.Errorf("crawl.url must be set")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawl.url must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

// SiteKind resolves the configured site variant.
func (c Config) SiteKind() crawler.SiteKind {
	if c.Crawl.Confluence {
		return crawler.SiteConfluence
	}
	kind, err := crawler.ParseSiteKind(c.Crawl.Site)
	if err != nil {
		return crawler.SiteGeneric
	}
	return kind
}

// ScopeMode resolves the configured link scope.
func (c Config) ScopeMode() crawler.ScopeMode {
	mode, ok := crawler.ParseScopeMode(c.Crawl.Scope)
	if !ok {
		return crawler.ScopeDomain
	}
	return mode
}

// RequestTimeout is the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// RunRequest builds the engine request for this configuration.
func (c Config) RunRequest() crawler.RunRequest {
	site := crawler.GenericSite()
	if c.SiteKind() == crawler.SiteConfluence {
		site = crawler.ConfluenceSite(c.Crawl.SpaceKey)
	}
	return crawler.RunRequest{
		RootURL:  strings.TrimSpace(c.Crawl.URL),
		MaxDepth: c.Crawl.Depth,
		Site:     site,
		PageID:   c.Crawl.PageID,
	}
}
