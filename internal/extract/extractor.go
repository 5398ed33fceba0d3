// Package extract resolves a title and a markdown body from whatever a fetch
// produced, trying progressively cruder sources until one yields content.
package extract

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

// DefaultMinEnhancedChars is the shortest main-content conversion accepted
// before falling back to the whole cleaned page.
const DefaultMinEnhancedChars = 50

// Config tunes the body chain.
type Config struct {
	MinEnhancedChars int
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	cfg    Config
	conv   *converter
	bodies []bodyStrategy
	titles []titleStrategy
	logger *zap.Logger
}

type bodyStrategy struct {
	name string
	fn   func(*source) (string, bool)
}

type titleStrategy func(*source) (string, bool)

// New constructs an Extractor with the default strategy order.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MinEnhancedChars <= 0 {
		cfg.MinEnhancedChars = DefaultMinEnhancedChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:    cfg,
		conv:   newConverter(),
		bodies: bodyStrategies(),
		titles: titleStrategies(),
		logger: logger,
	}
}

// source bundles one fetch result with lazily parsed HTML.
type source struct {
	res         crawler.RawFetchResult
	url         string
	conv        *converter
	minEnhanced int

	parsed bool
	doc    *goquery.Document
}

func (e *Extractor) newSource(res crawler.RawFetchResult, task crawler.CrawlTask) *source {
	src := &source{res: res, url: res.URL, conv: e.conv, minEnhanced: e.cfg.MinEnhancedChars}
	if src.url == "" {
		src.url = task.URL
	}
	return src
}

// document parses the richest HTML available, once.
func (s *source) document() *goquery.Document {
	if s.parsed {
		return s.doc
	}
	s.parsed = true
	for _, html := range []string{s.res.RawHTML, s.res.CleanedHTML, s.res.Extracted} {
		if strings.TrimSpace(html) == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err == nil {
			s.doc = doc
			break
		}
	}
	return s.doc
}

// Resolve picks the title and body for a page. It fails with
// *crawler.NoContentError when every body source is empty.
func (e *Extractor) Resolve(
	res crawler.RawFetchResult,
	task crawler.CrawlTask,
	crawledAt time.Time,
) (crawler.ResolvedPage, error) {
	src := e.newSource(res, task)
	title := e.title(src)

	for _, strategy := range e.bodies {
		body, ok := strategy.fn(src)
		if !ok {
			continue
		}
		site := task.Site
		if site.IsConfluence() && site.SpaceKey == "" {
			site.SpaceKey = res.SpaceKey
		}
		e.logger.Debug("body extracted",
			zap.String("url", src.url),
			zap.String("strategy", strategy.name),
			zap.Int("chars", utf8.RuneCountInString(body)),
		)
		return crawler.ResolvedPage{
			Title:      title,
			Body:       body,
			SourceURL:  src.url,
			CrawledAt:  crawledAt,
			Site:       site,
			Extraction: strategy.name,
		}, nil
	}
	return crawler.ResolvedPage{}, &crawler.NoContentError{
		URL:         src.url,
		ScriptShell: looksScriptRendered(src.res.RawHTML),
	}
}

// Title runs only the title chain. It never fails.
func (e *Extractor) Title(res crawler.RawFetchResult, task crawler.CrawlTask) string {
	return e.title(e.newSource(res, task))
}

func (e *Extractor) title(src *source) string {
	for _, strategy := range e.titles {
		if title, ok := strategy(src); ok {
			return title
		}
	}
	return "untitled"
}

func bodyStrategies() []bodyStrategy {
	return []bodyStrategy{
		{name: "markdown", fn: func(s *source) (string, bool) {
			return nonBlank(s.res.Markdown)
		}},
		{name: "main_content", fn: func(s *source) (string, bool) {
			body := s.conv.toMarkdown(s.res.Extracted)
			if utf8.RuneCountInString(body) <= s.minEnhanced {
				return "", false
			}
			return body, true
		}},
		{name: "cleaned_html", fn: func(s *source) (string, bool) {
			return nonBlank(s.conv.toMarkdown(s.res.CleanedHTML))
		}},
		{name: "raw_html", fn: func(s *source) (string, bool) {
			return nonBlank(s.conv.toMarkdown(s.res.RawHTML))
		}},
		{name: "plain_text", fn: func(s *source) (string, bool) {
			return nonBlank(s.res.PlainText)
		}},
	}
}

func nonBlank(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}
