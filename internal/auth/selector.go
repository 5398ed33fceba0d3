// Package auth decides how each page is fetched and where the credentials
// for a host come from.
package auth

import (
	"strings"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

// candidate is one strategy and the credential test that makes it usable.
type candidate struct {
	kind   crawler.StrategyKind
	usable func(crawler.Credentials) bool
}

// plan lists candidates in preference order. Chained plans keep every usable
// candidate as a fallback; the others stop at the first usable one.
type plan struct {
	candidates []candidate
	chained    bool
}

func always(crawler.Credentials) bool { return true }

var plans = map[crawler.SiteKind]plan{
	crawler.SiteGeneric: {
		candidates: []candidate{
			{kind: crawler.StrategyBasicAuth, usable: crawler.Credentials.HasBasic},
			{kind: crawler.StrategyAnonymous, usable: always},
		},
	},
	crawler.SiteConfluence: {
		candidates: []candidate{
			{kind: crawler.StrategyConfluenceAPI, usable: crawler.Credentials.HasAPIToken},
			{kind: crawler.StrategyConfluenceSession, usable: always},
		},
		chained: true,
	},
}

// SelectorConfig lists hosts that must never be fetched anonymously. Entries
// starting with "*." match any subdomain.
type SelectorConfig struct {
	RequiredHosts []string `mapstructure:"required_hosts"`
}

// Selector implements crawler.StrategySelector. It performs no I/O.
type Selector struct {
	required hostMatcher
}

// NewSelector builds a Selector.
func NewSelector(cfg SelectorConfig) *Selector {
	m := newHostMatcher()
	for _, host := range cfg.RequiredHosts {
		m.add(host)
	}
	return &Selector{required: m}
}

// Resolve returns the preferred strategy for rawURL with its fallbacks
// linked. Required hosts without usable credentials fail with
// *crawler.AuthenticationError.
func (s *Selector) Resolve(
	rawURL string,
	site crawler.Site,
	creds crawler.Credentials,
	found bool,
) (crawler.FetchStrategy, error) {
	host := crawler.Hostname(rawURL)
	if !found {
		creds = crawler.Credentials{}
	}
	if _, required := s.required.match(host); required && !hasAny(creds) {
		return crawler.FetchStrategy{}, &crawler.AuthenticationError{
			Host:   host,
			Reason: "credentials required but none configured",
		}
	}

	p, ok := plans[site.Kind]
	if !ok {
		p = plans[crawler.SiteGeneric]
	}
	var chain []crawler.FetchStrategy
	for _, c := range p.candidates {
		if !c.usable(creds) {
			continue
		}
		chain = append(chain, crawler.FetchStrategy{Kind: c.kind, Host: host, Credentials: creds})
		if !p.chained {
			break
		}
	}
	for i := len(chain) - 2; i >= 0; i-- {
		next := chain[i+1]
		chain[i].Fallback = &next
	}
	return chain[0], nil
}

func hasAny(c crawler.Credentials) bool {
	return c.HasBasic() || c.HasAPIToken() || c.HasSession()
}

// hostMatcher matches exact host names and "*.suffix" wildcards.
type hostMatcher struct {
	exact     map[string]string
	wildcards []string
}

func newHostMatcher() hostMatcher {
	return hostMatcher{exact: make(map[string]string)}
}

func (m *hostMatcher) add(pattern string) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	switch {
	case pattern == "":
	case strings.HasPrefix(pattern, "*."):
		m.wildcards = append(m.wildcards, pattern)
	default:
		m.exact[pattern] = pattern
	}
}

// match returns the most specific pattern covering host.
func (m hostMatcher) match(host string) (string, bool) {
	host = strings.ToLower(host)
	if host == "" {
		return "", false
	}
	if p, ok := m.exact[host]; ok {
		return p, true
	}
	best := ""
	for _, w := range m.wildcards {
		suffix := w[1:]
		if strings.HasSuffix(host, suffix) && len(w) > len(best) {
			best = w
		}
	}
	return best, best != ""
}
