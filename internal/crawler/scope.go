package crawler

import (
	"net"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ScopeMode decides which discovered links belong to the crawl.
type ScopeMode string

// Supported scope modes.
const (
	ScopeDomain  ScopeMode = "domain"
	ScopeSubpath ScopeMode = "subpath"
)

// ParseScopeMode maps a config value onto a ScopeMode.
func ParseScopeMode(raw string) (ScopeMode, bool) {
	switch ScopeMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeDomain:
		return ScopeDomain, true
	case ScopeSubpath:
		return ScopeSubpath, true
	default:
		return "", false
	}
}

// scope is fixed at the start of a run from the root URL.
type scope struct {
	mode       ScopeMode
	rootHost   string
	rootDomain string
	rootPrefix string
}

func newScope(mode ScopeMode, root *url.URL) scope {
	host := strings.ToLower(root.Hostname())
	prefix := root.Path
	if prefix == "" {
		prefix = "/"
	}
	if !strings.HasSuffix(prefix, "/") && strings.Contains(path.Base(prefix), ".") {
		prefix = path.Dir(prefix)
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return scope{
		mode:       mode,
		rootHost:   host,
		rootDomain: registrableDomain(host),
		rootPrefix: prefix,
	}
}

// contains reports whether rawURL may be enqueued.
func (s scope) contains(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if s.mode == ScopeSubpath {
		if host != s.rootHost {
			return false
		}
		p := u.Path
		if p == "" {
			p = "/"
		}
		return strings.HasPrefix(p, s.rootPrefix) || p+"/" == s.rootPrefix
	}
	return registrableDomain(host) == s.rootDomain
}

// registrableDomain returns the eTLD+1 of host, or host itself for IPs,
// single-label hosts and anything else without a public suffix.
func registrableDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
