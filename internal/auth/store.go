package auth

import (
	"strings"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

// Entry is one configured credential set.
type Entry struct {
	Host          string `mapstructure:"host"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Email         string `mapstructure:"email"`
	APIToken      string `mapstructure:"api_token"`
	SessionCookie string `mapstructure:"session_cookie"`
}

func (e Entry) credentials() crawler.Credentials {
	return crawler.Credentials{
		Username:      e.Username,
		Password:      e.Password,
		Email:         e.Email,
		APIToken:      e.APIToken,
		SessionCookie: e.SessionCookie,
	}
}

// Store implements crawler.CredentialStore over config entries and
// process-wide defaults.
type Store struct {
	hosts    hostMatcher
	entries  map[string]crawler.Credentials
	defaults crawler.Credentials
}

// NewStore indexes entries by host pattern. Later entries for the same
// pattern fill fields earlier ones left empty.
func NewStore(entries []Entry, defaults crawler.Credentials) *Store {
	s := &Store{
		hosts:    newHostMatcher(),
		entries:  make(map[string]crawler.Credentials),
		defaults: defaults,
	}
	for _, e := range entries {
		pattern := strings.ToLower(strings.TrimSpace(e.Host))
		if pattern == "" {
			continue
		}
		s.hosts.add(pattern)
		s.entries[pattern] = merge(s.entries[pattern], e.credentials())
	}
	return s
}

// Get returns the credentials for host. Fields missing from the matching
// entry are taken from the defaults.
func (s *Store) Get(host string) (crawler.Credentials, bool) {
	var creds crawler.Credentials
	pattern, ok := s.hosts.match(host)
	if ok {
		creds = s.entries[pattern]
	}
	creds = merge(creds, s.defaults)
	return creds, ok || creds != (crawler.Credentials{})
}

func merge(primary, fallback crawler.Credentials) crawler.Credentials {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return crawler.Credentials{
		Username:      pick(primary.Username, fallback.Username),
		Password:      pick(primary.Password, fallback.Password),
		Email:         pick(primary.Email, fallback.Email),
		APIToken:      pick(primary.APIToken, fallback.APIToken),
		SessionCookie: pick(primary.SessionCookie, fallback.SessionCookie),
	}
}
