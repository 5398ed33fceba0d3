package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnforcerAllowed(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n\nUser-agent: greedy\nDisallow: /\n"))
	}))
	defer srv.Close()

	r := New(Config{Respect: true, UserAgent: "mdcrawler"}, srv.Client(), nil)
	ctx := context.Background()
	assert.True(t, r.Allowed(ctx, srv.URL+"/docs/intro"))
	assert.False(t, r.Allowed(ctx, srv.URL+"/private/notes"))
	assert.True(t, r.Allowed(ctx, srv.URL))
	assert.Equal(t, int32(1), hits.Load())

	greedy := New(Config{Respect: true, UserAgent: "greedy"}, srv.Client(), nil)
	assert.False(t, greedy.Allowed(ctx, srv.URL+"/docs/intro"))
}

func TestEnforcerMissingRobotsAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := New(Config{Respect: true, UserAgent: "mdcrawler"}, srv.Client(), nil)
	assert.True(t, r.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestEnforcerUnreachableAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	r := New(Config{Respect: true}, nil, nil)
	assert.True(t, r.Allowed(context.Background(), addr+"/page"))
}

func TestEnforcerDisabled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer srv.Close()

	r := New(Config{Respect: false}, srv.Client(), nil)
	assert.True(t, r.Allowed(context.Background(), srv.URL+"/page"))

	var nilEnforcer *Enforcer
	assert.True(t, nilEnforcer.Allowed(context.Background(), srv.URL+"/page"))
}
