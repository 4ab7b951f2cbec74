package whttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/trend_by_year" || r.URL.Query().Get("year") != "2015" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "alice" || p != "secret" {
			t.Errorf("missing basic auth")
		}
		w.Write([]byte(`{"results":{"bindings":[]}}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/", RetryMax: -1, Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := c.Fetch(context.Background(), "/api/trend_by_year", url.Values{"year": {"2015"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"results":{"bindings":[]}}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFetchNon2xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, RetryMax: 3})
	_, err := c.Fetch(context.Background(), "/api/boroughs", nil)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if ne.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", ne.StatusCode)
	}
	// 4xx is not retried.
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected a single attempt, got %d", hits)
	}
}

func TestFetchRetries5xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, RetryMax: 2})
	body, err := c.Fetch(context.Background(), "/api/boroughs", nil)
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if string(body) != `{}` || atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected success on second attempt, body %q hits %d", body, hits)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, _ := New(Config{BaseURL: base, RetryMax: -1})
	_, err := c.Fetch(context.Background(), "/api/boroughs", nil)
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.StatusCode != 0 || ne.Err == nil {
		t.Fatalf("expected transport NetworkError, got %#v", err)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "://bad"} {
		if _, err := New(Config{BaseURL: u}); err == nil {
			t.Fatalf("expected error for %q", u)
		}
	}
}

func TestURL(t *testing.T) {
	c, _ := New(Config{BaseURL: "http://localhost:8000/backend/"})
	got := c.URL("/api/events", url.Values{"year": {"2015"}, "limit": {"10"}})
	if got != "http://localhost:8000/backend/api/events?limit=10&year=2015" {
		t.Fatalf("unexpected URL %s", got)
	}
}
