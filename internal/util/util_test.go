package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/unburden/solvency/internal/model"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:3128", "http://secure-proxy:3129", "localhost, .internal.example, 10.0.0.1:8080")

	tests := []struct {
		url  string
		want string
	}{
		{"http://bls.gov/cpi", "http://proxy:3128"},
		{"https://bls.gov/cpi", "http://secure-proxy:3129"},
		{"http://localhost:8080/x", ""},
		{"https://api.internal.example/x", ""},
		{"http://10.0.0.1/x", ""},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.url)
		got, err := proxy(&http.Request{URL: u})
		if err != nil {
			t.Fatalf("proxy(%s) error: %v", tt.url, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.url, gotStr, tt.want)
		}
	}
}

func TestNewHTTPClient_LimitsRedirects(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	client := NewHTTPClient(model.HTTPConfig{Timeout: 2 * time.Second})
	resp, err := client.Get(server.URL + "/")
	if err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected redirect loop to be stopped")
	}
}

func TestRobotsChecker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: Solvency\nDisallow: /private\nCrawl-delay: 1\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewRobotsChecker(server.Client(), "Solvency/0.3 (+https://github.com/unburden/solvency)")
	ctx := context.Background()

	if !checker.IsAllowed(ctx, server.URL+"/public/page") {
		t.Error("expected public path to be allowed")
	}
	allowed, delay, err := checker.CanFetch(ctx, server.URL+"/private/report")
	if err != nil {
		t.Fatalf("CanFetch failed: %v", err)
	}
	if allowed {
		t.Error("expected private path to be disallowed")
	}
	if delay != time.Second {
		t.Errorf("expected 1s crawl delay, got %v", delay)
	}
}

func TestRobotsChecker_MissingRobotsAllows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	checker := NewRobotsChecker(server.Client(), "Solvency/0.3")
	if !checker.IsAllowed(context.Background(), server.URL+"/anything") {
		t.Error("expected missing robots.txt to allow everything")
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	if got := NormalizeUserAgent("Solvency/0.3 (+https://github.com/unburden/solvency)"); got != "Solvency" {
		t.Errorf("unexpected agent %q", got)
	}
	if got := NormalizeUserAgent(""); got != "" {
		t.Errorf("expected empty agent, got %q", got)
	}
}
