package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/offline-cache/offline-cache/internal/config"
)

func TestNewClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewClientRoutesThroughProxy(t *testing.T) {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{Proxy: "http://proxy.internal:3128"},
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	transport := client.Transport.(*http.Transport)
	req, _ := http.NewRequest(http.MethodGet, "https://app.example.com/", nil)
	proxyURL, err := transport.Proxy(req)
	if err != nil || proxyURL == nil || proxyURL.Host != "proxy.internal:3128" {
		t.Fatalf("expected proxy.internal:3128, got %v (%v)", proxyURL, err)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestHTTPFetcherReturnsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/css" {
			t.Errorf("request header not forwarded: %v", r.Header)
		}
		w.Header().Set("Content-Type", "text/css")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "body{}")
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.Client())
	snap, err := fetcher.Fetch(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/styles.css",
		Header: http.Header{"Accept": []string{"text/css"}, "Connection": []string{"close"}},
	})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if !snap.OK() || string(snap.Body) != "body{}" {
		t.Fatalf("unexpected snapshot: %d %q", snap.Status, snap.Body)
	}
	if snap.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("response header missing: %v", snap.Header)
	}
	if snap.StoredAt.IsZero() {
		t.Fatalf("snapshot should carry a timestamp")
	}
}

func TestHTTPFetcherNonOKIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	snap, err := NewHTTPFetcher(srv.Client()).Fetch(context.Background(), Request{URL: srv.URL + "/missing"})
	if err != nil {
		t.Fatalf("non-2xx should not be a transport error: %v", err)
	}
	if snap.OK() || snap.Status != http.StatusNotFound {
		t.Fatalf("expected 404 snapshot, got %d", snap.Status)
	}
}

func TestHTTPFetcherHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPFetcher(srv.Client()).Fetch(ctx, Request{URL: srv.URL})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
