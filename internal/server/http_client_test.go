package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/image-cache/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientDefaultsTimeout(t *testing.T) {
	if client := NewUpstreamClient(nil); client.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", client.Timeout)
	}
}

func TestUpstreamClientSetsUserAgent(t *testing.T) {
	var got []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
	}))
	defer upstream.Close()

	client := NewUpstreamClient(nil)
	resp, err := client.Get(upstream.URL + "/a.png")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, upstream.URL+"/b.png", nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if !strings.HasPrefix(got[0], "image-cache/") {
		t.Fatalf("default user agent missing: %q", got[0])
	}
	if got[1] != "custom/1.0" {
		t.Fatalf("explicit user agent should be kept: %q", got[1])
	}
}
