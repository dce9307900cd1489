package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/mangafetch/scrape"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"id=one-piece", "q=a=b"})
	if err != nil {
		t.Fatal(err)
	}
	if got["id"] != "one-piece" || got["q"] != "a=b" {
		t.Fatalf("params = %v", got)
	}
	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
	if m, _ := parseParams(nil); m != nil {
		t.Fatal("no params should give nil")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	// WHAT: The shipped example config parses and builds a scraper.
	// WHY: It is the operator's starting point; it must not rot.
	cfg, err := scrape.LoadConfigFile(filepath.Join("..", "..", "configs", "mangafetch.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.SourcesDB = filepath.Join(t.TempDir(), "sources.db")
	s, err := scrape.New(*cfg, scrape.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if len(s.Registry().List()) == 0 {
		t.Fatal("example config has no sources")
	}
}

func TestRouter_ShieldAndHealth(t *testing.T) {
	// WHAT: The served router wears the shield stack and answers liveness.
	// WHY: Without shield, no request ID or security headers reach clients.
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("sources: []\n"), 0o644)
	configPath = path
	s, err := openScraper()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h := newRouter(s, newMCPServer(s), slog.New(slog.DiscardHandler))
	for _, p := range []string{"/healthz", "/health", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d", p, w.Code)
		}
		if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: shield headers missing", p)
		}
	}
}
