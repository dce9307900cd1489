package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mangafetch/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(kit.GetRequestID(r.Context())))
	})
}

func newRouter(cfg StackConfig) *chi.Mux {
	cfg.Logger = slog.New(slog.DiscardHandler)
	r := chi.NewRouter()
	for _, mw := range DefaultStack(cfg) {
		r.Use(mw)
	}
	r.Get("/health", okHandler().ServeHTTP)
	r.Get("/scrape/{target}", okHandler().ServeHTTP)
	r.Post("/scrape", func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestDefaultStack_Headers(t *testing.T) {
	// WHAT: Responses carry the API security headers and a request ID.
	// WHY: Scrape results must never be sniffed, framed or cached by proxies.
	r := newRouter(StackConfig{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scrape/latest", nil))

	checks := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
	id := w.Header().Get(RequestIDHeader)
	if !strings.HasPrefix(id, "req_") {
		t.Fatalf("request id = %q", id)
	}
	if w.Body.String() != id {
		t.Fatalf("context request id %q != header %q", w.Body.String(), id)
	}
}

func TestRequestID_Inbound(t *testing.T) {
	// WHAT: A well-formed inbound request ID is kept; a malformed one is replaced.
	// WHY: Callers correlate their logs with ours, but headers are untrusted.
	r := newRouter(StackConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "caller-123" {
		t.Fatalf("inbound id dropped: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "bad id\n<script>")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); !strings.HasPrefix(got, "req_") {
		t.Fatalf("malformed id kept: %q", got)
	}
}

func TestHeadToGet(t *testing.T) {
	r := newRouter(StackConfig{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("HEAD /health = %d", w.Code)
	}
}

func TestMaxBody(t *testing.T) {
	r := newRouter(StackConfig{MaxBodyBytes: 16})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scrape", strings.NewReader(strings.Repeat("x", 64))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body = %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scrape", strings.NewReader(`{"target":"x"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("small body = %d", w.Code)
	}
}

func TestClientLimiter(t *testing.T) {
	// WHAT: A client over budget gets 429; other clients and excluded paths don't.
	// WHY: One noisy caller must not starve the shared source budgets.
	r := newRouter(StackConfig{ClientRequests: 2, ClientWindow: time.Hour, Exclude: []string{"/health"}})

	do := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip + ":5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	for i := 0; i < 2; i++ {
		if w := do("/scrape/latest", "10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	w := do("/scrape/latest", "10.0.0.1")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "3600" {
		t.Fatalf("over budget = %d retry-after %q", w.Code, w.Header().Get("Retry-After"))
	}
	if w := do("/scrape/latest", "10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("other client = %d", w.Code)
	}
	if w := do("/health", "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("excluded path = %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Fatalf("remote addr: %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("xff: %q", got)
	}
}
