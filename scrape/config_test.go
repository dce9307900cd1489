package scrape

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hazyhaar/mangafetch/extract"
	"github.com/hazyhaar/mangafetch/source"
)

const sampleConfig = `
network:
  timeout: 3s
  retry:
    max_attempts: 4
  breaker:
    threshold: 2
cache:
  ttl:
    page: 2h
dedup:
  backend: memory
sources:
  - id: mangaalpha
    base_url: https://alpha.test
    priority: 1
    endpoints:
      latest: {path: /latest, kind: manga}
    rules:
      manga:
        item: {primary: .card, fallback: article}
        fields:
          title: {primary: .title, fallback: h2}
`

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangafetch.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.defaults()

	n := cfg.Network
	if n.Timeout != 3*time.Second || n.Retry.MaxAttempts != 4 || n.Breaker.Threshold != 2 {
		t.Fatalf("network = %+v", n)
	}
	if n.Retry.BaseDelay != time.Second || n.Breaker.ResetTimeout != time.Minute || n.MaxPerSource != 2 {
		t.Fatalf("defaults not applied: %+v", n)
	}
	if cfg.ttlFor(extract.KindPage) != 2*time.Hour || cfg.ttlFor(extract.KindManga) != 10*time.Minute {
		t.Fatalf("ttl = %v", cfg.Cache.TTL)
	}
	if len(cfg.Sources) != 1 || !cfg.Sources[0].Active || cfg.Sources[0].Fetcher != source.FetcherHTTP {
		t.Fatalf("sources = %+v", cfg.Sources)
	}
	if err := cfg.Sources[0].Validate(); err != nil {
		t.Fatalf("source from yaml invalid: %v", err)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("network: [oops"), 0o644)
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNew_InvalidDedup(t *testing.T) {
	cfg := testConfig()
	cfg.Dedup.Backend = "etcd"
	if _, err := New(cfg); err == nil {
		t.Fatal("unknown dedup backend accepted")
	}
	cfg.Dedup.Backend = "redis"
	if _, err := New(cfg); err == nil {
		t.Fatal("redis backend without address accepted")
	}
}

func TestNew_InvalidSource(t *testing.T) {
	bad := testSource("alpha", 1, "ftp://alpha.test")
	if _, err := New(testConfig(bad)); err == nil {
		t.Fatal("invalid inline source accepted")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("manga", map[string]string{"id": "x", "lang": "en"}, "")
	b := Fingerprint("manga", map[string]string{"lang": "en", "id": "x"}, "")
	if a != b {
		t.Fatal("fingerprint depends on map order")
	}
	others := []string{
		Fingerprint("manga", map[string]string{"id": "y", "lang": "en"}, ""),
		Fingerprint("chapters", map[string]string{"id": "x", "lang": "en"}, ""),
		Fingerprint("manga", map[string]string{"id": "x", "lang": "en"}, "alpha"),
		Fingerprint("manga", nil, ""),
	}
	for i, o := range others {
		if o == a {
			t.Errorf("variant %d collides", i)
		}
	}
	if len(a) != 64 {
		t.Fatalf("len = %d", len(a))
	}
}

// WHAT: With a sources database, inline sources are imported and a later
// change to the database reaches the registry.
// WHY: The database is the source of truth for hot-reloaded sources.
func TestNew_SourcesDB(t *testing.T) {
	cfg := testConfig(testSource("alpha", 1, "https://alpha.test"), testSource("beta", 2, "https://beta.test"))
	cfg.SourcesDB = filepath.Join(t.TempDir(), "sources.db")
	s := newTestScraper(t, cfg, WithFetcher(source.FetcherHTTP, staticFetcher(cardsHTML)))

	if s.SourcesDB() == nil {
		t.Fatal("sources db not opened")
	}
	if got := len(s.Registry().List()); got != 2 {
		t.Fatalf("registry has %d sources", got)
	}

	ctx := context.Background()
	st := source.NewStore(s.SourcesDB())
	if err := st.SetActive(ctx, "alpha", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Registry().Reload(ctx, st); err != nil {
		t.Fatal(err)
	}
	res, err := s.Scrape(ctx, "latest", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != "beta" {
		t.Fatalf("deactivated source still used: %s", res.Source)
	}
}

// WHAT: The redis dedup backend rejects a request another replica holds.
// WHY: Several mangafetch processes share one in-flight set.
func TestNew_RedisDedup(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(testSource("alpha", 1, "https://alpha.test"))
	cfg.Dedup = DedupConfig{Backend: "redis", RedisAddr: mr.Addr(), RedisPrefix: "mf"}
	s := newTestScraper(t, cfg, WithFetcher(source.FetcherHTTP, staticFetcher(cardsHTML)))

	fp := Fingerprint("latest", nil, "")
	mr.Set("mf:"+fp, "other-replica")

	if _, err := s.Scrape(context.Background(), "latest", Options{}); !errors.Is(err, ErrDuplicateInFlight) {
		t.Fatalf("err = %v", err)
	}
	mr.Del("mf:" + fp)
	if _, err := s.Scrape(context.Background(), "latest", Options{}); err != nil {
		t.Fatal(err)
	}
}
