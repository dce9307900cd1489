// CLAUDE:SUMMARY Scraper configuration: network, cache, dedup, browser and source settings loaded from YAML with defaults.
package scrape

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mangafetch/cache"
	"github.com/hazyhaar/mangafetch/connectivity"
	"github.com/hazyhaar/mangafetch/dedup"
	"github.com/hazyhaar/mangafetch/extract"
	"github.com/hazyhaar/mangafetch/source"
)

// Config holds all scraper configuration.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Cache   CacheConfig   `yaml:"cache"`
	Dedup   DedupConfig   `yaml:"dedup"`
	Browser BrowserConfig `yaml:"browser"`

	// Sources are registered at startup. When SourcesDB is set they are
	// imported into it and the database becomes the source of truth.
	Sources       []*source.Source `yaml:"sources"`
	SourcesDB     string           `yaml:"sources_db"`
	WatchInterval time.Duration    `yaml:"watch_interval"`
}

// NetworkConfig controls fetching and per-source protection.
type NetworkConfig struct {
	Timeout          time.Duration            `yaml:"timeout"` // per attempt
	UserAgent        string                   `yaml:"user_agent"`
	MaxBodyBytes     int64                    `yaml:"max_body_bytes"`
	MaxConcurrent    int                      `yaml:"max_concurrent"`
	MaxPerSource     int                      `yaml:"max_per_source"`
	RateLimit        connectivity.RateLimit   `yaml:"rate_limit"`
	Retry            connectivity.RetryPolicy `yaml:"retry"`
	Breaker          BreakerConfig            `yaml:"breaker"`
	PlaceholderImage string                   `yaml:"placeholder_image"`
	// AllowPrivate disables the SSRF guard; only scheme and host are checked.
	AllowPrivate bool `yaml:"allow_private"`
}

// BreakerConfig sets the per-source circuit breaker.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CacheConfig controls the result cache. TTL is keyed by record kind.
type CacheConfig struct {
	MaxEntries    int                            `yaml:"max_entries"`
	TTL           map[extract.Kind]time.Duration `yaml:"ttl"`
	DefaultTTL    time.Duration                  `yaml:"default_ttl"`
	SweepInterval time.Duration                  `yaml:"sweep_interval"`
}

// DedupConfig selects the in-flight deduplication backend.
type DedupConfig struct {
	Backend     string        `yaml:"backend"` // "memory" or "redis"
	Window      time.Duration `yaml:"window"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
}

// BrowserConfig configures headless Chrome for browser and auto sources.
type BrowserConfig struct {
	RemoteURL        string        `yaml:"remote_url"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Settle           time.Duration `yaml:"settle"`
}

func (c *Config) defaults() {
	n := &c.Network
	if n.Timeout <= 0 {
		n.Timeout = 10 * time.Second
	}
	if n.UserAgent == "" {
		n.UserAgent = "Mozilla/5.0 (compatible; mangafetch/1.0)"
	}
	if n.MaxBodyBytes <= 0 {
		n.MaxBodyBytes = 10 << 20
	}
	if n.MaxConcurrent <= 0 {
		n.MaxConcurrent = 6
	}
	if n.MaxPerSource <= 0 {
		n.MaxPerSource = 2
	}
	if !n.RateLimit.Valid() {
		n.RateLimit = connectivity.RateLimit{Requests: 10, Window: time.Second}
	}
	def := connectivity.DefaultRetryPolicy()
	if n.Retry.MaxAttempts <= 0 {
		n.Retry.MaxAttempts = def.MaxAttempts
	}
	if n.Retry.BaseDelay <= 0 {
		n.Retry.BaseDelay = def.BaseDelay
	}
	if n.Retry.MaxDelay <= 0 {
		n.Retry.MaxDelay = def.MaxDelay
	}
	if n.Breaker.Threshold <= 0 {
		n.Breaker.Threshold = 5
	}
	if n.Breaker.ResetTimeout <= 0 {
		n.Breaker.ResetTimeout = 60 * time.Second
	}
	if n.PlaceholderImage == "" {
		n.PlaceholderImage = extract.DefaultPlaceholderImage
	}

	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = cache.DefaultMaxEntries
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = time.Minute
	}
	ttl := map[extract.Kind]time.Duration{
		extract.KindManga:   10 * time.Minute,
		extract.KindChapter: 30 * time.Minute,
		extract.KindPage:    time.Hour,
	}
	for k, v := range c.Cache.TTL {
		if v > 0 {
			ttl[k] = v
		}
	}
	c.Cache.TTL = ttl

	if c.Dedup.Backend == "" {
		c.Dedup.Backend = "memory"
	}
	if c.Dedup.Window <= 0 {
		c.Dedup.Window = dedup.DefaultWindow
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 2 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if c.Dedup.RedisAddr == "" {
			return fmt.Errorf("scrape: dedup backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("scrape: unknown dedup backend %q", c.Dedup.Backend)
	}
	return nil
}

// ttlFor returns the cache TTL for records of kind k.
func (c *Config) ttlFor(k extract.Kind) time.Duration {
	if d, ok := c.Cache.TTL[k]; ok {
		return d
	}
	return c.Cache.DefaultTTL
}

// LoadConfigFile reads a YAML config file. Defaults are applied by New.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scrape: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("scrape: parse config: %w", err)
	}
	return cfg, nil
}
