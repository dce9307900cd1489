package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/mangafetch/horosafe"
)

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	Timeout  time.Duration // client-level cap. Default: 30s.
	MaxBytes int64         // max response body. Default: 10MB.
	// UserAgent sent with every request.
	UserAgent string
	// URLValidator runs before the request and on every redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
	MaxRedirects int // Default: 5.
	Logger       *slog.Logger
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "mangafetch/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// HTTP fetches documents with a plain GET.
type HTTP struct {
	client *resty.Client
	cfg    HTTPConfig
}

// NewHTTP creates an HTTP fetcher with SSRF checks on redirects.
func NewHTTP(cfg HTTPConfig) *HTTP {
	cfg.defaults()
	validate := cfg.URLValidator
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetRedirectPolicy(
			resty.FlexibleRedirectPolicy(cfg.MaxRedirects),
			resty.RedirectPolicyFunc(func(req *http.Request, _ []*http.Request) error {
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			}),
		)
	return &HTTP{client: client, cfg: cfg}
}

// Fetch implements Fetcher. Non-2xx responses are transport failures.
func (h *HTTP) Fetch(ctx context.Context, req *Request) (*Document, error) {
	if err := h.cfg.URLValidator(req.URL); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked: %w", err)
	}

	accept := req.Accept
	if accept == "" {
		accept = "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8"
	}

	start := time.Now()
	resp, err := h.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", accept).
		Get(req.URL)
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, statusError(req.URL, resp.StatusCode())
	}

	body, err := horosafe.LimitedReadAll(raw, h.cfg.MaxBytes)
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}

	final := req.URL
	if rr := resp.RawResponse; rr != nil && rr.Request != nil && rr.Request.URL != nil {
		final = rr.Request.URL.String()
	}

	doc := &Document{
		URL:         final,
		Status:      resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        body,
		Via:         "http",
		Elapsed:     time.Since(start),
	}
	h.cfg.Logger.DebugContext(ctx, "fetch: fetched",
		"source", req.Source,
		"url", final,
		"status", doc.Status,
		"size", len(body),
		"elapsed_ms", doc.Elapsed.Milliseconds())
	return doc, nil
}
