package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome on first use.
	RemoteURL string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// Settle is how long to wait after load for client-side rendering. Default: 500ms.
	Settle time.Duration

	URLValidator func(string) error
	Logger       *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.Settle <= 0 {
		c.Settle = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser renders pages in headless Chrome with stealth patches and
// returns the serialised DOM. Chrome is started lazily and shared by all
// fetches.
type Browser struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a browser fetcher. Chrome starts on the first Fetch.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("fetch: browser is closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: browser launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("fetch: launched local chrome", "url", wsURL)
	} else {
		b.cfg.Logger.Info("fetch: connecting to remote chrome", "url", wsURL)
	}

	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		return nil, fmt.Errorf("fetch: browser connect: %w", err)
	}
	b.browser = rb
	return rb, nil
}

// Fetch implements Fetcher.
func (b *Browser) Fetch(ctx context.Context, req *Request) (*Document, error) {
	if b.cfg.URLValidator != nil {
		if err := b.cfg.URLValidator(req.URL); err != nil {
			return nil, fmt.Errorf("fetch: URL blocked: %w", err)
		}
	}
	rb, err := b.connect()
	if err != nil {
		return nil, &Error{Kind: ErrTransport, URL: req.URL, Err: err}
	}

	start := time.Now()
	page, err := stealth.Page(rb)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, URL: req.URL, Err: err}
	}
	defer page.Close()

	if len(b.cfg.ResourceBlocking) > 0 {
		router := blockResources(page, b.cfg.ResourceBlocking)
		defer router.Stop()
	}

	p := page.Context(ctx)
	if err := p.Navigate(req.URL); err != nil {
		return nil, classify(ctx, req.URL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, classify(ctx, req.URL, err)
	}
	// Give client-side rendering a moment; WaitLoad fires before most SPAs fetch data.
	select {
	case <-ctx.Done():
		return nil, classify(ctx, req.URL, ctx.Err())
	case <-time.After(b.cfg.Settle):
	}

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}
	final := req.URL
	if info, err := p.Info(); err == nil && info.URL != "" {
		final = info.URL
	}

	body := []byte(res.Value.Str())
	b.cfg.Logger.DebugContext(ctx, "fetch: rendered",
		"source", req.Source,
		"url", final,
		"size", len(body))
	return &Document{
		URL:         final,
		Status:      200,
		ContentType: "text/html",
		Body:        body,
		Via:         "browser",
		Elapsed:     time.Since(start),
	}, nil
}

// Close shuts down Chrome.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	return err
}

// blockResources intercepts requests and fails the listed resource types.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blockSet, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func shouldBlock(blockSet map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"]
	default:
		return blockSet[lower]
	}
}
