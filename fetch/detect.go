package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
)

// Auto fetches over HTTP and escalates to the browser when the HTML looks
// like an unrendered single-page-app shell.
type Auto struct {
	HTTP    Fetcher
	Browser Fetcher
	Logger  *slog.Logger
}

// Fetch implements Fetcher.
func (a *Auto) Fetch(ctx context.Context, req *Request) (*Document, error) {
	doc, err := a.HTTP.Fetch(ctx, req)
	if err != nil || a.Browser == nil {
		return doc, err
	}
	if isJSON(doc) || IsSufficient(doc.Body) {
		return doc, nil
	}
	if a.Logger != nil {
		a.Logger.DebugContext(ctx, "fetch: escalating to browser",
			"source", req.Source, "url", req.URL, "size", len(doc.Body))
	}
	return a.Browser.Fetch(ctx, req)
}

func isJSON(doc *Document) bool {
	if strings.Contains(doc.ContentType, "json") {
		return true
	}
	b := bytes.TrimSpace(doc.Body)
	return len(b) > 0 && (b[0] == '{' || b[0] == '[')
}

// IsSufficient returns true if the HTML body has enough text content
// relative to markup that a browser isn't needed.
func IsSufficient(html []byte) bool {
	if len(html) < 256 {
		return false
	}

	textLen, markupLen := textMarkupRatio(html)
	total := textLen + markupLen
	if total == 0 {
		return false
	}

	// Less than 10% text: likely an SPA shell.
	if float64(textLen)/float64(total) < 0.10 {
		return false
	}
	if textLen < 200 {
		return false
	}

	lower := bytes.ToLower(html)
	for _, ind := range spaIndicators {
		if bytes.Contains(lower, []byte(ind)) {
			return false
		}
	}
	return true
}

var spaIndicators = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	"<noscript>you need to enable javascript",
	"<noscript>enable javascript",
}

// textMarkupRatio counts visible non-space text bytes against markup bytes.
// Script and style bodies count as markup.
func textMarkupRatio(html []byte) (text, markup int) {
	s := string(html)
	inTag := false
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == '<':
			if n := rawElementLen(s[i:]); n > 0 {
				markup += n
				i += n
				continue
			}
			inTag = true
			markup++
		case ch == '>':
			inTag = false
			markup++
		case inTag:
			markup++
		case ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r':
			text++
		}
		i++
	}
	return text, markup
}

// rawElementLen returns the byte length of a <script> or <style> element
// starting at s, or 0 if s does not start one.
func rawElementLen(s string) int {
	head := strings.ToLower(s[:min(len(s), 8)])
	for _, tag := range []string{"script", "style"} {
		if !strings.HasPrefix(head, "<"+tag) {
			continue
		}
		end := strings.Index(strings.ToLower(s), "</"+tag)
		if end < 0 {
			return len(s)
		}
		gt := strings.IndexByte(s[end:], '>')
		if gt < 0 {
			return len(s)
		}
		return end + gt + 1
	}
	return 0
}
