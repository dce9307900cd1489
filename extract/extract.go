// CLAUDE:SUMMARY Adaptive extraction engine: primary pass, whole-document fallback pass, per-item defaults and scoring.
// Package extract turns fetched documents into validated records.
//
// Extraction runs a primary pass using each field's primary pattern. When
// the primary item pattern matches nothing in the document (or matches but
// yields no valid record), the whole extraction is retried with the
// fallback pattern set. Within a pass a field that comes back empty tries
// its other pattern before falling back to a default.
//
// Field defaults: title "Unknown Title", image a placeholder URL, numbers
// 0, freshness the extraction time. A record whose title is missing or the
// sentinel is dropped; a panicking item is skipped and logged.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoRecords means the document parsed but produced no valid record.
var ErrNoRecords = errors.New("extract: no valid records")

// Input is one fetched document to extract from.
type Input struct {
	Body   []byte
	URL    string // final document URL, used to resolve relative links
	Source string
	Kind   Kind
}

// Result is the output of Extract.
type Result struct {
	Records      []Record
	Pass         string // "primary" or "fallback"
	UsedFallback bool
	Matched      int // containers matched by the winning pass
	Skipped      int // containers dropped as invalid or malformed
}

// Engine extracts records. It is safe for concurrent use.
type Engine struct {
	logger      *slog.Logger
	placeholder string
	now         func() time.Time
	desc        *describer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for skipped items.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPlaceholderImage sets the image used when a record has none.
func WithPlaceholderImage(u string) Option {
	return func(e *Engine) {
		if u != "" {
			e.placeholder = u
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// NewEngine creates an extraction engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:      slog.Default(),
		placeholder: DefaultPlaceholderImage,
		now:         time.Now,
		desc:        newDescriber(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// document abstracts the HTML and JSON payload walkers.
type document interface {
	items(s *selector) []any
	value(item any, s *selector, field string) string
}

// Extract runs the adaptive extraction of in with rules.
func (e *Engine) Extract(ctx context.Context, in Input, rules *RuleSet) (*Result, error) {
	if rules == nil || !rules.Compiled() {
		return nil, fmt.Errorf("extract: rule set not compiled")
	}

	var doc document
	switch rules.Format() {
	case FormatJSON:
		root, err := decodeJSON(in.Body)
		if err != nil {
			return nil, err
		}
		doc = jsonDoc{root: root}
	default:
		gq, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Body))
		if err != nil {
			return nil, fmt.Errorf("extract: parse html: %w", err)
		}
		doc = htmlDoc{root: gq.Selection}
	}

	now := e.now()
	res := e.run(ctx, doc, in, rules, rules.primaryPass(), now)
	if len(res.Records) == 0 && rules.HasFallback() {
		fb := e.run(ctx, doc, in, rules, rules.fallbackPass(), now)
		fb.UsedFallback = true
		e.logger.DebugContext(ctx, "extract: fallback pass",
			"source", in.Source,
			"primary_matched", res.Matched,
			"fallback_matched", fb.Matched,
			"records", len(fb.Records))
		res = fb
	}
	if len(res.Records) == 0 {
		return res, ErrNoRecords
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, doc document, in Input, rules *RuleSet, p pass, now time.Time) *Result {
	res := &Result{Pass: p.name}
	itemSel := rules.compiled[p.item]
	var items []any
	if itemSel == nil {
		// JSON rule sets may omit the item path: the root is the list.
		items = doc.items(&selector{kind: selJSON})
	} else {
		items = doc.items(itemSel)
	}
	res.Matched = len(items)

	for i, item := range items {
		rec, err := e.build(doc, item, in, rules, p, now)
		if err != nil {
			res.Skipped++
			e.logger.DebugContext(ctx, "extract: item skipped",
				"source", in.Source,
				"pass", p.name,
				"index", i,
				"error", err)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// build extracts one record. A panic in a field parser skips the item.
func (e *Engine) build(doc document, item any, in Input, rules *RuleSet, p pass, now time.Time) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed item: %v", r)
		}
	}()

	raw := make(map[string]string, len(p.fields))
	for field, patterns := range p.fields {
		for _, expr := range patterns {
			if v := doc.value(item, rules.compiled[expr], field); v != "" {
				raw[field] = v
				break
			}
		}
	}

	rec = Record{
		Kind:         in.Kind,
		Source:       in.Source,
		Title:        CleanText(raw[FieldTitle]),
		URL:          resolveURL(in.URL, raw[FieldURL]),
		Image:        resolveURL(in.URL, raw[FieldImage]),
		ChapterCount: parseCount(raw[FieldChapterCount]),
		PageCount:    parseCount(raw[FieldPageCount]),
		Rating:       parseFloat(raw[FieldRating]),
		ExtractedAt:  now,
	}
	if rec.Title == "" {
		rec.Title = UnknownTitle
	}
	if !rec.Valid() {
		return rec, errors.New("missing title")
	}
	if rec.Image == "" {
		rec.Image = e.placeholder
	}
	if d := raw[FieldDescription]; d != "" {
		rec.Description = e.desc.markdown(d, in.URL)
	}
	if t, ok := parseTime(raw[FieldUpdatedAt], now); ok {
		rec.UpdatedAt = t
	} else {
		rec.UpdatedAt = now
	}
	rec.ID = deriveID(raw[FieldID], rec.URL, rec.Title)
	rec.normalize()
	return rec, nil
}

type htmlDoc struct {
	root *goquery.Selection
}

func (d htmlDoc) items(s *selector) []any {
	sel := s.all(d.root)
	out := make([]any, 0, sel.Length())
	sel.Each(func(_ int, item *goquery.Selection) {
		out = append(out, item)
	})
	return out
}

func (d htmlDoc) value(item any, s *selector, field string) string {
	if s == nil {
		return ""
	}
	return s.value(item.(*goquery.Selection), field == FieldDescription)
}

type jsonDoc struct {
	root any
}

func (d jsonDoc) items(s *selector) []any { return jsonItems(d.root, s) }

func (d jsonDoc) value(item any, s *selector, _ string) string {
	if s == nil {
		return ""
	}
	return jsonValue(item, s)
}
