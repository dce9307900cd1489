// CLAUDE:SUMMARY Extraction rule sets: per-field primary/fallback patterns, validated and compiled at registration.
package extract

import (
	"errors"
	"fmt"
	"sort"
)

// Field names understood by the record builder.
const (
	FieldID           = "id"
	FieldTitle        = "title"
	FieldURL          = "url"
	FieldImage        = "image"
	FieldDescription  = "description"
	FieldChapterCount = "chapter_count"
	FieldPageCount    = "page_count"
	FieldRating       = "rating"
	FieldUpdatedAt    = "updated_at"
)

var knownFields = map[string]bool{
	FieldID: true, FieldTitle: true, FieldURL: true, FieldImage: true,
	FieldDescription: true, FieldChapterCount: true, FieldPageCount: true,
	FieldRating: true, FieldUpdatedAt: true,
}

// Format is the payload type a rule set applies to.
type Format string

const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// Pattern is a primary selection pattern with an optional fallback.
//
// HTML patterns are CSS selectors, or XPath when they start with "/" or
// "./". A trailing "@attr" reads an attribute instead of text; a bare
// "@attr" reads it from the container itself. JSON patterns are dotted
// paths ("data.items", "attributes.title.en", "tags.0").
type Pattern struct {
	Primary  string `yaml:"primary" json:"primary"`
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// RuleSet maps a container pattern and per-field patterns to records.
type RuleSet struct {
	Item   Pattern            `yaml:"item" json:"item"`
	Fields map[string]Pattern `yaml:"fields" json:"fields"`

	format   Format
	compiled map[string]*selector
}

// Errors returned by Compile.
var (
	ErrNoItemPattern  = errors.New("extract: item pattern has no primary")
	ErrNoTitlePattern = errors.New("extract: title field is required")
)

// Compile validates the rule set and pre-compiles every pattern for format.
// Every declared field needs a primary pattern and the title field must be
// declared.
func (rs *RuleSet) Compile(format Format) error {
	if format == "" {
		format = FormatHTML
	}
	if format != FormatHTML && format != FormatJSON {
		return fmt.Errorf("extract: unknown format %q", format)
	}
	if rs.Item.Primary == "" && format == FormatHTML {
		return ErrNoItemPattern
	}
	if _, ok := rs.Fields[FieldTitle]; !ok {
		return ErrNoTitlePattern
	}

	compiled := make(map[string]*selector)
	add := func(expr string) error {
		if expr == "" {
			return nil
		}
		if _, ok := compiled[expr]; ok {
			return nil
		}
		sel, err := compileSelector(expr, format)
		if err != nil {
			return err
		}
		compiled[expr] = sel
		return nil
	}

	if err := add(rs.Item.Primary); err != nil {
		return fmt.Errorf("extract: item primary: %w", err)
	}
	if err := add(rs.Item.Fallback); err != nil {
		return fmt.Errorf("extract: item fallback: %w", err)
	}
	for _, name := range rs.FieldNames() {
		p := rs.Fields[name]
		if !knownFields[name] {
			return fmt.Errorf("extract: unknown field %q", name)
		}
		if p.Primary == "" {
			return fmt.Errorf("extract: field %q has no primary pattern", name)
		}
		if err := add(p.Primary); err != nil {
			return fmt.Errorf("extract: field %q primary: %w", name, err)
		}
		if err := add(p.Fallback); err != nil {
			return fmt.Errorf("extract: field %q fallback: %w", name, err)
		}
	}

	rs.format = format
	rs.compiled = compiled
	return nil
}

// Compiled reports whether Compile has succeeded.
func (rs *RuleSet) Compiled() bool { return rs.compiled != nil }

// Format returns the format the rule set was compiled for.
func (rs *RuleSet) Format() Format { return rs.format }

// FieldNames returns the declared fields in a stable order.
func (rs *RuleSet) FieldNames() []string {
	names := make([]string, 0, len(rs.Fields))
	for n := range rs.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasFallback reports whether a fallback pass would differ from the
// primary one.
func (rs *RuleSet) HasFallback() bool {
	if rs.Item.Fallback != "" {
		return true
	}
	for _, p := range rs.Fields {
		if p.Fallback != "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy sharing the immutable compiled selectors.
func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return nil
	}
	out := &RuleSet{Item: rs.Item, format: rs.format, compiled: rs.compiled}
	if rs.Fields != nil {
		out.Fields = make(map[string]Pattern, len(rs.Fields))
		for k, v := range rs.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// pass holds the patterns used for one extraction pass.
type pass struct {
	name   string
	item   string
	fields map[string][]string // preferred order of patterns per field
}

func (rs *RuleSet) primaryPass() pass {
	p := pass{name: "primary", item: rs.Item.Primary, fields: make(map[string][]string)}
	for name, fp := range rs.Fields {
		p.fields[name] = nonEmpty(fp.Primary, fp.Fallback)
	}
	return p
}

func (rs *RuleSet) fallbackPass() pass {
	item := rs.Item.Fallback
	if item == "" {
		item = rs.Item.Primary
	}
	p := pass{name: "fallback", item: item, fields: make(map[string][]string)}
	for name, fp := range rs.Fields {
		p.fields[name] = nonEmpty(fp.Fallback, fp.Primary)
	}
	return p
}

func nonEmpty(ss ...string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
