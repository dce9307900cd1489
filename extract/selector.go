package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

type selectorKind int

const (
	selSelf selectorKind = iota // the container itself
	selCSS
	selXPath
	selJSON
)

// selector is a compiled pattern.
type selector struct {
	kind  selectorKind
	expr  string
	attr  string
	css   cascadia.Selector
	xpath string
	path  []string
}

// compileSelector parses "expr@attr" into a selector for format.
func compileSelector(raw string, format Format) (*selector, error) {
	if format == FormatJSON {
		return &selector{kind: selJSON, expr: raw, path: splitPath(raw)}, nil
	}

	expr, attr := splitAttr(strings.TrimSpace(raw))
	s := &selector{expr: raw, attr: attr}
	switch {
	case expr == "":
		if attr == "" {
			return nil, fmt.Errorf("empty pattern %q", raw)
		}
		s.kind = selSelf
	case strings.HasPrefix(expr, "/") || strings.HasPrefix(expr, "./"):
		if strings.Count(expr, "[") != strings.Count(expr, "]") {
			return nil, fmt.Errorf("unbalanced xpath %q", expr)
		}
		s.kind = selXPath
		s.xpath = expr
	default:
		css, err := cascadia.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("css %q: %w", expr, err)
		}
		s.kind = selCSS
		s.css = css
	}
	return s, nil
}

// splitAttr splits at the last '@' outside brackets and quotes, so XPath
// predicates like [@class='x'] stay in the expression. A "/@href" suffix
// is accepted as well.
func splitAttr(p string) (expr, attr string) {
	depth := 0
	var quote rune
	at := -1
	for i, r := range p {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case r == '@' && depth == 0:
			at = i
		}
	}
	if at < 0 {
		return p, ""
	}
	expr = strings.TrimSpace(p[:at])
	attr = strings.TrimSpace(p[at+1:])
	if strings.HasSuffix(expr, "/") && expr != "/" && !strings.HasSuffix(expr, "//") {
		expr = strings.TrimSuffix(expr, "/")
	}
	return expr, attr
}

// all returns every match below root.
func (s *selector) all(root *goquery.Selection) *goquery.Selection {
	switch s.kind {
	case selSelf:
		return root
	case selCSS:
		return root.FindMatcher(s.css)
	case selXPath:
		var nodes []*html.Node
		for _, n := range root.Nodes {
			nodes = append(nodes, evaluateXPath(n, s.xpath)...)
		}
		return root.FindNodes(nodes...)
	default:
		return root.Slice(0, 0)
	}
}

// value returns the first non-empty value under root. Text is used unless
// an attribute is named or asHTML is set.
func (s *selector) value(root *goquery.Selection, asHTML bool) string {
	var out string
	s.all(root).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		switch {
		case s.attr != "":
			out = strings.TrimSpace(sel.AttrOr(s.attr, ""))
		case asHTML:
			h, err := sel.Html()
			if err == nil {
				out = strings.TrimSpace(h)
			}
		default:
			out = CleanText(sel.Text())
		}
		return out == ""
	})
	return out
}
