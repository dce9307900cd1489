// CLAUDE:SUMMARY Source definitions: endpoints, fetch strategy, rate limit, and per-kind extraction rules.
// Package source defines content sources and the registry that orders them
// for fallback.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mangafetch/connectivity"
	"github.com/hazyhaar/mangafetch/extract"
	"github.com/hazyhaar/mangafetch/horosafe"
)

// FetcherKind selects how a source's documents are retrieved.
type FetcherKind string

const (
	FetcherHTTP    FetcherKind = "http"
	FetcherBrowser FetcherKind = "browser"
	FetcherAuto    FetcherKind = "auto" // HTTP, escalating to browser for SPA shells
)

// Endpoint maps a logical target to a URL template on a source.
type Endpoint struct {
	// Path is appended to the base URL, or used as-is when absolute.
	// {name} placeholders are filled from request params.
	Path   string         `yaml:"path" json:"path"`
	Kind   extract.Kind   `yaml:"kind" json:"kind"`
	Format extract.Format `yaml:"format,omitempty" json:"format,omitempty"`
	// Rules names the rule set to use. Default: the endpoint kind.
	Rules string `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Source is an external content provider. Sources are immutable once
// registered; the registry hands out copies.
type Source struct {
	ID        string                      `yaml:"id" json:"id"`
	Name      string                      `yaml:"name,omitempty" json:"name,omitempty"`
	BaseURL   string                      `yaml:"base_url" json:"base_url"`
	Priority  int                         `yaml:"priority" json:"priority"` // lower = preferred
	Active    bool                        `yaml:"active" json:"active"`
	Fallback  bool                        `yaml:"fallback" json:"fallback"` // eligible as a fallback
	Fetcher   FetcherKind                 `yaml:"fetcher,omitempty" json:"fetcher,omitempty"`
	RateLimit connectivity.RateLimit      `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Endpoints map[string]Endpoint         `yaml:"endpoints" json:"endpoints"`
	Rules     map[string]*extract.RuleSet `yaml:"rules" json:"rules"`
}

// UnmarshalYAML defaults active and fallback to true and the fetcher to http.
func (s *Source) UnmarshalYAML(n *yaml.Node) error {
	type plain Source
	p := plain{Active: true, Fallback: true, Fetcher: FetcherHTTP}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = Source(p)
	return nil
}

// Errors returned by Validate and Resolve.
var (
	ErrNoEndpoint   = errors.New("source: target not served")
	ErrMissingParam = errors.New("source: missing parameter")
)

// Validate checks the source and compiles every rule set an endpoint uses.
func (s *Source) Validate() error {
	if err := horosafe.ValidateIdentifier(s.ID); err != nil {
		return fmt.Errorf("source: id: %w", err)
	}
	if err := horosafe.CheckScheme(s.BaseURL); err != nil {
		return fmt.Errorf("source %s: base_url: %w", s.ID, err)
	}
	switch s.Fetcher {
	case "":
		s.Fetcher = FetcherHTTP
	case FetcherHTTP, FetcherBrowser, FetcherAuto:
	default:
		return fmt.Errorf("source %s: unknown fetcher %q", s.ID, s.Fetcher)
	}
	if len(s.Endpoints) == 0 {
		return fmt.Errorf("source %s: no endpoints", s.ID)
	}

	formats := make(map[string]extract.Format)
	for _, target := range sortedKeys(s.Endpoints) {
		ep := s.Endpoints[target]
		if ep.Path == "" {
			return fmt.Errorf("source %s: endpoint %q has no path", s.ID, target)
		}
		if ep.Kind == "" {
			return fmt.Errorf("source %s: endpoint %q has no kind", s.ID, target)
		}
		if ep.Format == "" {
			ep.Format = extract.FormatHTML
			s.Endpoints[target] = ep
		}
		name := ep.rulesName()
		rs, ok := s.Rules[name]
		if !ok || rs == nil {
			return fmt.Errorf("source %s: endpoint %q: no rule set %q", s.ID, target, name)
		}
		if f, seen := formats[name]; seen && f != ep.Format {
			return fmt.Errorf("source %s: rule set %q used as both %s and %s", s.ID, name, f, ep.Format)
		}
		formats[name] = ep.Format
		if err := rs.Compile(ep.Format); err != nil {
			return fmt.Errorf("source %s: rules %q: %w", s.ID, name, err)
		}
	}
	return nil
}

func (ep Endpoint) rulesName() string {
	if ep.Rules != "" {
		return ep.Rules
	}
	return string(ep.Kind)
}

// Supports reports whether the source has an endpoint for target.
func (s *Source) Supports(target string) bool {
	_, ok := s.Endpoints[target]
	return ok
}

// Resolved is a target bound to a concrete URL on one source.
type Resolved struct {
	URL      string
	Endpoint Endpoint
	Rules    *extract.RuleSet
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Resolve builds the request URL for target. Params fill {name}
// placeholders; the rest are appended as query parameters in key order.
func (s *Source) Resolve(target string, params map[string]string) (*Resolved, error) {
	ep, ok := s.Endpoints[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoEndpoint, target, s.ID)
	}

	pathPart, queryPart, _ := strings.Cut(ep.Path, "?")
	used := make(map[string]bool)
	var missing []string
	fill := func(tmpl string, escape func(string) string) string {
		return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
			name := m[1 : len(m)-1]
			v, ok := params[name]
			if !ok || v == "" {
				missing = append(missing, name)
				return ""
			}
			used[name] = true
			return escape(v)
		})
	}
	pathPart = fill(pathPart, url.PathEscape)
	queryPart = fill(queryPart, url.QueryEscape)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingParam, strings.Join(missing, ", "))
	}

	extra := url.Values{}
	for _, k := range sortedKeys(params) {
		if !used[k] {
			extra.Set(k, params[k])
		}
	}
	if enc := extra.Encode(); enc != "" {
		if queryPart != "" {
			queryPart += "&"
		}
		queryPart += enc
	}

	var full string
	if strings.HasPrefix(pathPart, "http://") || strings.HasPrefix(pathPart, "https://") {
		full = pathPart
	} else {
		full = strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(pathPart, "/")
	}
	if queryPart != "" {
		full += "?" + queryPart
	}
	return &Resolved{URL: full, Endpoint: ep, Rules: s.Rules[ep.rulesName()]}, nil
}

// Clone returns a deep copy.
func (s *Source) Clone() *Source {
	if s == nil {
		return nil
	}
	out := *s
	out.Endpoints = make(map[string]Endpoint, len(s.Endpoints))
	for k, v := range s.Endpoints {
		out.Endpoints[k] = v
	}
	out.Rules = make(map[string]*extract.RuleSet, len(s.Rules))
	for k, v := range s.Rules {
		out.Rules[k] = v.Clone()
	}
	return &out
}

// Targets returns the targets the source serves, sorted.
func (s *Source) Targets() []string { return sortedKeys(s.Endpoints) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
