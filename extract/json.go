package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// splitPath splits a dotted path. "" and "." address the root.
func splitPath(p string) []string {
	p = strings.Trim(strings.TrimSpace(p), ".")
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("extract: decode json: %w", err)
	}
	return v, nil
}

// walk follows path through objects and arrays.
func walk(v any, path []string) (any, bool) {
	for _, key := range path {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			v = node[i]
		default:
			return nil, false
		}
	}
	return v, true
}

// jsonItems resolves the item path to a list. A single object counts as
// a one-item list.
func jsonItems(root any, s *selector) []any {
	v, ok := walk(root, s.path)
	if !ok || v == nil {
		return nil
	}
	switch node := v.(type) {
	case []any:
		return node
	case map[string]any:
		return []any{node}
	}
	return nil
}

// jsonValue renders the value at s relative to item as a string. Arrays
// yield their first non-empty element.
func jsonValue(item any, s *selector) string {
	v, ok := walk(item, s.path)
	if !ok {
		return ""
	}
	return scalarString(v)
}

func scalarString(v any) string {
	switch node := v.(type) {
	case string:
		return strings.TrimSpace(node)
	case json.Number:
		return node.String()
	case bool:
		return strconv.FormatBool(node)
	case []any:
		for _, e := range node {
			if s := scalarString(e); s != "" {
				return s
			}
		}
	case map[string]any:
		// Localised maps such as {"en": "..."}: prefer en, else any value.
		if s := scalarString(node["en"]); s != "" {
			return s
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := scalarString(node[k]); s != "" {
				return s
			}
		}
	}
	return ""
}
