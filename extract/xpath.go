package extract

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// evaluateXPath evaluates a practical XPath subset from root:
//   - /html/body/div      children path from root
//   - //article           descendant anywhere below root
//   - ./span, .//img      relative to root
//   - div[@class='x']     attribute predicate
//   - div[contains(@class,'x')]
//   - li[2]               positional predicate
func evaluateXPath(root *html.Node, xpath string) []*html.Node {
	xpath = strings.TrimSpace(xpath)

	switch {
	case strings.HasPrefix(xpath, ".//"):
		return findDescendants(root, xpath[3:])
	case strings.HasPrefix(xpath, "./"):
		return followPath(root, xpath[2:])
	case strings.HasPrefix(xpath, "//"):
		return findDescendants(root, xpath[2:])
	case strings.HasPrefix(xpath, "/"):
		return followPath(root, xpath[1:])
	}
	return findDescendants(root, xpath)
}

// findDescendants matches the first step anywhere below root, then follows
// the remaining steps as a child path.
func findDescendants(root *html.Node, expr string) []*html.Node {
	step, rest := splitStep(expr)
	tag, pred := parseXPathStep(step)

	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if matchesXPathStep(c, tag, pred) {
				matches = append(matches, c)
			}
			walk(c)
		}
	}
	walk(root)

	if rest == "" {
		return matches
	}
	var out []*html.Node
	for _, m := range matches {
		if strings.HasPrefix(rest, "/") {
			out = append(out, findDescendants(m, rest[1:])...)
		} else {
			out = append(out, followPath(m, rest)...)
		}
	}
	return dedupNodes(out)
}

// followPath follows a step/step/... child path from node. A "//" inside
// the path switches to a descendant search for the remainder.
func followPath(node *html.Node, path string) []*html.Node {
	current := []*html.Node{node}
	for path != "" {
		if strings.HasPrefix(path, "/") {
			var out []*html.Node
			for _, n := range current {
				out = append(out, findDescendants(n, path[1:])...)
			}
			return dedupNodes(out)
		}
		var step string
		step, path = splitStep(path)
		if step == "" || step == "." {
			continue
		}
		tag, pred := parseXPathStep(step)
		var next []*html.Node
		for _, parent := range current {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				if matchesXPathStep(c, tag, pred) {
					next = append(next, c)
				}
			}
		}
		current = next
	}
	return current
}

// splitStep returns the first step and the remainder after its '/',
// ignoring slashes inside predicates.
func splitStep(expr string) (string, string) {
	depth := 0
	for i, r := range expr {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				return expr[:i], expr[i+1:]
			}
		}
	}
	return expr, ""
}

type xpathPredicate struct {
	attrName  string
	attrValue string
	contains  bool
	position  int // 1-based
}

// parseXPathStep parses "div", "div[@class='x']", "div[contains(@class,'x')]", "div[2]".
func parseXPathStep(step string) (string, *xpathPredicate) {
	idx := strings.IndexByte(step, '[')
	if idx < 0 {
		return step, nil
	}

	tag := step[:idx]
	predStr := strings.TrimSuffix(step[idx+1:], "]")
	pred := &xpathPredicate{}

	if n, err := strconv.Atoi(predStr); err == nil {
		pred.position = n
		return tag, pred
	}

	if strings.HasPrefix(predStr, "contains(") {
		inner := strings.TrimSuffix(strings.TrimPrefix(predStr, "contains("), ")")
		name, val, ok := strings.Cut(inner, ",")
		if !ok {
			return tag, nil
		}
		pred.attrName = strings.TrimPrefix(strings.TrimSpace(name), "@")
		pred.attrValue = strings.Trim(strings.TrimSpace(val), `'"`)
		pred.contains = true
		return tag, pred
	}

	if strings.HasPrefix(predStr, "@") {
		attrExpr := predStr[1:]
		if eqIdx := strings.IndexByte(attrExpr, '='); eqIdx >= 0 {
			pred.attrName = attrExpr[:eqIdx]
			pred.attrValue = strings.Trim(attrExpr[eqIdx+1:], `'"`)
		} else {
			pred.attrName = attrExpr
		}
		return tag, pred
	}

	return tag, nil
}

// matchesXPathStep checks if a node matches a tag + optional predicate.
func matchesXPathStep(n *html.Node, tag string, pred *xpathPredicate) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if tag != "*" && tag != "" && n.Data != tag {
		return false
	}
	if pred == nil {
		return true
	}

	if pred.attrName != "" {
		val, ok := attr(n, pred.attrName)
		switch {
		case pred.contains:
			return ok && strings.Contains(val, pred.attrValue)
		case pred.attrValue != "":
			return val == pred.attrValue
		default:
			return ok
		}
	}

	if pred.position > 0 {
		pos := 0
		for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
			if s.Type == html.ElementNode && s.Data == n.Data {
				pos++
				if s == n {
					return pos == pred.position
				}
			}
		}
		return false
	}
	return true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func dedupNodes(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
