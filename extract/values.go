package extract

import (
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numberRe      = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?`)
	countSuffixRe = regexp.MustCompile(`(?i)^([km])(?:[^a-z]|$)`)
)

// parseFloat returns the first number in s ("4.5/5" -> 4.5, "1,204" -> 1204).
func parseFloat(s string) float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseCount returns the first number in s as a non-negative int, capped
// at MaxInt32. A lone "k" or "m" glued to the number scales it ("1.2k" ->
// 1200); "12 more" stays 12.
func parseCount(s string) int {
	loc := numberRe.FindStringIndex(s)
	if loc == nil {
		return 0
	}
	f := parseFloat(s[loc[0]:loc[1]])
	if m := countSuffixRe.FindStringSubmatch(s[loc[1]:]); m != nil {
		switch strings.ToLower(m[1]) {
		case "k":
			f *= 1e3
		case "m":
			f *= 1e6
		}
	}
	switch {
	case f < 0 || math.IsNaN(f):
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	}
	return int(math.Round(f))
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 02, 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2006",
}

var agoRe = regexp.MustCompile(`(?i)(\d+|an?|one)\s*(second|sec|minute|min|hour|hr|day|week|month|year)s?\s+ago`)

// parseTime understands absolute dates, unix seconds and relative phrases
// such as "3 days ago" or "yesterday". ok is false when nothing matched.
func parseTime(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Bare years are handled by the layouts; shorter integers are not timestamps.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 9 && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}

	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "just now"), lower == "today", lower == "now":
		return now, true
	case lower == "yesterday":
		return now.Add(-24 * time.Hour), true
	}

	m := agoRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	n := 1
	if v, err := strconv.Atoi(m[1]); err == nil {
		n = v
	}
	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "second", "sec":
		unit = time.Second
	case "minute", "min":
		unit = time.Minute
	case "hour", "hr":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	case "month":
		unit = 30 * 24 * time.Hour
	case "year":
		unit = 365 * 24 * time.Hour
	}
	return now.Add(-time.Duration(n) * unit), true
}

// resolveURL resolves ref against base. Unparseable refs are returned as-is.
func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// deriveID picks an explicit id, else the last URL path segment, else a
// hash of the title.
func deriveID(explicit, rawURL, title string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		if seg := path.Base(strings.TrimSuffix(u.Path, "/")); seg != "" && seg != "/" && seg != "." {
			return seg
		}
	}
	return hashText(title)[:16]
}
