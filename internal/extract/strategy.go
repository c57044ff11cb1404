// Package extract provides versioned, ordered field extraction strategies over
// HTML fragments. Markup of a search source drifts over time; each field keeps
// a list of known layouts and the first one that yields a value wins.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy extracts one field for a single known layout.
type Strategy[T any] struct {
	Version string
	Extract func(sel *goquery.Selection) (T, bool)
}

// Chain is an ordered list of strategies for one field.
type Chain[T any] []Strategy[T]

// Run applies strategies in order and returns the first hit together with the
// version that produced it.
func (c Chain[T]) Run(sel *goquery.Selection) (T, string, bool) {
	for _, s := range c {
		if v, ok := s.Extract(sel); ok {
			return v, s.Version, true
		}
	}
	var zero T
	return zero, "", false
}

// Value is Run without the version.
func (c Chain[T]) Value(sel *goquery.Selection) (T, bool) {
	v, _, ok := c.Run(sel)
	return v, ok
}

// Text returns the trimmed text of the last node matching selector.
func Text(version, selector string) Strategy[string] {
	return Strategy[string]{Version: version, Extract: func(sel *goquery.Selection) (string, bool) {
		text := strings.TrimSpace(sel.Find(selector).Last().Text())
		return text, text != ""
	}}
}

// Attr returns the trimmed attribute of the last node matching selector. An
// empty selector reads the attribute from sel itself.
func Attr(version, selector, attr string) Strategy[string] {
	return Strategy[string]{Version: version, Extract: func(sel *goquery.Selection) (string, bool) {
		target := sel
		if selector != "" {
			target = sel.Find(selector).Last()
		}
		v, ok := target.Attr(attr)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}}
}

// SelfOrDescendantAttr reads attr from sel when it matches selector,
// otherwise from the first matching descendant.
func SelfOrDescendantAttr(version, selector, attr string) Strategy[string] {
	return Strategy[string]{Version: version, Extract: func(sel *goquery.Selection) (string, bool) {
		target := sel.Filter(selector)
		if target.Length() == 0 {
			target = sel.Find(selector).First()
		}
		v, ok := target.Attr(attr)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}}
}

// TextList returns the trimmed, non-empty texts of every node matching
// selector.
func TextList(version, selector string) Strategy[[]string] {
	return Strategy[[]string]{Version: version, Extract: func(sel *goquery.Selection) ([]string, bool) {
		var out []string
		sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				out = append(out, text)
			}
		})
		return out, len(out) > 0
	}}
}

// RegexText applies pattern to the text of selector and returns the first
// capture group of the last matching node.
func RegexText(version, selector string, pattern *regexp.Regexp) Strategy[string] {
	return Strategy[string]{Version: version, Extract: func(sel *goquery.Selection) (string, bool) {
		var found string
		sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if m := pattern.FindStringSubmatch(s.Text()); len(m) > 1 {
				found = m[1]
			}
		})
		return found, found != ""
	}}
}

// CountLink scans the links under selector for text matching any of the
// localized patterns and parses the first capture group as an integer.
func CountLink(version, selector string, patterns ...*regexp.Regexp) Strategy[int] {
	return Strategy[int]{Version: version, Extract: func(sel *goquery.Selection) (int, bool) {
		var (
			n     int
			found bool
		)
		sel.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			for _, p := range patterns {
				m := p.FindStringSubmatch(text)
				if len(m) < 2 {
					continue
				}
				v, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "", " ", "").Replace(m[1]))
				if err != nil {
					continue
				}
				n, found = v, true
				return false
			}
			return true
		})
		return n, found
	}}
}

// LinkHref returns the href of the first link under selector whose text
// contains any of the localized labels.
func LinkHref(version, selector string, labels ...string) Strategy[string] {
	return Strategy[string]{Version: version, Extract: func(sel *goquery.Selection) (string, bool) {
		var href string
		sel.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			for _, label := range labels {
				if strings.Contains(text, label) {
					href, _ = s.Attr("href")
					href = strings.TrimSpace(href)
					return href == ""
				}
			}
			return true
		})
		return href, href != ""
	}}
}
