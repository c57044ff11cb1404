package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeName(raw string) string {
	out := invalidFilenameChars.ReplaceAllString(strings.TrimSpace(raw), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}

// ResolveURL resolves href against https://{domain}/. Absolute hrefs pass
// through unchanged.
func ResolveURL(domain, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	base := &url.URL{Scheme: "https", Host: strings.ToLower(domain), Path: "/"}
	return base.ResolveReference(ref).String(), nil
}
