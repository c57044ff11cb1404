// Package scholar implements the Google Scholar search provider.
package scholar

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

// Tag is the registry key of this provider.
const Tag = "scholar"

// DefaultDomain is the public Google Scholar host.
const DefaultDomain = "scholar.google.com"

// Options configures a Provider.
type Options struct {
	Domain string
	// Locale is sent as the hl query parameter.
	Locale string
	// UserAgent pins the User-Agent header; empty lets the transport
	// randomize it per request.
	UserAgent string
}

// Provider speaks Google Scholar's results-page markup.
type Provider struct {
	domain    string
	locale    string
	userAgent string
	fields    fieldSet
}

// New returns a Provider with the default extraction layouts.
func New(opts Options) *Provider {
	if opts.Domain == "" {
		opts.Domain = DefaultDomain
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}
	return &Provider{
		domain:    strings.ToLower(opts.Domain),
		locale:    opts.Locale,
		userAgent: opts.UserAgent,
		fields:    defaultFields(),
	}
}

// Factory adapts New to the crawler registry.
func Factory(opts Options) crawler.ProviderFactory {
	return func() crawler.Provider { return New(opts) }
}

// Tag implements crawler.Provider.
func (p *Provider) Tag() string { return Tag }

// Domain implements crawler.Provider.
func (p *Provider) Domain() string { return p.domain }

// InitialRequest builds the exact-phrase author search for the profile.
func (p *Provider) InitialRequest(profile crawler.Profile) crawler.FetchRequest {
	return crawler.FetchRequest{
		Method: http.MethodGet,
		URL:    "https://" + p.domain + "/scholar",
		Header: p.headers(),
		Query: url.Values{
			"q":       {`"` + profile.SearchHandle + `"`},
			"hl":      {p.locale},
			"btnG":    {"Search Scholar"},
			"as_sdt":  {"0,5"},
			"as_sdtp": {""},
			"lookup":  {"0"},
		},
		Label: "search",
	}
}

// WarmupRequests primes the session cookies from the home page.
func (p *Provider) WarmupRequests(crawler.Profile) []crawler.FetchRequest {
	return []crawler.FetchRequest{{
		Method: http.MethodGet,
		URL:    "https://" + p.domain + "/",
		Header: p.headers(),
		Label:  "home",
	}}
}

// PageRequest builds the request for a resolved next-page link.
func (p *Provider) PageRequest(_ *crawler.CrawlState, nextURL string) crawler.FetchRequest {
	return crawler.FetchRequest{
		Method: http.MethodGet,
		URL:    nextURL,
		Header: p.headers(),
	}
}

func (p *Provider) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Cache-Control", "max-age=0")
	h.Set("Upgrade-Insecure-Requests", "1")
	if p.userAgent != "" {
		h.Set("User-Agent", p.userAgent)
	}
	return h
}

// ExtractFragments returns the outer HTML of every result block.
func (p *Provider) ExtractFragments(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []string
	doc.Find(resultSelector).Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			out = append(out, html)
		}
	})
	return out, nil
}

// NextPageURL returns the absolute URL of the "Next" link, if any.
func (p *Provider) NextPageURL(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	href, ok := p.fields.next.Value(doc.Selection)
	if !ok {
		return "", false
	}
	next, err := crawler.ResolveURL(p.domain, href)
	if err != nil {
		return "", false
	}
	return next, true
}

var blockMarkers = [][]byte{
	[]byte("gs_captcha_f"),
	[]byte("gs_captcha_ccl"),
	[]byte(`id="captcha-form"`),
	[]byte("/sorry/index"),
	[]byte("unusual traffic from your computer network"),
}

// CheckBlocked recognizes captcha interstitials and the sorry redirect.
func (p *Provider) CheckBlocked(result crawler.FetchResult) bool {
	if strings.Contains(result.URL, "/sorry/") {
		return true
	}
	lower := bytes.ToLower(result.Body)
	for _, marker := range blockMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}
