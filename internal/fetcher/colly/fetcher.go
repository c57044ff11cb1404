// Package collyfetcher implements crawler.Transport using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"golang.org/x/net/proxy"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
	// MaxBodySize caps response bodies in bytes; 0 keeps colly's default.
	MaxBodySize int
}

// Fetcher performs one HTTP exchange per call through a Colly collector.
// Collectors are kept per egress path; clones share their parent's backend,
// so every proxy endpoint gets its own base collector.
type Fetcher struct {
	cfg Config

	mu    sync.Mutex
	bases map[string]*colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{cfg: cfg, bases: make(map[string]*colly.Collector)}
}

// Do implements crawler.Transport. Cookies travel only through the request;
// the collector keeps no jar between calls.
func (f *Fetcher) Do(ctx context.Context, request crawler.FetchRequest, px *crawler.ProxyConfig) (crawler.FetchResult, error) {
	target, err := request.FullURL()
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("build request url: %w", err)
	}
	base, err := f.baseFor(px)
	if err != nil {
		return crawler.FetchResult{}, err
	}

	var (
		result   crawler.FetchResult
		fetchErr error
	)
	collector := base.Clone()
	collector.Context = ctx
	if request.Header.Get("User-Agent") == "" {
		extensions.RandomUserAgent(collector)
	}
	f.configureCollectorHooks(collector, request, &result, &fetchErr)

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	header := request.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if cookie := cookieHeader(request.Cookies); cookie != "" {
		header.Set("Cookie", cookie)
	}

	done := make(chan error, 1)
	go func() {
		var body *bytes.Reader
		if len(request.Body) > 0 {
			body = bytes.NewReader(request.Body)
			done <- collector.Request(method, target, body, nil, header)
			return
		}
		done <- collector.Request(method, target, nil, nil, header)
	}()

	select {
	case <-ctx.Done():
		return crawler.FetchResult{URL: target}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return crawler.FetchResult{URL: target}, fmt.Errorf("colly request failed: %w", err)
		}
		if fetchErr != nil {
			return crawler.FetchResult{URL: target}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if result.URL == "" {
			result.URL = target
		}
		return result, nil
	}
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	result *crawler.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range request.Header {
			if len(values) == 0 {
				continue
			}
			r.Headers.Set(key, values[0])
			for _, v := range values[1:] {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) baseFor(px *crawler.ProxyConfig) (*colly.Collector, error) {
	key := "direct"
	if px != nil {
		key = px.Protocol + "://" + net.JoinHostPort(px.Host, strconv.Itoa(px.Port))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.bases[key]; ok {
		return c, nil
	}
	transport, err := newHTTPTransport(px)
	if err != nil {
		return nil, err
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	if f.cfg.MaxBodySize > 0 {
		c.MaxBodySize = f.cfg.MaxBodySize
	}
	c.DisableCookies()
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	f.bases[key] = c
	return c, nil
}

func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return strings.Join(parts, "; ")
}

func newHTTPTransport(px *crawler.ProxyConfig) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if px == nil {
		return t, nil
	}
	switch strings.ToLower(px.Protocol) {
	case "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", px.Protocol)
	}
	socks, err := proxy.SOCKS5("tcp", net.JoinHostPort(px.Host, strconv.Itoa(px.Port)), nil, dialer)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	contextDialer, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	t.Proxy = nil
	t.DialContext = contextDialer.DialContext
	return t, nil
}
