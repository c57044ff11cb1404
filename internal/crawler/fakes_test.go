package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type scriptedResponse struct {
	status int
	body   string
	header http.Header
	err    error
}

// fakeTransport serves scripted responses per URL; the last response for a
// URL repeats once the script is exhausted.
type fakeTransport struct {
	mu       sync.Mutex
	scripts  map[string][]scriptedResponse
	requests []FetchRequest
	onDo     func(FetchRequest)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{scripts: make(map[string][]scriptedResponse)}
}

func (f *fakeTransport) script(url string, responses ...scriptedResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[url] = append(f.scripts[url], responses...)
}

func (f *fakeTransport) Do(_ context.Context, req FetchRequest, _ *ProxyConfig) (FetchResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	script := f.scripts[req.URL]
	var resp scriptedResponse
	switch len(script) {
	case 0:
		resp = scriptedResponse{status: http.StatusNotFound}
	case 1:
		resp = script[0]
	default:
		resp = script[0]
		f.scripts[req.URL] = script[1:]
	}
	hook := f.onDo
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if resp.err != nil {
		return FetchResult{URL: req.URL}, resp.err
	}
	return FetchResult{URL: req.URL, StatusCode: resp.status, Body: []byte(resp.body), Header: resp.header}, nil
}

func (f *fakeTransport) calls() []FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchRequest(nil), f.requests...)
}

// lineProvider parses a line format: "id|title|author;author" per record and
// "NEXT:url" for the next-page link. "CAPTCHA" marks a block page.
type lineProvider struct {
	start  string
	warmup []FetchRequest
}

func (p *lineProvider) Tag() string    { return "lines" }
func (p *lineProvider) Domain() string { return "example.test" }

func (p *lineProvider) InitialRequest(profile Profile) FetchRequest {
	return FetchRequest{Method: http.MethodGet, URL: p.start, Label: profile.SearchHandle}
}

func (p *lineProvider) WarmupRequests(Profile) []FetchRequest { return p.warmup }

func (p *lineProvider) PageRequest(_ *CrawlState, nextURL string) FetchRequest {
	return FetchRequest{Method: http.MethodGet, URL: nextURL}
}

func (p *lineProvider) ExtractFragments(body []byte) ([]string, error) {
	var out []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "NEXT:") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func (p *lineProvider) ParseRecord(fragment string) (Record, bool) {
	parts := strings.Split(fragment, "|")
	if len(parts) != 3 || parts[1] == "" {
		return Record{}, false
	}
	var authors []string
	for _, a := range strings.Split(parts[2], ";") {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	if len(authors) == 0 {
		return Record{}, false
	}
	return Record{SourceID: parts[0], Title: parts[1], Authors: authors}, true
}

func (p *lineProvider) NextPageURL(body []byte) (string, bool) {
	for _, line := range strings.Split(string(body), "\n") {
		if next, ok := strings.CutPrefix(strings.TrimSpace(line), "NEXT:"); ok {
			return next, next != ""
		}
	}
	return "", false
}

func (p *lineProvider) CheckBlocked(result FetchResult) bool {
	return bytes.Contains(result.Body, []byte("CAPTCHA"))
}

type fakeRotator struct {
	mu      sync.Mutex
	rotated int
	proxy   *ProxyConfig
	err     error
}

func (r *fakeRotator) Rotate(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotated++
	return r.err
}

func (r *fakeRotator) ProxyConfig(context.Context) *ProxyConfig {
	return r.proxy
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	records    map[Collection][]Record
	candidates []string
	upserts    int
	err        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[Collection][]Record)}
}

func (s *fakeStore) GetProfile(_ context.Context, id string) (Profile, error) {
	return Profile{}, fmt.Errorf("profile %s: %w", id, ErrProfileNotFound)
}

func (s *fakeStore) UpsertRecords(_ context.Context, _ string, c Collection, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.err != nil {
		return s.err
	}
	s.records[c] = append(s.records[c], records...)
	return nil
}

func (s *fakeStore) AppendAliasCandidates(_ context.Context, _ string, candidates []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.candidates = append(s.candidates, candidates...)
	return nil
}

func (s *fakeStore) ListRecords(_ context.Context, _ string, c Collection) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records[c]...), nil
}

func (s *fakeStore) StoreAliases(context.Context, string, []string) error { return nil }

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (b *fakeBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("msg-%d", len(p.payloads)), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
