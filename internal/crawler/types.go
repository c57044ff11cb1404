// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/scholar-crawler/internal/hash/sha256"
)

// Collection names the logical bucket a record is persisted into.
type Collection string

// Record collections.
const (
	CollectionOwned  Collection = "owned"
	CollectionOthers Collection = "others"
)

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	return c == CollectionOwned || c == CollectionOthers
}

// Profile is the researcher on whose behalf a run executes.
type Profile struct {
	ID               string   `json:"id" mapstructure:"id"`
	Name             string   `json:"name" mapstructure:"name"`
	SearchHandle     string   `json:"search_handle" mapstructure:"search_handle"`
	KnownAliases     []string `json:"known_aliases" mapstructure:"known_aliases"`
	CandidateAliases []string `json:"candidate_aliases" mapstructure:"candidate_aliases"`
}

// Record is one extracted bibliographic entry.
type Record struct {
	SourceID    string   `json:"source_id"`
	Title       string   `json:"title"`
	Year        string   `json:"year"`
	SourceURL   string   `json:"source_url"`
	Description string   `json:"description"`
	Citations   int      `json:"citations"`
	Versions    int      `json:"versions"`
	RelatedURL  string   `json:"related_url"`
	Authors     []string `json:"authors"`
}

// Key returns the storage identity of the record. Records without a source
// identifier are keyed by a hash of title, year and first author.
func (r Record) Key() string {
	if r.SourceID != "" {
		return r.SourceID
	}
	first := ""
	if len(r.Authors) > 0 {
		first = r.Authors[0]
	}
	return "h:" + sha256.Fields(32, r.Title, r.Year, first)
}

// Valid reports whether the record carries the fields classification needs.
func (r Record) Valid() bool {
	return strings.TrimSpace(r.Title) != "" && len(r.Authors) > 0
}

// ErrorClass is the Fetcher's verdict on one attempt.
type ErrorClass int

// Fetch classifications.
const (
	ClassNone ErrorClass = iota
	ClassRetryable
	ClassBlocked
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRetryable:
		return "retryable"
	case ClassBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// FetchRequest captures everything needed to issue one request.
type FetchRequest struct {
	Method  string
	URL     string
	Header  http.Header
	Query   url.Values
	Body    []byte
	Cookies []*http.Cookie
	// Page is the results page this request belongs to; 0 marks warm-up traffic.
	Page  int
	Label string
}

// FullURL returns URL with Query merged into its query string.
func (r FetchRequest) FullURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, values := range r.Query {
			q.Del(k)
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ProxyConfig describes the current egress path.
type ProxyConfig struct {
	Protocol string
	Host     string
	Port     int
}

// FetchPolicy bounds the retry behavior of one Fetch call.
type FetchPolicy struct {
	MaxRetries    int
	RetryDelayMin time.Duration
	RetryDelayMax time.Duration
	Proxy         *ProxyConfig
}

// FetchResult is the outcome of the last attempt of a Fetch call.
type FetchResult struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Class      ErrorClass
	SavePath   string
	Attempt    int
	Err        error
}

// Failed reports whether the attempt was not a success.
func (r FetchResult) Failed() bool {
	return r.Class != ClassNone
}

// CrawlState is the mutable state of a single run.
type CrawlState struct {
	Page        int
	RecordCount int
	LastURL     string
	Cookies     []*http.Cookie
	Done        bool
}

// NewCrawlState returns state positioned on the first page.
func NewCrawlState() *CrawlState {
	return &CrawlState{Page: 1}
}

// RememberCookies merges cookies by name, later values winning.
func (s *CrawlState) RememberCookies(cookies []*http.Cookie) {
	for _, c := range cookies {
		replaced := false
		for i, existing := range s.Cookies {
			if existing.Name == c.Name {
				s.Cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.Cookies = append(s.Cookies, c)
		}
	}
}

// RunStatus is the terminal verdict of a run.
type RunStatus string

// Run status values.
const (
	RunSucceeded RunStatus = "success"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failure"
)

// Phase names the orchestrator state machine positions.
type Phase string

// Orchestrator phases.
const (
	PhaseInit        Phase = "INIT"
	PhaseWarmup      Phase = "WARMUP"
	PhasePaging      Phase = "PAGING"
	PhaseFinalizing  Phase = "FINALIZING"
	PhaseDone        Phase = "DONE"
	PhaseProxyFailed Phase = "PROXY_FAILED"
)

// RunResult is what the caller of a run receives.
type RunResult struct {
	RunID              string    `json:"run_id"`
	ProfileID          string    `json:"profile_id"`
	Provider           string    `json:"provider"`
	Status             RunStatus `json:"status"`
	Phase              Phase     `json:"phase"`
	RecordCount        int       `json:"record_count"`
	OwnedCount         int       `json:"owned_count"`
	OtherCount         int       `json:"other_count"`
	NewAliasCandidates []string  `json:"new_alias_candidates"`
	Pages              int       `json:"pages"`
	ArchiveURI         string    `json:"archive_uri,omitempty"`
	Message            string    `json:"message"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Err                error     `json:"-"`
}
