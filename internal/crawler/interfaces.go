package crawler

import (
	"context"
	"time"
)

// Transport performs exactly one HTTP exchange. A non-nil error means no
// response was obtained.
type Transport interface {
	Do(ctx context.Context, request FetchRequest, proxy *ProxyConfig) (FetchResult, error)
}

// IdentityRotator changes the anonymizing egress path.
type IdentityRotator interface {
	Rotate(ctx context.Context) error
	// ProxyConfig returns nil when the control channel is unavailable.
	ProxyConfig(ctx context.Context) *ProxyConfig
}

// Provider is the capability set one search source implements. The engine
// is generic over it.
type Provider interface {
	Tag() string
	Domain() string
	InitialRequest(profile Profile) FetchRequest
	WarmupRequests(profile Profile) []FetchRequest
	// PageRequest builds the request for a resolved next-page URL.
	PageRequest(state *CrawlState, nextURL string) FetchRequest
	ExtractFragments(body []byte) ([]string, error)
	ParseRecord(fragment string) (Record, bool)
	NextPageURL(body []byte) (string, bool)
	CheckBlocked(result FetchResult) bool
}

// Store persists run output and serves profiles.
type Store interface {
	GetProfile(ctx context.Context, profileID string) (Profile, error)
	UpsertRecords(ctx context.Context, profileID string, collection Collection, records []Record) error
	AppendAliasCandidates(ctx context.Context, profileID string, candidates []string) error
	ListRecords(ctx context.Context, profileID string, collection Collection) ([]Record, error)
	StoreAliases(ctx context.Context, profileID string, aliases []string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run-completed events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Sleeper waits between retry attempts. Tests substitute a recorder.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Runner executes one extraction run.
type Runner interface {
	Run(ctx context.Context, profile Profile, providerTag string) RunResult
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type contextSleeper struct{}

func (contextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
