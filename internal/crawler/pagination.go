package crawler

// Default pagination ceilings.
const (
	DefaultMaxRecords = 200
	DefaultMaxPages   = 20
)

// StopReason explains why pagination ended.
type StopReason string

// Stop reasons.
const (
	StopNone       StopReason = ""
	StopMaxRecords StopReason = "max_records"
	StopMaxPages   StopReason = "max_pages"
	StopNoNextLink StopReason = "no_next_link"
)

// Paginator decides whether another results page should be fetched.
type Paginator struct {
	provider   Provider
	maxRecords int
	maxPages   int
}

// NewPaginator builds a Paginator; non-positive ceilings fall back to the
// defaults.
func NewPaginator(provider Provider, maxRecords, maxPages int) *Paginator {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Paginator{provider: provider, maxRecords: maxRecords, maxPages: maxPages}
}

// Next returns the request for the page after state.Page, or nil with the
// reason pagination stops. Ceilings win over an existing next-page link.
func (p *Paginator) Next(state *CrawlState, lastPageBody []byte) (*FetchRequest, StopReason) {
	if state.RecordCount >= p.maxRecords {
		return nil, StopMaxRecords
	}
	if state.Page >= p.maxPages {
		return nil, StopMaxPages
	}
	next, ok := p.provider.NextPageURL(lastPageBody)
	if !ok || next == "" {
		return nil, StopNoNextLink
	}
	req := p.provider.PageRequest(state, next)
	req.Page = state.Page + 1
	return &req, StopNone
}
