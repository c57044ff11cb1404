package crawler

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Default fetch policy values.
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelayMin = 6 * time.Second
	DefaultRetryDelayMax = 10 * time.Second
)

// DefaultFetchPolicy returns the policy used for results pages.
func DefaultFetchPolicy() FetchPolicy {
	return FetchPolicy{
		MaxRetries:    DefaultMaxRetries,
		RetryDelayMin: DefaultRetryDelayMin,
		RetryDelayMax: DefaultRetryDelayMax,
	}
}

// normalized clamps nonsensical values to a usable policy.
func (p FetchPolicy) normalized() FetchPolicy {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.RetryDelayMin < 0 {
		p.RetryDelayMin = 0
	}
	if p.RetryDelayMax < p.RetryDelayMin {
		p.RetryDelayMax = p.RetryDelayMin
	}
	return p
}

// RetryDelay draws a uniform random whole number of seconds from
// [RetryDelayMin, RetryDelayMax].
func (p FetchPolicy) RetryDelay() time.Duration {
	p = p.normalized()
	lo := int64(p.RetryDelayMin / time.Second)
	hi := int64(p.RetryDelayMax / time.Second)
	if hi <= lo {
		return time.Duration(lo) * time.Second
	}
	n, err := rand.Int(rand.Reader, big.NewInt(hi-lo+1))
	if err != nil {
		return time.Duration(lo) * time.Second
	}
	return time.Duration(lo+n.Int64()) * time.Second
}
