package crawler

import "github.com/rotisserie/eris"

// Run error taxonomy. Callers match with eris.Is.
var (
	// ErrProxyUnavailable means the identity rotator could not reach or use
	// its control channel.
	ErrProxyUnavailable = eris.New("proxy unavailable")

	// ErrProxyAuth means the control channel rejected our credentials.
	ErrProxyAuth = eris.New("proxy control authentication failed")

	// ErrFetchRetryExhausted means every attempt for one request failed.
	ErrFetchRetryExhausted = eris.New("fetch retries exhausted")

	// ErrBlockDetected marks an attempt answered with a captcha or block page.
	ErrBlockDetected = eris.New("block page detected")

	// ErrParseAmbiguous marks a fragment that is not a record. Diagnostic only.
	ErrParseAmbiguous = eris.New("fragment is not a record")

	// ErrStorageWriteFailed means the final flush did not persist everything.
	ErrStorageWriteFailed = eris.New("storage write failed")

	// ErrRunInProgress means another run for the same profile holds the lock.
	ErrRunInProgress = eris.New("run already in progress for profile")

	// ErrRunTimeout means the run exceeded its wall-clock budget.
	ErrRunTimeout = eris.New("run timed out")

	// ErrUnknownProvider means no provider is registered under the tag.
	ErrUnknownProvider = eris.New("unknown provider")

	// ErrProfileNotFound is returned by stores for missing profiles.
	ErrProfileNotFound = eris.New("profile not found")
)
