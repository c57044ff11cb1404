package crawler

import "sync"

// RunLocks guarantees at most one concurrent run per profile.
type RunLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRunLocks returns an empty lock table.
func NewRunLocks() *RunLocks {
	return &RunLocks{active: make(map[string]struct{})}
}

// TryAcquire takes the lock for profileID. The returned release func is
// idempotent. ok is false when a run already holds the lock.
func (l *RunLocks) TryAcquire(profileID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[profileID]; busy {
		return func() {}, false
	}
	l.active[profileID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, profileID)
			l.mu.Unlock()
		})
	}, true
}

// Active reports whether profileID currently holds a lock.
func (l *RunLocks) Active(profileID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[profileID]
	return ok
}
