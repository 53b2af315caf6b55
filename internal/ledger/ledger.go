// Package ledger deduplicates repeated deliveries of the same user action.
package ledger

import "sync"

// DefaultMaxSize is used when a non-positive size is requested.
const DefaultMaxSize = 1000

// Ledger is a bounded set of processed operation ids.
// When an insert would grow the set past its maximum size the set is emptied
// first, so an id older than the last overflow may be processed again.
type Ledger struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	maxSize int
}

// New returns an empty ledger holding at most maxSize ids.
func New(maxSize int) *Ledger {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Ledger{
		seen:    make(map[string]struct{}),
		maxSize: maxSize,
	}
}

// ShouldProcess reports whether opID has not been seen yet and records it.
// It returns true exactly once per id until the ledger is cleared.
func (l *Ledger) ShouldProcess(opID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[opID]; ok {
		return false
	}
	if len(l.seen) >= l.maxSize {
		clear(l.seen)
	}
	l.seen[opID] = struct{}{}
	return true
}

// Forget removes opID so a delivery whose processing failed can be retried.
func (l *Ledger) Forget(opID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, opID)
}

// Len returns the number of ids currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Clear forgets every id.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.seen)
}
