// Package memo memoizes scheduling results within a study session.
package memo

import (
	"math"
	"sync"
	"time"

	"github.com/conorfennell/knolsched/internal/datepolicy"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/srs"
)

// DefaultMaxSize is used when a non-positive size is requested.
const DefaultMaxSize = 1000

// Key identifies one computation. Day is the local calendar day of "now";
// results are noon-anchored so every instant of a day yields the same result.
type Key struct {
	CardID  string
	Quality srs.Quality
	IsDue   bool
	Day     string
}

// snapshot captures every card field the engine reads.
type snapshot struct {
	interval     uint64
	factor       uint64
	reviewCount  int
	correctCount int
	hasNext      bool
	next         int64
}

func snapshotOf(c domain.Card) snapshot {
	s := snapshot{
		interval:     math.Float64bits(c.Interval),
		factor:       math.Float64bits(c.DifficultyFactor),
		reviewCount:  c.ReviewCount,
		correctCount: c.CorrectCount,
	}
	if c.NextReviewDate != nil {
		s.hasNext = true
		s.next = c.NextReviewDate.UnixNano()
	}
	return s
}

type entry struct {
	input  snapshot
	result srs.Result
}

// Cache maps keys to results. An entry only hits when the card it is looked
// up with still has the field values it was computed from, so a stale entry
// degrades to a miss instead of a wrong answer. The whole table is dropped
// when it would grow past its maximum size.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	maxSize int

	hits, misses int
}

// New returns an empty cache holding at most maxSize results.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		entries: make(map[Key]entry),
		maxSize: maxSize,
	}
}

// Get returns the result cached for k if it was computed from card's current state.
func (c *Cache) Get(k Key, card domain.Card) (srs.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok || e.input != snapshotOf(card) {
		c.misses++
		return srs.Result{}, false
	}
	c.hits++
	return e.result, true
}

// Put stores the result computed for card under k.
func (c *Cache) Put(k Key, card domain.Card, r srs.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[k]; !ok && len(c.entries) >= c.maxSize {
		clear(c.entries)
	}
	c.entries[k] = entry{input: snapshotOf(card), result: r}
}

// Invalidate drops every entry for cardID.
func (c *Cache) Invalidate(cardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.CardID == cardID {
			delete(c.entries, k)
		}
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Scheduler is the part of srs.Engine the cache wraps.
type Scheduler interface {
	Apply(card domain.Card, q srs.Quality, isDue bool, now time.Time) srs.Result
	Location() *time.Location
}

// Cached is a Scheduler that consults a Cache before computing.
type Cached struct {
	next  Scheduler
	cache *Cache
}

// Wrap returns a Scheduler that memoizes next's results in cache.
func Wrap(next Scheduler, cache *Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

// Apply returns the cached result for the inputs or computes and stores it.
func (c *Cached) Apply(card domain.Card, q srs.Quality, isDue bool, now time.Time) srs.Result {
	k := Key{
		CardID:  card.ID,
		Quality: q,
		IsDue:   isDue,
		Day:     datepolicy.DayKey(now, c.next.Location()),
	}
	if r, ok := c.cache.Get(k, card); ok {
		return r
	}
	r := c.next.Apply(card, q, isDue, now)
	c.cache.Put(k, card, r)
	return r
}

// Location returns the wrapped scheduler's timezone.
func (c *Cached) Location() *time.Location {
	return c.next.Location()
}

// Invalidate drops the cached results for cardID.
func (c *Cached) Invalidate(cardID string) {
	c.cache.Invalidate(cardID)
}
