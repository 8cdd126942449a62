// Package matching holds the waiting pools used to pair debaters: one default
// pool plus one pool per category. A connection waits in at most one pool.
package matching

import (
	"errors"
	"sync"
	"time"
)

// DefaultPool is the pool key used when no category is requested.
const DefaultPool = ""

// ErrAlreadyQueued is returned by Enqueue when the connection already waits.
var ErrAlreadyQueued = errors.New("matching: already queued")

// Entry is one waiting connection.
type Entry struct {
	ConnID     string
	Identity   string // moderation identity, used for block checks
	Name       string
	Category   string
	EnqueuedAt time.Time
}

// BlockFunc reports whether two identities must not be paired.
type BlockFunc func(a, b string) bool

// Queue is the set of waiting pools. Pools are FIFO by enqueue time.
type Queue struct {
	mu    sync.Mutex
	pools map[string][]Entry
	index map[string]string // conn id -> pool key
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		pools: make(map[string][]Entry),
		index: make(map[string]string),
	}
}

// Enqueue appends e to the pool for e.Category and returns its 1-based
// position in that pool.
func (q *Queue) Enqueue(e Entry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[e.ConnID]; ok {
		return 0, ErrAlreadyQueued
	}
	q.pools[e.Category] = append(q.pools[e.Category], e)
	q.index[e.ConnID] = e.Category
	return len(q.pools[e.Category]), nil
}

// TakeCompatible removes and returns the oldest entry of the category pool
// that is neither the caller nor another connection of the same identity, and
// is not blocked against identity in either direction. Skipped entries keep
// their place.
func (q *Queue) TakeCompatible(category, connID, identity string, blocked BlockFunc) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pool := q.pools[category]
	for i, e := range pool {
		if e.ConnID == connID || e.Identity == identity {
			continue
		}
		if blocked != nil && blocked(identity, e.Identity) {
			continue
		}
		q.removeAtLocked(category, i)
		return e, true
	}
	return Entry{}, false
}

// Remove deletes connID from whichever pool holds it.
func (q *Queue) Remove(connID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	category, ok := q.index[connID]
	if !ok {
		return Entry{}, false
	}
	for i, e := range q.pools[category] {
		if e.ConnID == connID {
			q.removeAtLocked(category, i)
			return e, true
		}
	}
	delete(q.index, connID)
	return Entry{}, false
}

// Contains reports whether connID is waiting.
func (q *Queue) Contains(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[connID]
	return ok
}

// Position returns the 1-based position of connID in its pool, or 0.
func (q *Queue) Position(connID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	category, ok := q.index[connID]
	if !ok {
		return 0
	}
	for i, e := range q.pools[category] {
		if e.ConnID == connID {
			return i + 1
		}
	}
	return 0
}

// Expire removes and returns every entry enqueued before cutoff.
func (q *Queue) Expire(cutoff time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []Entry
	for category, pool := range q.pools {
		kept := pool[:0]
		for _, e := range pool {
			if e.EnqueuedAt.Before(cutoff) {
				expired = append(expired, e)
				delete(q.index, e.ConnID)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(q.pools, category)
		} else {
			q.pools[category] = kept
		}
	}
	return expired
}

// Len returns the number of waiting connections across all pools.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// LenPool returns the number of connections waiting in one pool.
func (q *Queue) LenPool(category string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pools[category])
}

func (q *Queue) removeAtLocked(category string, i int) {
	pool := q.pools[category]
	delete(q.index, pool[i].ConnID)
	pool = append(pool[:i:i], pool[i+1:]...)
	if len(pool) == 0 {
		delete(q.pools, category)
		return
	}
	q.pools[category] = pool
}
