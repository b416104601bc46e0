package catalog

import (
	"context"
	"log"
	"sync"

	"github.com/ramonehamilton/mtg-binder/internal/cache"
	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

// TotalResolver resolves the authoritative total card count per set,
// independent of how many cards have been paged in so far. Lookups are
// best-effort: on failure callers fall back to the loaded-so-far count, so
// progress percentages stay present even when inaccurate.
type TotalResolver struct {
	source Source
	store  *cache.Store // optional

	mu       sync.Mutex
	totals   map[string]int
	absent   map[string]struct{}
	inflight map[string]chan struct{}
}

// NewTotalResolver creates a resolver. store may be nil.
func NewTotalResolver(source Source, store *cache.Store) *TotalResolver {
	return &TotalResolver{
		source:   source,
		store:    store,
		totals:   make(map[string]int),
		absent:   make(map[string]struct{}),
		inflight: make(map[string]chan struct{}),
	}
}

// ResolveTotal returns the total card count for a set. The second return is
// false when the total is not (yet) known: unknown set, transient failure, or
// cancelled context. Concurrent calls for the same set share one lookup.
func (r *TotalResolver) ResolveTotal(ctx context.Context, setCode string) (int, bool) {
	r.mu.Lock()
	if n, ok := r.totals[setCode]; ok {
		r.mu.Unlock()
		return n, true
	}
	if _, ok := r.absent[setCode]; ok {
		r.mu.Unlock()
		return 0, false
	}
	if ch, ok := r.inflight[setCode]; ok {
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, false
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		n, ok := r.totals[setCode]
		return n, ok
	}

	if r.store != nil {
		if n, ok := r.store.SetCount(setCode); ok {
			r.totals[setCode] = n
			r.mu.Unlock()
			return n, true
		}
	}

	ch := make(chan struct{})
	r.inflight[setCode] = ch
	r.mu.Unlock()

	set, err := r.source.GetSet(ctx, setCode)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, setCode)
	defer close(ch)

	if err != nil {
		if scryfall.IsNotFound(err) {
			// Confirmed absent, not a failure; don't retry this session.
			r.absent[setCode] = struct{}{}
		} else {
			log.Printf("[catalog] Total lookup failed for %s: %v", setCode, err)
		}
		return 0, false
	}

	r.totals[setCode] = set.CardCount
	if r.store != nil {
		r.store.PutSetCount(setCode, set.CardCount)
	}
	return set.CardCount, true
}
