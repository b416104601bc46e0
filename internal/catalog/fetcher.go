// Package catalog tracks per-set pagination state over the Scryfall search
// API: accumulated deduplicated cards, the continuation cursor, and the
// fetch/error flags the UI needs to drive incremental loading.
package catalog

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ramonehamilton/mtg-binder/internal/cache"
	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

// Source is the subset of the Scryfall client the catalog needs.
type Source interface {
	SearchSetPage(ctx context.Context, setCode, pageURL string) (*scryfall.SearchResult, error)
	GetSet(ctx context.Context, code string) (*scryfall.Set, error)
}

// setState is the pagination state for one set.
//
// nextPage is the opaque continuation cursor; empty means "not started" until
// initialized is set, and "exhausted" afterwards. hasMore=false with
// initialized=true and no error is terminal until an explicit Refresh.
type setState struct {
	cards       []scryfall.Card
	seen        map[string]struct{}
	nextPage    string
	hasMore     bool
	fetching    bool
	initialized bool
	lastErr     string
}

// Snapshot is a read-only copy of one set's pagination state.
type Snapshot struct {
	Cards       []scryfall.Card
	HasMore     bool
	Fetching    bool
	Initialized bool
	Err         string
}

// Terminal reports whether nothing is left to do for this set: it has been
// initialized, has no more pages, and its last fetch succeeded.
func (s Snapshot) Terminal() bool {
	return s.Initialized && !s.HasMore && s.Err == ""
}

// Fetcher fetches and accumulates set pages. At most one network fetch per
// set is in flight at any time; separate sets may fetch concurrently.
type Fetcher struct {
	source Source
	store  *cache.Store // optional; nil disables warm starts and snapshots

	// pageDelay is the courtesy delay between sequential page fetches for
	// the same set (Drain). Not applied between independent sets.
	pageDelay time.Duration

	mu   sync.Mutex
	sets map[string]*setState
}

// NewFetcher creates a fetcher. store may be nil.
func NewFetcher(source Source, store *cache.Store) *Fetcher {
	return &Fetcher{
		source:    source,
		store:     store,
		pageDelay: scryfall.RateLimitDelay,
		sets:      make(map[string]*setState),
	}
}

// state returns the state for a set, creating it (seeded from the persisted
// snapshot when available) on first use. Caller must hold f.mu.
func (f *Fetcher) state(setCode string) *setState {
	st, ok := f.sets[setCode]
	if ok {
		return st
	}

	st = &setState{seen: make(map[string]struct{}), hasMore: true}
	if f.store != nil {
		if snap, ok := f.store.SetPage(setCode); ok {
			for i := range snap.Cards {
				card := snap.Cards[i]
				if _, dup := st.seen[card.ID]; dup {
					continue
				}
				st.seen[card.ID] = struct{}{}
				st.cards = append(st.cards, card)
			}
			st.nextPage = snap.NextPage
			st.hasMore = snap.HasMore
			st.initialized = true
			log.Printf("[catalog] Warm start for %s: %d cards, hasMore=%v", setCode, len(st.cards), st.hasMore)
		}
	}
	f.sets[setCode] = st
	return st
}

// FetchNextPage fetches the next page for a set. It returns false without
// doing anything when a fetch for the set is already in flight, or when the
// set is in its terminal success state. On failure the error is recorded on
// the set state (retryable by calling FetchNextPage again with the same
// unresolved cursor) and also returned for callers that want it.
func (f *Fetcher) FetchNextPage(ctx context.Context, setCode string) (bool, error) {
	f.mu.Lock()
	st := f.state(setCode)

	if st.fetching {
		f.mu.Unlock()
		return false, nil
	}
	if st.initialized && !st.hasMore && st.lastErr == "" {
		f.mu.Unlock()
		return false, nil
	}

	st.fetching = true
	cursor := st.nextPage
	f.mu.Unlock()

	// fetching must clear on every path, success or failure.
	defer func() {
		f.mu.Lock()
		st.fetching = false
		f.mu.Unlock()
	}()

	result, err := f.source.SearchSetPage(ctx, setCode, cursor)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		st.lastErr = fmt.Sprintf("failed to load cards for %s: %v", setCode, err)
		log.Printf("[catalog] Page fetch failed for %s: %v", setCode, err)
		return false, err
	}

	added := 0
	for i := range result.Data {
		card := result.Data[i]
		// The source may return overlapping results across retries; the
		// merge must be idempotent.
		if _, dup := st.seen[card.ID]; dup {
			continue
		}
		st.seen[card.ID] = struct{}{}
		st.cards = append(st.cards, card)
		added++
	}

	st.nextPage = result.NextPage
	st.hasMore = result.HasMore
	st.initialized = true
	st.lastErr = ""

	if f.store != nil {
		f.store.PutSetPage(setCode, &cache.PageSnapshot{
			Cards:    st.cards,
			NextPage: st.nextPage,
			HasMore:  st.hasMore,
		})
	}

	log.Printf("[catalog] Fetched page for %s: +%d cards (%d total), hasMore=%v", setCode, added, len(st.cards), st.hasMore)
	return true, nil
}

// Drain fetches remaining pages for a set until it is terminal or a fetch
// fails, inserting the courtesy delay between requests and honoring ctx
// cancellation between pages.
func (f *Fetcher) Drain(ctx context.Context, setCode string) error {
	for {
		snap := f.Snapshot(setCode)
		if snap.Terminal() {
			return nil
		}

		_, err := f.FetchNextPage(ctx, setCode)
		if err != nil {
			return err
		}
		// Either the page landed, the set just became terminal, or another
		// caller holds the in-flight slot; re-check before the next round.
		if f.Snapshot(setCode).Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.pageDelay):
		}
	}
}

// Snapshot returns a copy of the set's current state.
func (f *Fetcher) Snapshot(setCode string) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.state(setCode)
	cards := make([]scryfall.Card, len(st.cards))
	copy(cards, st.cards)
	return Snapshot{
		Cards:       cards,
		HasMore:     st.hasMore,
		Fetching:    st.fetching,
		Initialized: st.initialized,
		Err:         st.lastErr,
	}
}

// LoadedCount returns how many cards have been accumulated for a set.
func (f *Fetcher) LoadedCount(setCode string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state(setCode).cards)
}

// Refresh discards the set's accumulated state so the next fetch restarts
// from an empty list, and drops the persisted snapshot. Guards against stale
// partial data after a long idle period.
func (f *Fetcher) Refresh(setCode string) {
	f.mu.Lock()
	delete(f.sets, setCode)
	f.mu.Unlock()

	if f.store != nil {
		f.store.InvalidateSetPage(setCode)
	}
}

// RefreshAll refreshes every given set.
func (f *Fetcher) RefreshAll(setCodes []string) {
	for _, code := range setCodes {
		f.Refresh(code)
	}
}
