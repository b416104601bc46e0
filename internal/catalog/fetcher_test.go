package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ramonehamilton/mtg-binder/internal/cache"
	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

type pageKey struct{ set, cursor string }

// mockSource serves canned pages keyed by (set, cursor).
type mockSource struct {
	mu    sync.Mutex
	pages map[pageKey]*scryfall.SearchResult
	errs  map[pageKey]error
	sets  map[string]*scryfall.Set
	calls int

	// When set, SearchSetPage signals started and blocks until release closes.
	started chan struct{}
	release chan struct{}
}

func newMockSource() *mockSource {
	return &mockSource{
		pages: make(map[pageKey]*scryfall.SearchResult),
		errs:  make(map[pageKey]error),
		sets:  make(map[string]*scryfall.Set),
	}
}

func (m *mockSource) SearchSetPage(_ context.Context, setCode, pageURL string) (*scryfall.SearchResult, error) {
	m.mu.Lock()
	m.calls++
	started, release := m.started, m.release
	m.mu.Unlock()

	if started != nil {
		close(started)
		m.mu.Lock()
		m.started = nil
		m.mu.Unlock()
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := pageKey{setCode, pageURL}
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	if page, ok := m.pages[key]; ok {
		return page, nil
	}
	return &scryfall.SearchResult{Object: "list"}, nil
}

func (m *mockSource) GetSet(_ context.Context, code string) (*scryfall.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[code]; ok {
		return set, nil
	}
	return nil, &scryfall.NotFoundError{URL: "/sets/" + code}
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func card(id, number string) scryfall.Card {
	return scryfall.Card{
		ID:              id,
		Name:            "Card " + id,
		SetCode:         "spm",
		CollectorNumber: number,
		Finishes:        []scryfall.Finish{scryfall.FinishNonfoil, scryfall.FinishFoil},
	}
}

func TestFetcher_PaginatesAndDeduplicates(t *testing.T) {
	src := newMockSource()
	src.pages[pageKey{"spm", ""}] = &scryfall.SearchResult{
		Data:     []scryfall.Card{card("a", "1"), card("b", "2")},
		HasMore:  true,
		NextPage: "p2",
	}
	// Second page overlaps the first; the merge must stay idempotent.
	src.pages[pageKey{"spm", "p2"}] = &scryfall.SearchResult{
		Data:    []scryfall.Card{card("b", "2"), card("c", "3")},
		HasMore: false,
	}

	f := NewFetcher(src, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		progressed, err := f.FetchNextPage(ctx, "spm")
		if err != nil {
			t.Fatalf("FetchNextPage %d failed: %v", i+1, err)
		}
		if !progressed {
			t.Fatalf("FetchNextPage %d: expected progress", i+1)
		}
	}

	snap := f.Snapshot("spm")
	if len(snap.Cards) != 3 {
		t.Errorf("Expected 3 deduplicated cards, got %d", len(snap.Cards))
	}
	if !snap.Terminal() {
		t.Errorf("Expected terminal state, got %+v", snap)
	}

	// Terminal state: further calls are no-ops until refresh.
	progressed, err := f.FetchNextPage(ctx, "spm")
	if err != nil || progressed {
		t.Errorf("Expected no-op in terminal state, got progressed=%v err=%v", progressed, err)
	}
	if src.callCount() != 2 {
		t.Errorf("Expected 2 network calls, got %d", src.callCount())
	}
}

func TestFetcher_CoalescesConcurrentFetches(t *testing.T) {
	src := newMockSource()
	src.pages[pageKey{"spm", ""}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("a", "1")},
	}
	src.started = make(chan struct{})
	src.release = make(chan struct{})

	f := NewFetcher(src, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := f.FetchNextPage(ctx, "spm"); err != nil {
			t.Errorf("first FetchNextPage failed: %v", err)
		}
	}()

	<-src.started

	// Second trigger while the first is outstanding must be a no-op.
	progressed, err := f.FetchNextPage(ctx, "spm")
	if err != nil {
		t.Fatalf("second FetchNextPage failed: %v", err)
	}
	if progressed {
		t.Error("Expected overlapping fetch to be a no-op")
	}

	close(src.release)
	<-done

	if src.callCount() != 1 {
		t.Errorf("Expected exactly 1 network call, got %d", src.callCount())
	}
	if got := len(f.Snapshot("spm").Cards); got != 1 {
		t.Errorf("Expected 1 card after single state update, got %d", got)
	}
}

func TestFetcher_ErrorRecordedAndRetryable(t *testing.T) {
	src := newMockSource()
	src.errs[pageKey{"spm", ""}] = errors.New("connection reset")

	f := NewFetcher(src, nil)
	ctx := context.Background()

	progressed, err := f.FetchNextPage(ctx, "spm")
	if err == nil || progressed {
		t.Fatalf("Expected failure, got progressed=%v err=%v", progressed, err)
	}

	snap := f.Snapshot("spm")
	if snap.Err == "" {
		t.Error("Expected recorded error message")
	}
	if snap.Terminal() {
		t.Error("Errored state must not be terminal")
	}
	if snap.Fetching {
		t.Error("fetching flag must clear after a failed fetch")
	}

	// Retry maps 1:1 to another call with the same unresolved cursor.
	delete(src.errs, pageKey{"spm", ""})
	src.pages[pageKey{"spm", ""}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("a", "1")},
	}

	progressed, err = f.FetchNextPage(ctx, "spm")
	if err != nil || !progressed {
		t.Fatalf("Expected retry to succeed, got progressed=%v err=%v", progressed, err)
	}

	snap = f.Snapshot("spm")
	if snap.Err != "" {
		t.Errorf("Expected error cleared on success, got %q", snap.Err)
	}
	if !snap.Terminal() {
		t.Errorf("Expected terminal state after final page, got %+v", snap)
	}
}

func TestFetcher_RefreshRestartsFromEmpty(t *testing.T) {
	src := newMockSource()
	src.pages[pageKey{"spm", ""}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("a", "1"), card("b", "2")},
	}

	f := NewFetcher(src, nil)
	ctx := context.Background()

	if _, err := f.FetchNextPage(ctx, "spm"); err != nil {
		t.Fatalf("FetchNextPage failed: %v", err)
	}
	if got := f.LoadedCount("spm"); got != 2 {
		t.Fatalf("Expected 2 cards, got %d", got)
	}

	f.Refresh("spm")

	snap := f.Snapshot("spm")
	if len(snap.Cards) != 0 || snap.Initialized {
		t.Errorf("Expected empty uninitialized state after refresh, got %+v", snap)
	}

	// Next fetch restarts from the beginning, not an append.
	if _, err := f.FetchNextPage(ctx, "spm"); err != nil {
		t.Fatalf("FetchNextPage after refresh failed: %v", err)
	}
	if got := f.LoadedCount("spm"); got != 2 {
		t.Errorf("Expected 2 cards after refetch, got %d", got)
	}
}

func TestFetcher_Drain(t *testing.T) {
	src := newMockSource()
	src.pages[pageKey{"spm", ""}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("a", "1")}, HasMore: true, NextPage: "p2",
	}
	src.pages[pageKey{"spm", "p2"}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("b", "2")}, HasMore: true, NextPage: "p3",
	}
	src.pages[pageKey{"spm", "p3"}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("c", "3")},
	}

	f := NewFetcher(src, nil)
	f.pageDelay = time.Millisecond

	if err := f.Drain(context.Background(), "spm"); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	snap := f.Snapshot("spm")
	if len(snap.Cards) != 3 || !snap.Terminal() {
		t.Errorf("Expected 3 cards and terminal state, got %d cards, terminal=%v", len(snap.Cards), snap.Terminal())
	}
}

func TestFetcher_DrainStopsOnError(t *testing.T) {
	src := newMockSource()
	src.pages[pageKey{"spm", ""}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("a", "1")}, HasMore: true, NextPage: "p2",
	}
	src.errs[pageKey{"spm", "p2"}] = errors.New("boom")

	f := NewFetcher(src, nil)
	f.pageDelay = time.Millisecond

	if err := f.Drain(context.Background(), "spm"); err == nil {
		t.Fatal("Expected Drain to surface the fetch error")
	}
	if got := len(f.Snapshot("spm").Cards); got != 1 {
		t.Errorf("Expected partial progress of 1 card, got %d", got)
	}
}

func TestFetcher_DrainHonorsCancellation(t *testing.T) {
	src := newMockSource()
	src.pages[pageKey{"spm", ""}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("a", "1")}, HasMore: true, NextPage: "p2",
	}
	src.pages[pageKey{"spm", "p2"}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("b", "2")}, HasMore: true, NextPage: "p3",
	}

	f := NewFetcher(src, nil)
	f.pageDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.Drain(ctx, "spm"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFetcher_WarmStartFromSnapshot(t *testing.T) {
	store, err := cache.Open(":memory:")
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	defer store.Close()

	store.PutSetPage("spm", &cache.PageSnapshot{
		Cards:    []scryfall.Card{card("a", "1")},
		NextPage: "p2",
		HasMore:  true,
	})

	src := newMockSource()
	src.pages[pageKey{"spm", "p2"}] = &scryfall.SearchResult{
		Data: []scryfall.Card{card("b", "2")},
	}

	f := NewFetcher(src, store)

	snap := f.Snapshot("spm")
	if len(snap.Cards) != 1 || !snap.Initialized || !snap.HasMore {
		t.Fatalf("Expected warm-started state, got %+v", snap)
	}

	// Continues from the persisted cursor, not from the beginning.
	if _, err := f.FetchNextPage(context.Background(), "spm"); err != nil {
		t.Fatalf("FetchNextPage failed: %v", err)
	}
	if got := f.LoadedCount("spm"); got != 2 {
		t.Errorf("Expected 2 cards after continuing pagination, got %d", got)
	}
	if src.callCount() != 1 {
		t.Errorf("Expected 1 network call, got %d", src.callCount())
	}
}
