package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ramonehamilton/mtg-binder/internal/cache"
	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

// mockSetSource counts GetSet calls and can block them for coalescing tests.
type mockSetSource struct {
	mu    sync.Mutex
	sets  map[string]*scryfall.Set
	errs  map[string]error
	calls int

	started chan struct{}
	release chan struct{}
}

func newMockSetSource() *mockSetSource {
	return &mockSetSource{
		sets: make(map[string]*scryfall.Set),
		errs: make(map[string]error),
	}
}

func (m *mockSetSource) SearchSetPage(_ context.Context, _, _ string) (*scryfall.SearchResult, error) {
	return &scryfall.SearchResult{Object: "list"}, nil
}

func (m *mockSetSource) GetSet(_ context.Context, code string) (*scryfall.Set, error) {
	m.mu.Lock()
	m.calls++
	started, release := m.started, m.release
	m.started = nil
	m.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[code]; ok {
		return nil, err
	}
	if set, ok := m.sets[code]; ok {
		return set, nil
	}
	return nil, &scryfall.NotFoundError{URL: "/sets/" + code}
}

func (m *mockSetSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestTotalResolver_ResolveAndMemoize(t *testing.T) {
	src := newMockSetSource()
	src.sets["spm"] = &scryfall.Set{Code: "spm", CardCount: 230}

	r := NewTotalResolver(src, nil)
	ctx := context.Background()

	n, ok := r.ResolveTotal(ctx, "spm")
	if !ok || n != 230 {
		t.Fatalf("Expected 230, got %d (ok=%v)", n, ok)
	}

	// Second resolve is served from memory.
	n, ok = r.ResolveTotal(ctx, "spm")
	if !ok || n != 230 {
		t.Fatalf("Expected memoized 230, got %d (ok=%v)", n, ok)
	}
	if src.callCount() != 1 {
		t.Errorf("Expected 1 GetSet call, got %d", src.callCount())
	}
}

func TestTotalResolver_UnknownSetNotRetried(t *testing.T) {
	src := newMockSetSource()

	r := NewTotalResolver(src, nil)
	ctx := context.Background()

	if _, ok := r.ResolveTotal(ctx, "nope"); ok {
		t.Fatal("Expected unknown set to resolve to no total")
	}
	if _, ok := r.ResolveTotal(ctx, "nope"); ok {
		t.Fatal("Expected unknown set to stay unresolved")
	}
	if src.callCount() != 1 {
		t.Errorf("Expected a confirmed-absent set to be looked up once, got %d calls", src.callCount())
	}
}

func TestTotalResolver_TransientFailureIsRetryable(t *testing.T) {
	src := newMockSetSource()
	src.errs["spm"] = errors.New("timeout")

	r := NewTotalResolver(src, nil)
	ctx := context.Background()

	if _, ok := r.ResolveTotal(ctx, "spm"); ok {
		t.Fatal("Expected failure to resolve to no total")
	}

	delete(src.errs, "spm")
	src.sets["spm"] = &scryfall.Set{Code: "spm", CardCount: 230}

	n, ok := r.ResolveTotal(ctx, "spm")
	if !ok || n != 230 {
		t.Errorf("Expected retry to succeed with 230, got %d (ok=%v)", n, ok)
	}
	if src.callCount() != 2 {
		t.Errorf("Expected 2 GetSet calls, got %d", src.callCount())
	}
}

func TestTotalResolver_CoalescesConcurrentLookups(t *testing.T) {
	src := newMockSetSource()
	src.sets["spm"] = &scryfall.Set{Code: "spm", CardCount: 230}
	src.started = make(chan struct{})
	src.release = make(chan struct{})

	r := NewTotalResolver(src, nil)
	ctx := context.Background()

	type result struct {
		n  int
		ok bool
	}
	first := make(chan result, 1)
	go func() {
		n, ok := r.ResolveTotal(ctx, "spm")
		first <- result{n, ok}
	}()

	<-src.started

	second := make(chan result, 1)
	go func() {
		n, ok := r.ResolveTotal(ctx, "spm")
		second <- result{n, ok}
	}()

	close(src.release)

	for _, ch := range []chan result{first, second} {
		got := <-ch
		if !got.ok || got.n != 230 {
			t.Errorf("Expected 230, got %d (ok=%v)", got.n, got.ok)
		}
	}
	if src.callCount() != 1 {
		t.Errorf("Expected concurrent lookups to share 1 GetSet call, got %d", src.callCount())
	}
}

func TestTotalResolver_PersistedCountSkipsNetwork(t *testing.T) {
	store, err := cache.Open(":memory:")
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	defer store.Close()
	store.PutSetCount("spm", 230)

	src := newMockSetSource()
	r := NewTotalResolver(src, store)

	n, ok := r.ResolveTotal(context.Background(), "spm")
	if !ok || n != 230 {
		t.Fatalf("Expected persisted 230, got %d (ok=%v)", n, ok)
	}
	if src.callCount() != 0 {
		t.Errorf("Expected no GetSet calls, got %d", src.callCount())
	}
}
