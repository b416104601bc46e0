// Package collection is the aggregation engine: it merges per-set paginated
// card lists with the ownership ledger and serves a filtered, sorted,
// variant-expanded view plus derived statistics, windowed by a render limit
// independent of network pagination.
package collection

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/ramonehamilton/mtg-binder/internal/catalog"
	"github.com/ramonehamilton/mtg-binder/internal/ledger"
	"github.com/ramonehamilton/mtg-binder/internal/products"
	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

// ScopeAll aggregates every visible set in configured order.
const ScopeAll = "all"

// DefaultRenderBatch is the render-limit growth step when the caller does
// not supply a device-sensitive batch size.
const DefaultRenderBatch = 30

// SortOption selects the ordering of the computed view.
type SortOption int

const (
	SortNumberAsc SortOption = iota
	SortNumberDesc
	SortPriceAsc
	SortPriceDesc
)

func (s SortOption) byPrice() bool {
	return s == SortPriceAsc || s == SortPriceDesc
}

// OwnershipFilter restricts the view to owned or missing entries.
type OwnershipFilter int

const (
	OwnershipAll OwnershipFilter = iota
	OwnershipOwned
	OwnershipMissing
)

// BoosterFilter restricts the view to cards obtainable from one booster
// product category.
type BoosterFilter int

const (
	BoosterAll BoosterFilter = iota
	BoosterPlay
	BoosterCollector
)

// Row is one entry of the computed view. An empty Variant means both
// finishes render as one entry; a concrete finish means only that finish.
type Row struct {
	Card    scryfall.Card
	Variant scryfall.Finish

	sortPrice float64
}

// Query is one view request.
type Query struct {
	Scope      string
	Sort       SortOption
	Ownership  OwnershipFilter
	Booster    BoosterFilter
	Search     string
	GroupBySet bool
}

// Stats are the toolbar statistics, computed over the unfiltered scope so
// they do not fluctuate with search or filter state.
type Stats struct {
	TotalCards int
	OwnedCount int
	TotalValue float64
	Percentage int
}

// Options configures an Engine.
type Options struct {
	// SetOrder lists the visible set codes in display order; it defines
	// ScopeAll and the group-by-set primary sort key.
	SetOrder []string

	// RenderBatch is the render-limit growth step. Zero selects
	// DefaultRenderBatch.
	RenderBatch int

	// BoosterMap enables the booster product filter when present.
	BoosterMap products.BoosterMap
}

// Engine computes collection views. It holds no card data itself; cards come
// from the catalog fetcher, ownership from the ledger.
type Engine struct {
	fetcher *catalog.Fetcher
	totals  *catalog.TotalResolver
	ledger  ledger.Store

	drainCtx    context.Context
	drainCancel context.CancelFunc

	mu          sync.Mutex
	setOrder    []string
	boosters    products.BoosterMap
	renderBatch int
	renderLimit int
	draining    map[string]bool
}

// NewEngine creates an aggregation engine.
func NewEngine(fetcher *catalog.Fetcher, totals *catalog.TotalResolver, store ledger.Store, opts Options) *Engine {
	batch := opts.RenderBatch
	if batch <= 0 {
		batch = DefaultRenderBatch
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		fetcher:     fetcher,
		totals:      totals,
		ledger:      store,
		drainCtx:    ctx,
		drainCancel: cancel,
		setOrder:    opts.SetOrder,
		boosters:    opts.BoosterMap,
		renderBatch: batch,
		renderLimit: batch,
		draining:    make(map[string]bool),
	}
}

// SetBoosterMap installs booster metadata once its (slow) load completes.
func (e *Engine) SetBoosterMap(m products.BoosterMap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.boosters = m
}

// SetOrder replaces the visible set order, e.g. after a settings change.
func (e *Engine) SetOrder(setCodes []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setOrder = setCodes
}

// Close cancels background work started by the engine.
func (e *Engine) Close() {
	e.drainCancel()
}

func (e *Engine) scopeSets(scope string) []string {
	if scope == ScopeAll {
		e.mu.Lock()
		defer e.mu.Unlock()
		return append([]string(nil), e.setOrder...)
	}
	return []string{scope}
}

// scopeCards gathers the unioned, identity-deduplicated card list for a
// scope, flattening each set's accumulated pages in configured order.
func (e *Engine) scopeCards(scope string) []scryfall.Card {
	var cards []scryfall.Card
	seen := make(map[string]struct{})
	for _, setCode := range e.scopeSets(scope) {
		for _, card := range e.fetcher.Snapshot(setCode).Cards {
			if _, dup := seen[card.ID]; dup {
				continue
			}
			seen[card.ID] = struct{}{}
			cards = append(cards, card)
		}
	}
	return cards
}

// ComputeView runs the full filter/sort/expansion pipeline for a query.
// When a search query is active on a single-set scope it also kicks off a
// background drain of that set's remaining pages so search results are not
// silently incomplete.
func (e *Engine) ComputeView(ctx context.Context, q Query) []Row {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	if search != "" && q.Scope != ScopeAll {
		e.drainForSearch(q.Scope)
	}

	cards := e.scopeCards(q.Scope)
	owned := e.ledger.Snapshot()

	if search != "" {
		filtered := cards[:0]
		for _, card := range cards {
			if strings.Contains(strings.ToLower(card.Name), search) ||
				strings.Contains(strings.ToLower(card.CollectorNumber), search) {
				filtered = append(filtered, card)
			}
		}
		cards = filtered
	}

	restrict := e.boosterRestriction(q.Booster)
	if restrict != nil {
		filtered := cards[:0]
		for _, card := range cards {
			if restrict(card) != nil {
				filtered = append(filtered, card)
			}
		}
		cards = filtered
	}

	// Card-level ownership filtering applies to the number-sort path only;
	// the price-sort path defers it until after variant expansion, because a
	// card can be owned in foil and missing in nonfoil at the same time.
	if !q.Sort.byPrice() {
		switch q.Ownership {
		case OwnershipOwned:
			filtered := cards[:0]
			for _, card := range cards {
				if rec, ok := owned[card.ID]; ok && rec.AnyOwned() {
					filtered = append(filtered, card)
				}
			}
			cards = filtered
		case OwnershipMissing:
			filtered := cards[:0]
			for _, card := range cards {
				if rec, ok := owned[card.ID]; !ok || !rec.AnyOwned() {
					filtered = append(filtered, card)
				}
			}
			cards = filtered
		}
		return e.numberSortedRows(cards, q, restrict)
	}

	return e.priceSortedRows(cards, q, owned, restrict)
}

// boosterRestriction returns a per-card lookup of the finishes permitted by
// the active booster filter, or nil when the filter is inactive or metadata
// has not loaded. A nil FinishSet from the lookup means "drop the card".
func (e *Engine) boosterRestriction(filter BoosterFilter) func(scryfall.Card) products.FinishSet {
	e.mu.Lock()
	boosters := e.boosters
	e.mu.Unlock()

	if filter == BoosterAll || boosters == nil {
		return nil
	}
	return func(card scryfall.Card) products.FinishSet {
		entry, ok := boosters.Entry(card.SetCode, card.CollectorNumber)
		if !ok {
			return nil
		}
		bucket := entry.Play
		if filter == BoosterCollector {
			bucket = entry.Collector
		}
		if len(bucket) == 0 {
			return nil
		}
		return bucket
	}
}

func (e *Engine) numberSortedRows(cards []scryfall.Card, q Query, restrict func(scryfall.Card) products.FinishSet) []Row {
	setIndex := make(map[string]int)
	for i, setCode := range e.scopeSets(q.Scope) {
		setIndex[setCode] = i
	}

	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i], cards[j]
		if q.Scope == ScopeAll && q.GroupBySet {
			// Set order stays ascending regardless of sort direction.
			if d := setIndex[a.SetCode] - setIndex[b.SetCode]; d != 0 {
				return d < 0
			}
		}
		an, bn := parseLeadingInt(a.CollectorNumber), parseLeadingInt(b.CollectorNumber)
		if q.Sort == SortNumberDesc {
			return bn < an
		}
		return an < bn
	})

	if restrict != nil {
		// Expand to show only the variants available in the selected booster.
		var rows []Row
		for _, card := range cards {
			variants := restrict(card)
			if variants[scryfall.FinishNonfoil] && card.HasFinish(scryfall.FinishNonfoil) {
				rows = append(rows, Row{Card: card, Variant: scryfall.FinishNonfoil})
			}
			if variants[scryfall.FinishFoil] && card.HasFinish(scryfall.FinishFoil) {
				rows = append(rows, Row{Card: card, Variant: scryfall.FinishFoil})
			}
		}
		return rows
	}

	rows := make([]Row, len(cards))
	for i, card := range cards {
		rows[i] = Row{Card: card}
	}
	return rows
}

func (e *Engine) priceSortedRows(cards []scryfall.Card, q Query, owned map[string]ledger.Record, restrict func(scryfall.Card) products.FinishSet) []Row {
	var rows []Row
	for _, card := range cards {
		var variants products.FinishSet
		if restrict != nil {
			variants = restrict(card)
		}
		showNonfoil := card.HasFinish(scryfall.FinishNonfoil) && (restrict == nil || variants[scryfall.FinishNonfoil])
		showFoil := card.HasFinish(scryfall.FinishFoil) && (restrict == nil || variants[scryfall.FinishFoil])

		// An absent price sorts as 0, never excluding the row outright.
		if showNonfoil {
			price, _ := ParsePrice(card.Prices.EUR)
			rows = append(rows, Row{Card: card, Variant: scryfall.FinishNonfoil, sortPrice: price})
		}
		if showFoil {
			price, _ := ParsePrice(card.Prices.EURFoil)
			rows = append(rows, Row{Card: card, Variant: scryfall.FinishFoil, sortPrice: price})
		}
	}

	// Deferred per-variant ownership filter.
	switch q.Ownership {
	case OwnershipOwned:
		filtered := rows[:0]
		for _, row := range rows {
			if rec, ok := owned[row.Card.ID]; ok && rec.OwnedFor(row.Variant) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	case OwnershipMissing:
		filtered := rows[:0]
		for _, row := range rows {
			rec, ok := owned[row.Card.ID]
			if !ok || !rec.OwnedFor(row.Variant) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if q.Sort == SortPriceDesc {
			return rows[j].sortPrice < rows[i].sortPrice
		}
		return rows[i].sortPrice < rows[j].sortPrice
	})
	return rows
}

// Stats computes toolbar statistics over the unfiltered scope. The total
// card count prefers the resolved authoritative per-set totals, falling back
// to the loaded-so-far count until each total resolves.
func (e *Engine) Stats(ctx context.Context, scope string) Stats {
	owned := e.ledger.Snapshot()

	var total int
	for _, setCode := range e.scopeSets(scope) {
		if n, ok := e.totals.ResolveTotal(ctx, setCode); ok {
			total += n
		} else {
			total += e.fetcher.LoadedCount(setCode)
		}
	}

	var ownedCount int
	var totalValue float64
	for _, card := range e.scopeCards(scope) {
		rec, ok := owned[card.ID]
		if !ok {
			continue
		}
		if rec.AnyOwned() {
			// Owned counts once per card, not per finish.
			ownedCount++
		}
		if rec.OwnedNonfoil {
			totalValue += finishValue(rec.CustomPrice, card.Prices.EUR, rec.QuantityNonfoil)
		}
		if rec.OwnedFoil {
			totalValue += finishValue(rec.CustomPriceFoil, card.Prices.EURFoil, rec.QuantityFoil)
		}
	}

	percentage := 0
	if total > 0 {
		percentage = int(float64(ownedCount)/float64(total)*100 + 0.5)
	}
	return Stats{
		TotalCards: total,
		OwnedCount: ownedCount,
		TotalValue: totalValue,
		Percentage: percentage,
	}
}

// finishValue is one finish's contribution to the collection value: the
// custom override when present, else the catalog price, times quantity.
// Unparsable prices contribute zero rather than aborting the sum.
func finishValue(custom *float64, catalogPrice *string, quantity int) float64 {
	if quantity < 1 {
		quantity = 1
	}
	if custom != nil {
		return *custom * float64(quantity)
	}
	if price, ok := ParsePrice(catalogPrice); ok {
		return price * float64(quantity)
	}
	return 0
}

// VisibleRows returns the current render window over the computed view.
func (e *Engine) VisibleRows(ctx context.Context, q Query) []Row {
	rows := e.ComputeView(ctx, q)
	e.mu.Lock()
	limit := e.renderLimit
	e.mu.Unlock()
	if limit < len(rows) {
		return rows[:limit]
	}
	return rows
}

// LoadNextPage advances the view window. It first grows the render limit
// when already-fetched rows remain unrendered; only when the renderable
// buffer is exhausted does it trigger a network fetch for the first set in
// scope with pages remaining.
func (e *Engine) LoadNextPage(ctx context.Context, q Query) error {
	rows := e.ComputeView(ctx, q)

	e.mu.Lock()
	if e.renderLimit < len(rows) {
		e.renderLimit += e.renderBatch
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	for _, setCode := range e.scopeSets(q.Scope) {
		snap := e.fetcher.Snapshot(setCode)
		if snap.Terminal() || snap.Fetching {
			continue
		}
		_, err := e.fetcher.FetchNextPage(ctx, setCode)
		return err
	}
	return nil
}

// ResetWindow shrinks the render window back to one batch, e.g. when the
// query changes.
func (e *Engine) ResetWindow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderLimit = e.renderBatch
}

// drainForSearch eagerly fetches a set's remaining pages in the background
// so an active search is not incomplete due to pagination. One drain per set
// at a time; late results after Close are discarded via context.
func (e *Engine) drainForSearch(setCode string) {
	e.mu.Lock()
	if e.draining[setCode] {
		e.mu.Unlock()
		return
	}
	e.draining[setCode] = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.draining, setCode)
			e.mu.Unlock()
		}()
		if err := e.fetcher.Drain(e.drainCtx, setCode); err != nil {
			log.Printf("[collection] Search drain stopped for %s: %v", setCode, err)
		}
	}()
}

// parseLeadingInt parses the leading integer of a collector number;
// non-numeric numbers sort as 0.
func parseLeadingInt(s string) int {
	n := 0
	parsed := false
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
		parsed = true
	}
	if !parsed {
		return 0
	}
	return n
}
