// Package cache provides a two-tier cache for Scryfall catalog data: an
// in-memory L1 in front of a persisted SQLite L2. The application works
// without the cache; every L2 failure is logged and swallowed.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

const (
	// SchemaVersion is bumped whenever the shape of cached values changes.
	// A mismatch wipes the whole L2 cache.
	SchemaVersion = "1"

	// Cards carry prices, so they expire daily. Set metadata is stable.
	cardTTL     = 24 * time.Hour
	setCountTTL = 7 * 24 * time.Hour
	setPageTTL  = 7 * 24 * time.Hour

	kindCard     = "card"
	kindSetCount = "setcount"
	kindSetPage  = "setpage"

	metaKeyVersion = "schema_version"
)

// PageSnapshot is a persisted snapshot of a set's accumulated pages, used to
// warm-start pagination state across sessions.
type PageSnapshot struct {
	Cards    []scryfall.Card `json:"cards"`
	NextPage string          `json:"next_page"`
	HasMore  bool            `json:"has_more"`
}

// Store is the two-tier cache. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *sql.DB

	cards     map[string]*scryfall.Card
	missing   map[string]struct{}
	setCounts map[string]int

	now func() time.Time
}

// Open opens (or creates) the cache database at path, runs migrations, and
// clears stale data when the schema version changed. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// Single writer keeps "database is locked" errors away under modernc.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}

	s := &Store{
		db:        db,
		cards:     make(map[string]*scryfall.Card),
		missing:   make(map[string]struct{}),
		setCounts: make(map[string]int),
		now:       time.Now,
	}

	if err := s.validateSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// validateSchemaVersion wipes all cached entries when the stored schema
// version differs from SchemaVersion, then records the current version.
func (s *Store) validateSchemaVersion() error {
	var stored string
	err := s.db.QueryRow("SELECT value FROM cache_meta WHERE key = ?", metaKeyVersion).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		stored = ""
	case err != nil:
		return fmt.Errorf("read cache schema version: %w", err)
	}

	if stored != SchemaVersion {
		if stored != "" {
			log.Printf("[cache] Schema version changed (%s -> %s), clearing cache", stored, SchemaVersion)
		}
		if _, err := s.db.Exec("DELETE FROM cache_entries"); err != nil {
			return fmt.Errorf("clear cache entries: %w", err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO cache_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			metaKeyVersion, SchemaVersion,
		); err != nil {
			return fmt.Errorf("record cache schema version: %w", err)
		}
	}
	return nil
}

// Card returns a cached card by Scryfall ID.
func (s *Store) Card(id string) (*scryfall.Card, bool) {
	s.mu.Lock()
	if card, ok := s.cards[id]; ok {
		s.mu.Unlock()
		return card, true
	}
	s.mu.Unlock()

	var card scryfall.Card
	if !s.l2Get(kindCard, kindCard+":"+id, &card) {
		return nil, false
	}

	s.mu.Lock()
	s.cards[id] = &card
	s.mu.Unlock()
	return &card, true
}

// PutCard caches a card in both tiers.
func (s *Store) PutCard(card *scryfall.Card) {
	s.mu.Lock()
	s.cards[card.ID] = card
	delete(s.missing, card.ID)
	s.mu.Unlock()

	s.l2Put(kindCard, kindCard+":"+card.ID, card, cardTTL)
}

// MarkCardMissing records a confirmed absence so batch lookups are not
// repeated for identifiers Scryfall does not know. Session-scoped only.
func (s *Store) MarkCardMissing(id string) {
	s.mu.Lock()
	s.missing[id] = struct{}{}
	s.mu.Unlock()
}

// IsCardMissing reports whether an id is a confirmed absence.
func (s *Store) IsCardMissing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.missing[id]
	return ok
}

// SetCount returns the cached authoritative card count for a set.
func (s *Store) SetCount(setCode string) (int, bool) {
	s.mu.Lock()
	if n, ok := s.setCounts[setCode]; ok {
		s.mu.Unlock()
		return n, true
	}
	s.mu.Unlock()

	var n int
	if !s.l2Get(kindSetCount, kindSetCount+":"+setCode, &n) {
		return 0, false
	}

	s.mu.Lock()
	s.setCounts[setCode] = n
	s.mu.Unlock()
	return n, true
}

// PutSetCount caches the authoritative card count for a set.
func (s *Store) PutSetCount(setCode string, count int) {
	s.mu.Lock()
	s.setCounts[setCode] = count
	s.mu.Unlock()

	s.l2Put(kindSetCount, kindSetCount+":"+setCode, count, setCountTTL)
}

// SetPage returns the persisted pagination snapshot for a set, if any.
func (s *Store) SetPage(setCode string) (*PageSnapshot, bool) {
	var snap PageSnapshot
	if !s.l2Get(kindSetPage, kindSetPage+":"+setCode, &snap) {
		return nil, false
	}
	return &snap, true
}

// PutSetPage persists the pagination snapshot for a set.
func (s *Store) PutSetPage(setCode string, snap *PageSnapshot) {
	s.l2Put(kindSetPage, kindSetPage+":"+setCode, snap, setPageTTL)
}

// InvalidateSetPage drops the persisted snapshot for a set (refresh path).
func (s *Store) InvalidateSetPage(setCode string) {
	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ?", kindSetPage+":"+setCode); err != nil {
		log.Printf("[cache] Failed to invalidate set page for %s: %v", setCode, err)
	}
}

// l2Get reads and decodes one entry, lazily evicting it when expired.
func (s *Store) l2Get(kind, key string, out interface{}) bool {
	var (
		value    []byte
		cachedAt int64
		ttlMS    int64
	)
	err := s.db.QueryRow(
		"SELECT value, cached_at, ttl_ms FROM cache_entries WHERE key = ?", key,
	).Scan(&value, &cachedAt, &ttlMS)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		log.Printf("[cache] Failed to read %s entry: %v", kind, err)
		return false
	}

	if s.now().UnixMilli()-cachedAt > ttlMS {
		if _, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ?", key); err != nil {
			log.Printf("[cache] Failed to evict expired %s entry: %v", kind, err)
		}
		return false
	}

	if err := json.Unmarshal(value, out); err != nil {
		log.Printf("[cache] Failed to decode %s entry: %v", kind, err)
		return false
	}
	return true
}

// l2Put encodes and stores one entry; on failure it evicts the oldest quarter
// of valid entries and retries once, then gives up silently.
func (s *Store) l2Put(kind, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[cache] Failed to encode %s entry: %v", kind, err)
		return
	}

	if err := s.insert(key, kind, data, ttl); err != nil {
		s.evictOldest()
		if err := s.insert(key, kind, data, ttl); err != nil {
			log.Printf("[cache] Failed to store %s entry after eviction: %v", kind, err)
		}
	}
}

func (s *Store) insert(key, kind string, data []byte, ttl time.Duration) error {
	_, err := s.db.Exec(
		`INSERT INTO cache_entries (key, kind, value, cached_at, ttl_ms) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, value = excluded.value,
		 cached_at = excluded.cached_at, ttl_ms = excluded.ttl_ms`,
		key, kind, data, s.now().UnixMilli(), ttl.Milliseconds(),
	)
	return err
}

// evictOldest removes expired entries, then the oldest 25% of what remains.
func (s *Store) evictOldest() {
	nowMS := s.now().UnixMilli()

	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE ? - cached_at > ttl_ms", nowMS); err != nil {
		log.Printf("[cache] Failed to evict expired entries: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&count); err != nil {
		log.Printf("[cache] Failed to count entries: %v", err)
		return
	}
	if count == 0 {
		return
	}

	evict := (count + 3) / 4
	if _, err := s.db.Exec(
		"DELETE FROM cache_entries WHERE key IN (SELECT key FROM cache_entries ORDER BY cached_at ASC LIMIT ?)",
		evict,
	); err != nil {
		log.Printf("[cache] Failed to evict oldest entries: %v", err)
	}
}
