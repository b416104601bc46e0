package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

// selfWriteWindow suppresses watcher events caused by our own saves.
const selfWriteWindow = 500 * time.Millisecond

// FileStore is the local ledger backend: the whole ownership map serialized
// as one JSON blob, optionally encrypted at rest with a passphrase. External
// edits to the file (another process, a sync tool) are picked up via fsnotify
// and pushed to subscribers.
type FileStore struct {
	path       string
	passphrase string

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu        sync.Mutex
	records   map[string]Record
	subs      map[int]func(map[string]Record)
	nextSubID int
	mirror    Mirror
	lastSave  time.Time
	now       func() time.Time
}

// OpenFileStore opens (or creates) a file-backed ledger. An empty passphrase
// stores the ledger as plain JSON.
func OpenFileStore(path, passphrase string) (*FileStore, error) {
	s := &FileStore{
		path:       path,
		passphrase: passphrase,
		done:       make(chan struct{}),
		records:    make(map[string]Record),
		subs:       make(map[int]func(map[string]Record)),
		now:        time.Now,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: atomic saves replace the file by rename, which
	// would silently drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch ledger directory: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger file: %w", err)
	}

	if isEncrypted(data) {
		if data, err = decryptLedger(data, s.passphrase); err != nil {
			return fmt.Errorf("failed to decrypt ledger: %w", err)
		}
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse ledger file: %w", err)
	}
	if records == nil {
		records = make(map[string]Record)
	}

	for id, rec := range records {
		rec.CardID = id
		rec.Normalize()
		if !rec.AnyOwned() {
			delete(records, id)
			continue
		}
		records[id] = rec
	}
	s.records = records
	return nil
}

// save writes the ledger atomically: serialize, write a temp file in the
// same directory, rename over the target.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize ledger: %w", err)
	}
	if s.passphrase != "" {
		if data, err = encryptLedger(data, s.passphrase); err != nil {
			return fmt.Errorf("failed to encrypt ledger: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	s.lastSave = s.now()
	return nil
}

func (s *FileStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.mu.Lock()
			recent := s.now().Sub(s.lastSave) < selfWriteWindow
			s.mu.Unlock()
			if recent {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[FileStore] Watcher error: %v", err)
		}
	}
}

// reload re-reads the file after an external change and notifies subscribers.
func (s *FileStore) reload() {
	s.mu.Lock()
	if err := s.load(); err != nil {
		s.mu.Unlock()
		log.Printf("[FileStore] Failed to reload ledger after external change: %v", err)
		return
	}
	snapshot, fns := s.snapshotAndSubsLocked()
	s.mu.Unlock()

	log.Printf("[FileStore] Reloaded ledger after external change: %d records", len(snapshot))
	for _, fn := range fns {
		fn(snapshot)
	}
}

// Snapshot returns a copy of the current records keyed by card id.
func (s *FileStore) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.records)
}

// Subscribe registers a callback invoked after every change. The returned
// function unregisters it.
func (s *FileStore) Subscribe(fn func(map[string]Record)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SetMirror installs the sharing mirror notified after successful mutations.
func (s *FileStore) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// Toggle flips the owned flag for one finish of a card.
func (s *FileStore) Toggle(ctx context.Context, cardID string, info CardInfo, finish scryfall.Finish) error {
	return s.mutate(ctx, cardID, func(current *Record) (Record, bool) {
		return applyToggle(current, cardID, info, finish, s.now())
	})
}

// SetQuantity sets the owned quantity for one finish of a card.
func (s *FileStore) SetQuantity(ctx context.Context, cardID string, info CardInfo, finish scryfall.Finish, quantity int) error {
	return s.mutate(ctx, cardID, func(current *Record) (Record, bool) {
		return applyQuantity(current, cardID, info, finish, quantity, s.now())
	})
}

// SetCustomPrice sets or clears (nil) the price override for one finish.
// The card must already have an ownership record.
func (s *FileStore) SetCustomPrice(ctx context.Context, cardID string, finish scryfall.Finish, price *float64) error {
	return s.mutate(ctx, cardID, func(current *Record) (Record, bool) {
		if current == nil {
			return Record{}, false
		}
		return applyCustomPrice(*current, finish, price, s.now()), false
	})
}

// mutate applies an update to one record, persists, notifies subscribers and
// forwards the change to the mirror. The in-memory state is updated before
// the disk write so readers never observe a stale value.
func (s *FileStore) mutate(ctx context.Context, cardID string, update func(current *Record) (Record, bool)) error {
	s.mu.Lock()

	var current *Record
	if rec, ok := s.records[cardID]; ok {
		current = &rec
	}

	next, remove := update(current)
	if !remove && next.CardID == "" {
		s.mu.Unlock()
		return fmt.Errorf("no ownership record for card %s", cardID)
	}

	if remove {
		delete(s.records, cardID)
	} else {
		s.records[cardID] = next
	}

	err := s.save()
	snapshot, fns := s.snapshotAndSubsLocked()
	mirror := s.mirror
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}

	if mirror != nil {
		// Fire-and-forget: the primary mutation has committed; mirror
		// failures are the mirror's to log.
		mctx := context.WithoutCancel(ctx)
		if remove {
			go mirror.MirrorDelete(mctx, cardID)
		} else {
			go mirror.MirrorRecord(mctx, next)
		}
	}

	return err
}

// Close stops the file watcher. The ledger file itself is already durable.
func (s *FileStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// snapshotAndSubsLocked copies current records and subscriber callbacks so
// notification can happen outside the lock. Caller must hold s.mu.
func (s *FileStore) snapshotAndSubsLocked() (map[string]Record, []func(map[string]Record)) {
	snapshot := copyRecords(s.records)
	fns := make([]func(map[string]Record), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return snapshot, fns
}

func copyRecords(records map[string]Record) map[string]Record {
	out := make(map[string]Record, len(records))
	for id, rec := range records {
		out[id] = rec
	}
	return out
}
