package ledger

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

const ownedCardsCollection = "ownedCards"

// RemoteStore is the Firestore ledger backend: one document per owned card
// under users/<uid>/ownedCards, kept live via a snapshot listener. Mutations
// apply optimistically to the local state before the write; the listener's
// next snapshot is the authoritative overwrite.
type RemoteStore struct {
	client *firestore.Client
	uid    string
	cancel context.CancelFunc

	mu        sync.Mutex
	records   map[string]Record
	subs      map[int]func(map[string]Record)
	nextSubID int
	mirror    Mirror
	now       func() time.Time
}

// OpenRemoteStore starts a live-synced ledger for one user. The caller
// retains ownership of the Firestore client.
func OpenRemoteStore(ctx context.Context, client *firestore.Client, uid string) (*RemoteStore, error) {
	if uid == "" {
		return nil, fmt.Errorf("remote ledger requires a user id")
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &RemoteStore{
		client:  client,
		uid:     uid,
		cancel:  cancel,
		records: make(map[string]Record),
		subs:    make(map[int]func(map[string]Record)),
		now:     time.Now,
	}
	go s.listen(listenCtx)
	return s, nil
}

func (s *RemoteStore) collection() *firestore.CollectionRef {
	return s.client.Collection("users").Doc(s.uid).Collection(ownedCardsCollection)
}

// listen applies every remote snapshot as the new authoritative state.
func (s *RemoteStore) listen(ctx context.Context) {
	snapshots := s.collection().Snapshots(ctx)
	defer snapshots.Stop()

	for {
		snap, err := snapshots.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return
			}
			log.Printf("[RemoteStore] Snapshot listener stopped: %v", err)
			return
		}

		records := make(map[string]Record)
		docs := snap.Documents
		for {
			doc, err := docs.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				log.Printf("[RemoteStore] Failed to read document: %v", err)
				break
			}
			var rec Record
			if err := doc.DataTo(&rec); err != nil {
				log.Printf("[RemoteStore] Skipping malformed document %s: %v", doc.Ref.ID, err)
				continue
			}
			rec.CardID = doc.Ref.ID
			rec.Normalize()
			if rec.AnyOwned() {
				records[rec.CardID] = rec
			}
		}

		s.mu.Lock()
		s.records = records
		snapshot, fns := s.snapshotAndSubsLocked()
		s.mu.Unlock()

		for _, fn := range fns {
			fn(snapshot)
		}
	}
}

// Snapshot returns a copy of the current records keyed by card id.
func (s *RemoteStore) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.records)
}

// Subscribe registers a callback invoked after every local or remote change.
func (s *RemoteStore) Subscribe(fn func(map[string]Record)) func() {
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
func (s *RemoteStore) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// Toggle flips the owned flag for one finish of a card.
func (s *RemoteStore) Toggle(ctx context.Context, cardID string, info CardInfo, finish scryfall.Finish) error {
	return s.mutate(ctx, cardID, func(current *Record) (Record, bool) {
		return applyToggle(current, cardID, info, finish, s.now())
	})
}

// SetQuantity sets the owned quantity for one finish of a card.
func (s *RemoteStore) SetQuantity(ctx context.Context, cardID string, info CardInfo, finish scryfall.Finish, quantity int) error {
	return s.mutate(ctx, cardID, func(current *Record) (Record, bool) {
		return applyQuantity(current, cardID, info, finish, quantity, s.now())
	})
}

// SetCustomPrice sets or clears (nil) the price override for one finish.
func (s *RemoteStore) SetCustomPrice(ctx context.Context, cardID string, finish scryfall.Finish, price *float64) error {
	return s.mutate(ctx, cardID, func(current *Record) (Record, bool) {
		if current == nil {
			return Record{}, false
		}
		return applyCustomPrice(*current, finish, price, s.now()), false
	})
}

func (s *RemoteStore) mutate(ctx context.Context, cardID string, update func(current *Record) (Record, bool)) error {
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

	// Optimistic apply so readers never wait on the round trip.
	if remove {
		delete(s.records, cardID)
	} else {
		s.records[cardID] = next
	}
	snapshot, fns := s.snapshotAndSubsLocked()
	mirror := s.mirror
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}

	doc := s.collection().Doc(cardID)
	var err error
	if remove {
		_, err = doc.Delete(ctx)
	} else {
		_, err = doc.Set(ctx, next)
	}
	if err != nil {
		return fmt.Errorf("failed to write ownership record: %w", err)
	}

	if mirror != nil {
		mctx := context.WithoutCancel(ctx)
		if remove {
			go mirror.MirrorDelete(mctx, cardID)
		} else {
			go mirror.MirrorRecord(mctx, next)
		}
	}
	return nil
}

// snapshotAndSubsLocked copies current records and subscriber callbacks so
// notification can happen outside the lock. Caller must hold s.mu.
func (s *RemoteStore) snapshotAndSubsLocked() (map[string]Record, []func(map[string]Record)) {
	snapshot := copyRecords(s.records)
	fns := make([]func(map[string]Record), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return snapshot, fns
}

// Close stops the snapshot listener.
func (s *RemoteStore) Close() error {
	s.cancel()
	return nil
}
