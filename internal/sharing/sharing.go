// Package sharing mirrors ownership mutations into a token-keyed, read-only
// public copy of a user's collection, and loads such copies by token.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ramonehamilton/mtg-binder/internal/auth"
	"github.com/ramonehamilton/mtg-binder/internal/ledger"
)

const (
	userSharesCollection  = "userShares"
	sharedCollections     = "sharedCollections"
	sharedCardsCollection = "ownedCards"
)

// ErrNotFound means no shared collection exists for a token.
var ErrNotFound = errors.New("shared collection not found")

// ErrDisabled means the owner turned sharing off for this token.
var ErrDisabled = errors.New("shared collection is disabled")

// Profile is the public identity attached to a shared collection.
type Profile struct {
	UserID      string    `firestore:"userId"`
	DisplayName string    `firestore:"displayName"`
	PhotoURL    string    `firestore:"photoURL"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

// SharedCollection is a read-only view of another user's ownership data.
type SharedCollection struct {
	Owner   Profile
	Records map[string]ledger.Record
}

// Service manages share tokens and implements ledger.Mirror. With no active
// token every mirror call is a no-op, so it can always be installed.
type Service struct {
	client *firestore.Client

	mu    sync.Mutex
	token string
}

// NewService creates a sharing service. The caller retains ownership of the
// Firestore client.
func NewService(client *firestore.Client) *Service {
	return &Service{client: client}
}

// ActiveToken returns the share token mirror writes go to, if any.
func (s *Service) ActiveToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SetActiveToken installs the token mirror writes go to. Empty disables
// mirroring.
func (s *Service) SetActiveToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func newShareToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EnsureShareToken returns the user's existing share token, creating and
// fully syncing a new one when none exists. The returned token becomes the
// active mirror target.
func (s *Service) EnsureShareToken(ctx context.Context, identity auth.Identity, records map[string]ledger.Record) (string, error) {
	displayName := identity.DisplayName
	if displayName == "" {
		displayName = "User"
	}

	userShareRef := s.client.Collection(userSharesCollection).Doc(identity.UID)
	snap, err := userShareRef.Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return "", fmt.Errorf("failed to read share token: %w", err)
	}

	if err == nil && snap.Exists() {
		if raw, err := snap.DataAt("token"); err == nil {
			if token, ok := raw.(string); ok && token != "" {
				// Re-enable the public doc in case sharing was turned off.
				_, err := s.sharedDoc(token).Set(ctx, map[string]interface{}{
					"userId":      identity.UID,
					"displayName": displayName,
					"photoURL":    identity.PhotoURL,
					"enabled":     true,
					"updatedAt":   firestore.ServerTimestamp,
				}, firestore.MergeAll)
				if err != nil {
					return "", fmt.Errorf("failed to refresh shared collection: %w", err)
				}
				s.SetActiveToken(token)
				return token, nil
			}
		}
	}

	token := newShareToken()
	if _, err := userShareRef.Set(ctx, map[string]interface{}{
		"token":     token,
		"enabled":   true,
		"createdAt": firestore.ServerTimestamp,
		"updatedAt": firestore.ServerTimestamp,
	}); err != nil {
		return "", fmt.Errorf("failed to store share token: %w", err)
	}

	if _, err := s.sharedDoc(token).Set(ctx, map[string]interface{}{
		"userId":      identity.UID,
		"displayName": displayName,
		"photoURL":    identity.PhotoURL,
		"enabled":     true,
		"createdAt":   firestore.ServerTimestamp,
		"updatedAt":   firestore.ServerTimestamp,
	}); err != nil {
		return "", fmt.Errorf("failed to create shared collection: %w", err)
	}

	if err := s.SyncAll(ctx, token, records); err != nil {
		return "", err
	}

	s.SetActiveToken(token)
	log.Printf("[sharing] Created share token for %s: %d records synced", identity.UID, len(records))
	return token, nil
}

// SyncAll replaces the mirrored collection with the given records, deleting
// strays left over from previous syncs.
func (s *Service) SyncAll(ctx context.Context, token string, records map[string]ledger.Record) error {
	target := s.sharedDoc(token).Collection(sharedCardsCollection)

	existing, err := target.Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("failed to list mirrored records: %w", err)
	}

	writer := s.client.BulkWriter(ctx)
	for id, rec := range records {
		if _, err := writer.Set(target.Doc(id), rec); err != nil {
			return fmt.Errorf("failed to queue mirror write: %w", err)
		}
	}
	for _, doc := range existing {
		if _, ok := records[doc.Ref.ID]; !ok {
			if _, err := writer.Delete(doc.Ref); err != nil {
				return fmt.Errorf("failed to queue mirror delete: %w", err)
			}
		}
	}
	if _, err := writer.Set(s.sharedDoc(token), map[string]interface{}{
		"updatedAt": firestore.ServerTimestamp,
	}, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to queue mirror timestamp: %w", err)
	}
	writer.End()
	return nil
}

// MirrorRecord propagates one updated record to the shared copy. Failures
// are logged, never surfaced: the primary mutation already committed, and
// the next mutation naturally re-syncs.
func (s *Service) MirrorRecord(ctx context.Context, record ledger.Record) {
	token := s.ActiveToken()
	if token == "" {
		return
	}
	doc := s.sharedDoc(token).Collection(sharedCardsCollection).Doc(record.CardID)
	if _, err := doc.Set(ctx, record); err != nil {
		log.Printf("[sharing] Failed to mirror record %s: %v", record.CardID, err)
	}
}

// MirrorDelete propagates a record deletion to the shared copy.
func (s *Service) MirrorDelete(ctx context.Context, cardID string) {
	token := s.ActiveToken()
	if token == "" {
		return
	}
	doc := s.sharedDoc(token).Collection(sharedCardsCollection).Doc(cardID)
	if _, err := doc.Delete(ctx); err != nil {
		log.Printf("[sharing] Failed to mirror delete of %s: %v", cardID, err)
		return
	}
	if _, err := s.sharedDoc(token).Set(ctx, map[string]interface{}{
		"updatedAt": firestore.ServerTimestamp,
	}, firestore.MergeAll); err != nil {
		log.Printf("[sharing] Failed to touch shared collection: %v", err)
	}
}

// LoadShared loads a shared collection by token. Returns ErrNotFound for an
// unknown token and ErrDisabled when the owner turned sharing off.
func (s *Service) LoadShared(ctx context.Context, token string) (*SharedCollection, error) {
	snap, err := s.sharedDoc(token).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shared collection: %w", err)
	}

	// Only an explicit enabled=false disables; older docs lack the field.
	if raw, err := snap.DataAt("enabled"); err == nil {
		if enabled, ok := raw.(bool); ok && !enabled {
			return nil, ErrDisabled
		}
	}

	var owner Profile
	if err := snap.DataTo(&owner); err != nil {
		return nil, fmt.Errorf("failed to parse shared collection: %w", err)
	}
	if owner.DisplayName == "" {
		owner.DisplayName = "User"
	}

	records := make(map[string]ledger.Record)
	docs := snap.Ref.Collection(sharedCardsCollection).Documents(ctx)
	defer docs.Stop()
	for {
		doc, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read shared records: %w", err)
		}
		var rec ledger.Record
		if err := doc.DataTo(&rec); err != nil {
			log.Printf("[sharing] Skipping malformed shared record %s: %v", doc.Ref.ID, err)
			continue
		}
		rec.CardID = doc.Ref.ID
		rec.Normalize()
		if rec.AnyOwned() {
			records[rec.CardID] = rec
		}
	}

	return &SharedCollection{Owner: owner, Records: records}, nil
}

func (s *Service) sharedDoc(token string) *firestore.DocumentRef {
	return s.client.Collection(sharedCollections).Doc(token)
}
