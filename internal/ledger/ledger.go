// Package ledger owns the mapping from card identity to ownership records.
// Two interchangeable backends implement Store: a local encrypted file and a
// per-user Firestore collection with live updates. Callers never learn which
// backend is in use.
package ledger

import (
	"context"
	"time"

	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

// Record is one card's ownership state. A record only exists while at least
// one finish is owned; the ledger never stores a fully-unowned record.
type Record struct {
	CardID          string    `json:"scryfallId" firestore:"-"`
	SetCode         string    `json:"set" firestore:"set"`
	CollectorNumber string    `json:"collectorNumber" firestore:"collectorNumber"`
	Name            string    `json:"name" firestore:"name"`
	OwnedNonfoil    bool      `json:"ownedNonFoil" firestore:"ownedNonFoil"`
	OwnedFoil       bool      `json:"ownedFoil" firestore:"ownedFoil"`
	QuantityNonfoil int       `json:"quantityNonFoil" firestore:"quantityNonFoil"`
	QuantityFoil    int       `json:"quantityFoil" firestore:"quantityFoil"`
	CustomPrice     *float64  `json:"customPrice" firestore:"customPrice"`
	CustomPriceFoil *float64  `json:"customPriceFoil" firestore:"customPriceFoil"`
	AddedAt         time.Time `json:"addedAt" firestore:"addedAt"`
	UpdatedAt       time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// OwnedFor reports whether the given finish is owned.
func (r *Record) OwnedFor(finish scryfall.Finish) bool {
	if finish == scryfall.FinishFoil {
		return r.OwnedFoil
	}
	return r.OwnedNonfoil
}

// QuantityFor returns the owned quantity for the given finish.
func (r *Record) QuantityFor(finish scryfall.Finish) int {
	if finish == scryfall.FinishFoil {
		return r.QuantityFoil
	}
	return r.QuantityNonfoil
}

// CustomPriceFor returns the per-finish price override, or nil.
func (r *Record) CustomPriceFor(finish scryfall.Finish) *float64 {
	if finish == scryfall.FinishFoil {
		return r.CustomPriceFoil
	}
	return r.CustomPrice
}

// AnyOwned reports whether at least one finish is owned.
func (r *Record) AnyOwned() bool {
	return r.OwnedNonfoil || r.OwnedFoil
}

// Normalize repairs records loaded from older persisted shapes: a missing
// quantity defaults to 1 when the finish is owned, and owned flags are
// re-derived from quantities so the owned==quantity>0 invariant always holds.
func (r *Record) Normalize() {
	if r.OwnedNonfoil && r.QuantityNonfoil <= 0 {
		r.QuantityNonfoil = 1
	}
	if r.OwnedFoil && r.QuantityFoil <= 0 {
		r.QuantityFoil = 1
	}
	r.OwnedNonfoil = r.QuantityNonfoil > 0
	r.OwnedFoil = r.QuantityFoil > 0
}

// CardInfo carries the denormalized display fields written into a record the
// first time a card is marked owned.
type CardInfo struct {
	SetCode         string
	CollectorNumber string
	Name            string
}

// Mirror receives successful ledger mutations for propagation to a shared
// read-only copy. Implementations must be fire-and-forget: the primary
// mutation has already committed by the time these are called.
type Mirror interface {
	MirrorRecord(ctx context.Context, record Record)
	MirrorDelete(ctx context.Context, cardID string)
}

// Store is the reactive ownership ledger.
//
// Snapshot returns the current records keyed by card id. Subscribe registers
// a callback invoked with a fresh snapshot after every observed change, local
// or remote; the returned function unregisters it. Mutations apply to the
// locally observed state immediately, before any backend confirmation.
type Store interface {
	Snapshot() map[string]Record
	Subscribe(fn func(map[string]Record)) (unsubscribe func())
	Toggle(ctx context.Context, cardID string, info CardInfo, finish scryfall.Finish) error
	SetQuantity(ctx context.Context, cardID string, info CardInfo, finish scryfall.Finish, quantity int) error
	SetCustomPrice(ctx context.Context, cardID string, finish scryfall.Finish, price *float64) error
	SetMirror(m Mirror)
	Close() error
}

// applyToggle computes the record resulting from flipping one finish's owned
// flag. The second return is true when the record must be deleted because
// both finishes ended up unowned.
//
// Turning a finish on sets its quantity to 1 only if it was not already
// positive; turning it off zeroes the quantity.
func applyToggle(current *Record, cardID string, info CardInfo, finish scryfall.Finish, now time.Time) (Record, bool) {
	next := newOrExisting(current, cardID, info, now)

	if finish == scryfall.FinishFoil {
		next.OwnedFoil = !next.OwnedFoil
		if next.OwnedFoil {
			if next.QuantityFoil <= 0 {
				next.QuantityFoil = 1
			}
		} else {
			next.QuantityFoil = 0
		}
	} else {
		next.OwnedNonfoil = !next.OwnedNonfoil
		if next.OwnedNonfoil {
			if next.QuantityNonfoil <= 0 {
				next.QuantityNonfoil = 1
			}
		} else {
			next.QuantityNonfoil = 0
		}
	}

	next.UpdatedAt = now
	return next, !next.AnyOwned()
}

// applyQuantity computes the record resulting from directly setting one
// finish's quantity. The owned flag for that finish is derived as
// quantity > 0. Deletion applies when both finishes end up unowned.
func applyQuantity(current *Record, cardID string, info CardInfo, finish scryfall.Finish, quantity int, now time.Time) (Record, bool) {
	if quantity < 0 {
		quantity = 0
	}
	next := newOrExisting(current, cardID, info, now)

	if finish == scryfall.FinishFoil {
		next.QuantityFoil = quantity
		next.OwnedFoil = quantity > 0
	} else {
		next.QuantityNonfoil = quantity
		next.OwnedNonfoil = quantity > 0
	}

	next.UpdatedAt = now
	return next, !next.AnyOwned()
}

// applyCustomPrice sets or clears (nil) the price override for one finish.
func applyCustomPrice(current Record, finish scryfall.Finish, price *float64, now time.Time) Record {
	if finish == scryfall.FinishFoil {
		current.CustomPriceFoil = price
	} else {
		current.CustomPrice = price
	}
	current.UpdatedAt = now
	return current
}

func newOrExisting(current *Record, cardID string, info CardInfo, now time.Time) Record {
	if current != nil {
		return *current
	}
	return Record{
		CardID:          cardID,
		SetCode:         info.SetCode,
		CollectorNumber: info.CollectorNumber,
		Name:            info.Name,
		AddedAt:         now,
	}
}
