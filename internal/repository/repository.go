package repository

import (
	"context"

	"github.com/velocore/cart-service/internal/domain"
)

// CartRepository is the persistence medium for cart snapshots. A snapshot is
// the full ordered line-item sequence of one owner's cart; Save overwrites
// any previous snapshot and the stored form must round-trip exactly.
type CartRepository interface {
	// Get loads the snapshot for the owner. Returns an error wrapping
	// the not-found sentinel when no snapshot exists.
	Get(ctx context.Context, ownerID string) ([]domain.LineItem, error)

	// Save persists the full snapshot, replacing any existing one.
	Save(ctx context.Context, ownerID string, items []domain.LineItem) error

	// Delete removes the owner's snapshot.
	Delete(ctx context.Context, ownerID string) error
}
