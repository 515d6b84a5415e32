package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/velocore/cart-service/pkg/errors"

	"github.com/velocore/cart-service/internal/domain"
)

const keyPrefix = "cart:"

// CartRepository implements repository.CartRepository on Redis. Snapshots are
// stored as a JSON array of line items under cart:<ownerID> with a TTL, so
// abandoned carts expire on their own.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a Redis-backed cart snapshot repository.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get loads and decodes the owner's snapshot.
func (r *CartRepository) Get(ctx context.Context, ownerID string) ([]domain.LineItem, error) {
	data, err := r.client.Get(ctx, keyPrefix+ownerID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("cart", ownerID)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var items []domain.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart snapshot: %w", err)
	}
	return items, nil
}

// Save encodes and writes the full snapshot with the configured TTL.
func (r *CartRepository) Save(ctx context.Context, ownerID string, items []domain.LineItem) error {
	if items == nil {
		items = []domain.LineItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+ownerID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

// Delete removes the owner's snapshot.
func (r *CartRepository) Delete(ctx context.Context, ownerID string) error {
	if err := r.client.Del(ctx, keyPrefix+ownerID).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}
