package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/velocore/cart-service/pkg/errors"

	"github.com/velocore/cart-service/internal/domain"
	"github.com/velocore/cart-service/internal/repository"
)

// Policy controls how the store handles a quantity change that would exceed
// the recorded stock bound.
type Policy string

const (
	// PolicyClamp silently constrains the quantity to the stock bound.
	// This is the storefront's user-facing behavior: excess is dropped,
	// never reported.
	PolicyClamp Policy = "clamp"

	// PolicyReject returns ErrStockExceeded instead of clamping.
	PolicyReject Policy = "reject"
)

// ErrStockExceeded is returned under PolicyReject when a quantity change
// would exceed the entry's recorded stock.
var ErrStockExceeded = errors.New("quantity exceeds available stock")

const persistTimeout = 5 * time.Second

// Store owns the cart of a single owner. All mutations are synchronous and
// complete before returning; the in-memory item list is authoritative the
// moment a mutation returns. Persistence is a decoupled best-effort side
// effect: every mutation snapshots the full item list and hands it to a
// background flusher, so persistence latency never delays a mutation.
//
// A single mutex guards the whole store. The merge logic in AddItem and
// UpdateQuantity is a read-then-write over the item list and is not safe
// under interleaving.
type Store struct {
	ownerID string
	policy  Policy
	repo    repository.CartRepository
	logger  *slog.Logger

	mu     sync.Mutex
	items  []domain.LineItem
	closed bool

	// flushCh is a capacity-1 latest-wins queue. Each element is a full
	// snapshot, so dropping an intermediate snapshot in favor of a newer
	// one preserves the mutation-order write guarantee.
	flushCh chan []domain.LineItem
	done    chan struct{}
	wg      sync.WaitGroup
}

// Open creates the store for the given owner, rehydrating the persisted
// snapshot. An absent or unreadable snapshot yields an empty cart; Open
// never fails on snapshot problems.
func Open(ctx context.Context, ownerID string, repo repository.CartRepository, policy Policy, logger *slog.Logger) *Store {
	s := &Store{
		ownerID: ownerID,
		policy:  policy,
		repo:    repo,
		logger:  logger,
		flushCh: make(chan []domain.LineItem, 1),
		done:    make(chan struct{}),
	}

	items, err := repo.Get(ctx, ownerID)
	switch {
	case err == nil:
		s.items = items
	case errors.Is(err, apperrors.ErrNotFound):
		// First load for this owner; start empty.
	default:
		// Malformed or unreadable snapshot. Recover locally with an
		// empty cart, never surface the error to callers.
		logger.WarnContext(ctx, "cart snapshot unreadable, starting empty",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
	}

	s.wg.Add(1)
	go s.flusher()
	return s
}

// AddItem merges the item into the cart. If an entry with the same identity
// key (product ID, size, color) exists, its quantity is increased by
// item.Quantity; otherwise the item is appended, preserving insertion order.
// Quantities are clamped to [1, stock] when a stock bound is recorded.
//
// The caller validates the product descriptor (product ID, price, initial
// quantity >= 1); the store does not re-check it.
func (s *Store) AddItem(item domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Currency == "" {
		item.Currency = domain.DefaultCurrency
	}

	idx := s.findIndex(item.ProductID, item.Size, item.Color)
	if idx >= 0 {
		entry := &s.items[idx]
		stock := entry.Stock
		if item.Stock > 0 {
			stock = item.Stock
		}
		merged := entry.Quantity + item.Quantity
		clamped := domain.ClampQuantity(merged, stock)
		if clamped != merged && s.policy == PolicyReject {
			return ErrStockExceeded
		}
		entry.Quantity = clamped
		// Refresh the descriptor snapshot; the product may have changed
		// since the entry was first added.
		entry.Title = item.Title
		entry.ImageURL = item.ImageURL
		entry.Price = item.Price
		entry.Currency = item.Currency
		entry.Stock = stock
		s.scheduleFlush()
		return nil
	}

	clamped := domain.ClampQuantity(item.Quantity, item.Stock)
	if clamped != item.Quantity && s.policy == PolicyReject {
		return ErrStockExceeded
	}
	item.Quantity = clamped
	s.items = append(s.items, item)
	s.scheduleFlush()
	return nil
}

// UpdateQuantity applies a signed delta to the entry matching the identity
// key. The result is clamped to [1, stock-or-unbounded]; a change that lands
// on the current value is a no-op and skips the persistence write. The
// quantity never drops below 1 through this path; use RemoveItem to delete.
// A missing entry is a no-op, not an error.
func (s *Store) UpdateQuantity(productID string, size, color *string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findIndex(productID, size, color)
	if idx < 0 {
		return nil
	}

	entry := &s.items[idx]
	next := domain.ClampQuantity(entry.Quantity+delta, entry.Stock)
	if delta > 0 && next < entry.Quantity+delta && s.policy == PolicyReject {
		return ErrStockExceeded
	}
	if next == entry.Quantity {
		return nil
	}
	entry.Quantity = next
	s.scheduleFlush()
	return nil
}

// RemoveItem deletes the entry matching the identity key. Removing an absent
// entry is a no-op.
func (s *Store) RemoveItem(productID string, size, color *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findIndex(productID, size, color)
	if idx < 0 {
		return
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.scheduleFlush()
}

// Clear empties the cart unconditionally and persists the empty snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]
	s.scheduleFlush()
}

// Items returns a copy of the current item sequence in insertion order.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Cart returns the current cart view for the owner.
func (s *Store) Cart() *domain.Cart {
	return &domain.Cart{OwnerID: s.ownerID, Items: s.Items()}
}

// Total returns the sum of price times quantity over all entries, recomputed
// from the current state.
func (s *Store) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, item := range s.items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// ItemCount returns the total number of units in the cart.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

// OwnerID returns the cart owner this store was opened for.
func (s *Store) OwnerID() string {
	return s.ownerID
}

// Close stops the background flusher and writes the final snapshot
// synchronously. The store must not be used after Close.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	final := s.snapshot()
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	return s.repo.Save(ctx, s.ownerID, final)
}

// findIndex must be called with the mutex held.
func (s *Store) findIndex(productID string, size, color *string) int {
	for i := range s.items {
		if s.items[i].SameEntry(productID, size, color) {
			return i
		}
	}
	return -1
}

// snapshot must be called with the mutex held.
func (s *Store) snapshot() []domain.LineItem {
	out := make([]domain.LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// scheduleFlush hands the current snapshot to the background flusher without
// blocking. Must be called with the mutex held, which also serializes sends:
// when the queue already holds an older snapshot it is replaced, since the
// newest full snapshot subsumes it.
func (s *Store) scheduleFlush() {
	if s.closed {
		return
	}
	snap := s.snapshot()
	select {
	case s.flushCh <- snap:
	default:
		select {
		case <-s.flushCh:
		default:
		}
		s.flushCh <- snap
	}
}

func (s *Store) flusher() {
	defer s.wg.Done()
	for {
		select {
		case snap := <-s.flushCh:
			s.persist(snap)
		case <-s.done:
			// Drain the last pending snapshot before exiting; Close
			// writes the final state synchronously afterwards.
			select {
			case snap := <-s.flushCh:
				s.persist(snap)
			default:
			}
			return
		}
	}
}

func (s *Store) persist(items []domain.LineItem) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.repo.Save(ctx, s.ownerID, items); err != nil {
		s.logger.Warn("cart snapshot write failed",
			slog.String("owner_id", s.ownerID),
			slog.String("error", err.Error()),
		)
	}
}
