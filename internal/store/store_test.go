package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/velocore/cart-service/pkg/errors"

	"github.com/velocore/cart-service/internal/domain"
)

// --- Fake Repository ---

// fakeRepo is an in-memory repository safe for concurrent use, since the
// store's flusher calls Save from a background goroutine.
type fakeRepo struct {
	mu        sync.Mutex
	snapshots map[string][]domain.LineItem
	getErr    error
	saveErr   error
	saveCount int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{snapshots: make(map[string][]domain.LineItem)}
}

func (f *fakeRepo) Get(ctx context.Context, ownerID string) ([]domain.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	items, ok := f.snapshots[ownerID]
	if !ok {
		return nil, apperrors.NotFound("cart", ownerID)
	}
	out := make([]domain.LineItem, len(items))
	copy(out, items)
	return out, nil
}

func (f *fakeRepo) Save(ctx context.Context, ownerID string, items []domain.LineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	snap := make([]domain.LineItem, len(items))
	copy(snap, items)
	f.snapshots[ownerID] = snap
	f.saveCount++
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, ownerID)
	return nil
}

func (f *fakeRepo) saved(ownerID string) ([]domain.LineItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.snapshots[ownerID]
	return items, ok
}

// --- Test Helpers ---

func strptr(s string) *string { return &s }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T, repo *fakeRepo, policy Policy) *Store {
	t.Helper()
	s := Open(context.Background(), "user-1", repo, policy, newTestLogger())
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s
}

func shirt(qty int) domain.LineItem {
	return domain.LineItem{
		ProductID: "prod-shirt",
		Title:     "Linen Shirt",
		Price:     4500,
		Currency:  "EGP",
		Size:      strptr("M"),
		Color:     strptr("white"),
		Quantity:  qty,
		Stock:     10,
	}
}

// --- Rehydration ---

func TestOpen_RehydratesSnapshot(t *testing.T) {
	repo := newFakeRepo()
	repo.snapshots["user-1"] = []domain.LineItem{shirt(2)}

	s := openTestStore(t, repo, PolicyClamp)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "prod-shirt", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestOpen_NoSnapshotStartsEmpty(t *testing.T) {
	repo := newFakeRepo()

	s := openTestStore(t, repo, PolicyClamp)

	assert.Empty(t, s.Items())
	assert.Equal(t, int64(0), s.Total())
}

func TestOpen_UnreadableSnapshotStartsEmpty(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("unmarshal cart snapshot: unexpected end of JSON input")

	s := openTestStore(t, repo, PolicyClamp)

	assert.Empty(t, s.Items())

	// The store must stay usable after recovery.
	require.NoError(t, s.AddItem(shirt(1)))
	assert.Len(t, s.Items(), 1)
}

// --- AddItem ---

func TestAddItem_AppendsNewEntry(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	require.NoError(t, s.AddItem(shirt(2)))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, int64(9000), s.Total())
}

func TestAddItem_MergesSameIdentity(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	require.NoError(t, s.AddItem(shirt(2)))
	require.NoError(t, s.AddItem(shirt(3)))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestAddItem_DistinctVariantsStaySeparate(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	a := shirt(1)
	b := shirt(1)
	b.Size = strptr("L")
	c := shirt(1)
	c.Size = nil

	require.NoError(t, s.AddItem(a))
	require.NoError(t, s.AddItem(b))
	require.NoError(t, s.AddItem(c))

	items := s.Items()
	require.Len(t, items, 3)
	// Insertion order preserved.
	assert.Equal(t, "M", *items[0].Size)
	assert.Equal(t, "L", *items[1].Size)
	assert.Nil(t, items[2].Size)
}

func TestAddItem_AbsentVariantIsNotEmptyString(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	a := domain.LineItem{ProductID: "prod-1", Price: 100, Quantity: 1}
	b := domain.LineItem{ProductID: "prod-1", Price: 100, Quantity: 1, Size: strptr("")}

	require.NoError(t, s.AddItem(a))
	require.NoError(t, s.AddItem(b))

	assert.Len(t, s.Items(), 2)
}

func TestAddItem_ClampsToStock(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	item := shirt(7)
	require.NoError(t, s.AddItem(item))
	// 7 + 7 would exceed the stock of 10.
	require.NoError(t, s.AddItem(item))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 10, items[0].Quantity)
}

func TestAddItem_ClampsInitialQuantity(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	item := shirt(25)
	require.NoError(t, s.AddItem(item))

	assert.Equal(t, 10, s.Items()[0].Quantity)
}

func TestAddItem_NoStockBoundIsUnbounded(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	item := shirt(500)
	item.Stock = 0
	require.NoError(t, s.AddItem(item))

	assert.Equal(t, 500, s.Items()[0].Quantity)
}

func TestAddItem_RejectPolicyReturnsError(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyReject)

	require.NoError(t, s.AddItem(shirt(7)))

	err := s.AddItem(shirt(7))
	require.ErrorIs(t, err, ErrStockExceeded)

	// The failed add must not change state.
	assert.Equal(t, 7, s.Items()[0].Quantity)
}

func TestAddItem_MergeRefreshesDescriptor(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	require.NoError(t, s.AddItem(shirt(1)))

	updated := shirt(1)
	updated.Title = "Linen Shirt (Summer)"
	updated.Price = 3900
	updated.Stock = 4
	require.NoError(t, s.AddItem(updated))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Linen Shirt (Summer)", items[0].Title)
	assert.Equal(t, int64(3900), items[0].Price)
	assert.Equal(t, 4, items[0].Stock)
	// 1 + 1 = 2, within the refreshed bound.
	assert.Equal(t, 2, items[0].Quantity)
}

func TestAddItem_MergeKeepsStockWhenIncomingUnknown(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	require.NoError(t, s.AddItem(shirt(9)))

	unknown := shirt(5)
	unknown.Stock = 0
	require.NoError(t, s.AddItem(unknown))

	items := s.Items()
	assert.Equal(t, 10, items[0].Stock)
	assert.Equal(t, 10, items[0].Quantity)
}

func TestAddItem_DefaultsCurrency(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	item := shirt(1)
	item.Currency = ""
	require.NoError(t, s.AddItem(item))

	assert.Equal(t, domain.DefaultCurrency, s.Items()[0].Currency)
}

// --- UpdateQuantity ---

func TestUpdateQuantity_AppliesDelta(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)
	require.NoError(t, s.AddItem(shirt(2)))

	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), 3))
	assert.Equal(t, 5, s.Items()[0].Quantity)

	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), -4))
	assert.Equal(t, 1, s.Items()[0].Quantity)
}

func TestUpdateQuantity_FloorsAtOne(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)
	require.NoError(t, s.AddItem(shirt(2)))

	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), -10))

	// Decrement never removes the entry; that is RemoveItem's job.
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestUpdateQuantity_CapsAtStock(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)
	require.NoError(t, s.AddItem(shirt(8)))

	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), 100))

	assert.Equal(t, 10, s.Items()[0].Quantity)
}

func TestUpdateQuantity_IncrementAtStockBoundIsNoop(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	item := shirt(5)
	item.Stock = 5
	require.NoError(t, s.AddItem(item))

	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), 1))

	assert.Equal(t, 5, s.Items()[0].Quantity)
}

func TestUpdateQuantity_MissingEntryIsNoop(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	require.NoError(t, s.UpdateQuantity("prod-ghost", nil, nil, 1))
	assert.Empty(t, s.Items())
}

func TestUpdateQuantity_VariantMustMatch(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)
	require.NoError(t, s.AddItem(shirt(2)))

	// Wrong size: no entry matches, nothing changes.
	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("L"), strptr("white"), 3))
	assert.Equal(t, 2, s.Items()[0].Quantity)
}

func TestUpdateQuantity_RejectPolicyOnUpperBound(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyReject)
	require.NoError(t, s.AddItem(shirt(8)))

	err := s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), 100)
	require.ErrorIs(t, err, ErrStockExceeded)
	assert.Equal(t, 8, s.Items()[0].Quantity)

	// The lower bound clamps silently even under reject.
	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), -100))
	assert.Equal(t, 1, s.Items()[0].Quantity)
}

// --- RemoveItem / Clear ---

func TestRemoveItem(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)
	require.NoError(t, s.AddItem(shirt(2)))

	other := shirt(1)
	other.Size = strptr("L")
	require.NoError(t, s.AddItem(other))

	s.RemoveItem("prod-shirt", strptr("M"), strptr("white"))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "L", *items[0].Size)
}

func TestRemoveItem_AbsentIsNoop(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)
	require.NoError(t, s.AddItem(shirt(2)))

	s.RemoveItem("prod-ghost", nil, nil)
	s.RemoveItem("prod-shirt", strptr("XL"), strptr("white"))

	assert.Len(t, s.Items(), 1)
}

func TestClear(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)
	require.NoError(t, s.AddItem(shirt(2)))

	s.Clear()

	assert.Empty(t, s.Items())
	assert.Equal(t, int64(0), s.Total())
	assert.Equal(t, 0, s.ItemCount())
}

// --- Persistence ---

func TestMutationsArePersistedAsync(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	require.NoError(t, s.AddItem(shirt(2)))

	assert.Eventually(t, func() bool {
		items, ok := repo.saved("user-1")
		return ok && len(items) == 1 && items[0].Quantity == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMutationsVisibleBeforePersistence(t *testing.T) {
	repo := newFakeRepo()
	repo.saveErr = errors.New("redis set cart: connection refused")
	s := openTestStore(t, repo, PolicyClamp)

	// Reads reflect the mutation even though every write fails.
	require.NoError(t, s.AddItem(shirt(2)))
	assert.Len(t, s.Items(), 1)
	assert.Equal(t, int64(9000), s.Total())
}

func TestClose_WritesFinalSnapshot(t *testing.T) {
	repo := newFakeRepo()
	s := Open(context.Background(), "user-1", repo, PolicyClamp, newTestLogger())

	require.NoError(t, s.AddItem(shirt(2)))
	require.NoError(t, s.UpdateQuantity("prod-shirt", strptr("M"), strptr("white"), 1))

	require.NoError(t, s.Close(context.Background()))

	items, ok := repo.saved("user-1")
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}

func TestClose_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	s := Open(context.Background(), "user-1", repo, PolicyClamp, newTestLogger())

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
}

func TestRoundTrip_CloseThenReopen(t *testing.T) {
	repo := newFakeRepo()

	s1 := Open(context.Background(), "user-1", repo, PolicyClamp, newTestLogger())
	require.NoError(t, s1.AddItem(shirt(3)))
	require.NoError(t, s1.Close(context.Background()))

	s2 := openTestStore(t, repo, PolicyClamp)
	items := s2.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "prod-shirt", items[0].ProductID)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "M", *items[0].Size)
}

// --- Concurrency ---

func TestConcurrentMutations(t *testing.T) {
	repo := newFakeRepo()
	s := openTestStore(t, repo, PolicyClamp)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := shirt(1)
			item.Stock = 0
			_ = s.AddItem(item)
		}()
	}
	wg.Wait()

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 50, items[0].Quantity)
}
