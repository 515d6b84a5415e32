package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/velocore/cart-service/pkg/errors"
	"github.com/velocore/cart-service/pkg/httpclient"
	pkgkafka "github.com/velocore/cart-service/pkg/kafka"

	"github.com/velocore/cart-service/internal/domain"
	"github.com/velocore/cart-service/internal/event"
	"github.com/velocore/cart-service/internal/remote"
	"github.com/velocore/cart-service/internal/store"
)

// --- Fake Repository ---

type memRepo struct {
	mu        sync.Mutex
	snapshots map[string][]domain.LineItem
}

func newMemRepo() *memRepo {
	return &memRepo{snapshots: make(map[string][]domain.LineItem)}
}

func (m *memRepo) Get(ctx context.Context, ownerID string) ([]domain.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.snapshots[ownerID]
	if !ok {
		return nil, apperrors.NotFound("cart", ownerID)
	}
	out := make([]domain.LineItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *memRepo) Save(ctx context.Context, ownerID string, items []domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make([]domain.LineItem, len(items))
	copy(snap, items)
	m.snapshots[ownerID] = snap
	return nil
}

func (m *memRepo) Delete(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, ownerID)
	return nil
}

// --- Fake Account API ---

type accountRecorder struct {
	mu         sync.Mutex
	cartCalls  []recordedCall
	orderCalls []recordedCall
	failStatus int
	orderID    string
}

type recordedCall struct {
	auth string
	body []byte
}

func (a *accountRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		call := recordedCall{auth: r.Header.Get("Authorization"), body: body}

		a.mu.Lock()
		defer a.mu.Unlock()

		if a.failStatus != 0 {
			w.WriteHeader(a.failStatus)
			_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"bad token"}}`))
			return
		}

		switch r.URL.Path {
		case "/cart":
			a.cartCalls = append(a.cartCalls, call)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"data":{"status":"ok"}}`))
		case "/orders":
			a.orderCalls = append(a.orderCalls, call)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]string{"order_id": a.orderID},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (a *accountRecorder) cartCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cartCalls)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, policy store.Policy, account *accountRecorder) *CartService {
	t.Helper()
	logger := newTestLogger()

	srv := httptest.NewServer(account.handler())
	t.Cleanup(srv.Close)

	httpCfg := httpclient.DefaultConfig()
	httpCfg.MaxRetries = 0
	accountHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultCircuitBreakerConfig("account-api-test"),
		logger,
	)
	accountClient := remote.NewAccountClient(srv.URL, accountHTTP, logger)

	// No broker is running in tests; the async writer makes publish calls
	// return immediately and the service logs the eventual failure.
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	kafkaCfg.Async = true
	producer := event.NewProducer(pkgkafka.NewProducer(kafkaCfg, logger), logger)

	stores := store.NewRegistry(newMemRepo(), policy, time.Hour, logger)
	t.Cleanup(func() { _ = stores.Close(context.Background()) })

	return NewCartService(stores, accountClient, producer, logger)
}

func strptr(s string) *string { return &s }

func shirtInput() AddItemInput {
	return AddItemInput{
		ProductID: "prod-shirt",
		Title:     "Linen Shirt",
		Price:     4500,
		Currency:  "EGP",
		Size:      strptr("M"),
		Color:     strptr("white"),
		Quantity:  2,
		Stock:     10,
	}
}

// --- GetCart ---

func TestGetCart_Empty(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})
	ctx := context.Background()

	cart, err := svc.GetCart(ctx, "user-1")

	require.NoError(t, err)
	assert.Equal(t, "user-1", cart.OwnerID)
	assert.Empty(t, cart.Items)
	assert.Equal(t, int64(0), cart.TotalAmount())
}

func TestGetCart_MissingOwner(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})

	_, err := svc.GetCart(context.Background(), "")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- AddItem ---

func TestAddItem_Guest(t *testing.T) {
	account := &accountRecorder{}
	svc := newTestService(t, store.PolicyClamp, account)
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, "guest-session-1", "", shirtInput())

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	// Guests never touch the account API.
	assert.Equal(t, 0, account.cartCallCount())
}

func TestAddItem_AuthenticatedMirrorsFirst(t *testing.T) {
	account := &accountRecorder{}
	svc := newTestService(t, store.PolicyClamp, account)
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, "user-1", "jwt-token", shirtInput())

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	require.Equal(t, 1, account.cartCallCount())
	assert.Equal(t, "Bearer jwt-token", account.cartCalls[0].auth)

	var payload struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	require.NoError(t, json.Unmarshal(account.cartCalls[0].body, &payload))
	assert.Equal(t, "prod-shirt", payload.ProductID)
	assert.Equal(t, 2, payload.Quantity)
}

func TestAddItem_MirrorFailureKeepsLocalCartUntouched(t *testing.T) {
	account := &accountRecorder{failStatus: http.StatusUnauthorized}
	svc := newTestService(t, store.PolicyClamp, account)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "stale-token", shirtInput())
	require.Error(t, err)

	cart, err := svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestAddItem_MergesRepeatedAdds(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "", shirtInput())
	require.NoError(t, err)
	cart, err := svc.AddItem(ctx, "user-1", "", shirtInput())
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.Equal(t, int64(4*4500), cart.TotalAmount())
}

func TestAddItem_Validation(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})
	ctx := context.Background()

	missing := shirtInput()
	missing.ProductID = ""
	_, err := svc.AddItem(ctx, "user-1", "", missing)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	zeroQty := shirtInput()
	zeroQty.Quantity = 0
	_, err = svc.AddItem(ctx, "user-1", "", zeroQty)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	negPrice := shirtInput()
	negPrice.Price = -1
	_, err = svc.AddItem(ctx, "user-1", "", negPrice)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.AddItem(ctx, "", "", shirtInput())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_RejectPolicySurfacesStockError(t *testing.T) {
	svc := newTestService(t, store.PolicyReject, &accountRecorder{})
	ctx := context.Background()

	input := shirtInput()
	input.Quantity = 8
	_, err := svc.AddItem(ctx, "user-1", "", input)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "user-1", "", input)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- UpdateQuantity ---

func TestUpdateQuantity(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "", shirtInput())
	require.NoError(t, err)

	cart, err := svc.UpdateQuantity(ctx, "user-1", "prod-shirt", strptr("M"), strptr("white"), 3)
	require.NoError(t, err)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestUpdateQuantity_ZeroDelta(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})

	_, err := svc.UpdateQuantity(context.Background(), "user-1", "prod-shirt", nil, nil, 0)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpdateQuantity_MissingEntrySucceeds(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})

	cart, err := svc.UpdateQuantity(context.Background(), "user-1", "prod-ghost", nil, nil, 1)

	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

// --- RemoveItem / ClearCart ---

func TestRemoveItem(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "", shirtInput())
	require.NoError(t, err)

	cart, err := svc.RemoveItem(ctx, "user-1", "prod-shirt", strptr("M"), strptr("white"))
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	// Removing again stays a no-op.
	cart, err = svc.RemoveItem(ctx, "user-1", "prod-shirt", strptr("M"), strptr("white"))
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestClearCart(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "", shirtInput())
	require.NoError(t, err)

	require.NoError(t, svc.ClearCart(ctx, "user-1"))

	cart, err := svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

// --- Checkout ---

func TestCheckout_RequiresAuthentication(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})

	_, err := svc.Checkout(context.Background(), "guest-session-1", "", "12 Nile St, Cairo")

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCheckout_EmptyCart(t *testing.T) {
	svc := newTestService(t, store.PolicyClamp, &accountRecorder{})

	_, err := svc.Checkout(context.Background(), "user-1", "jwt-token", "12 Nile St, Cairo")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCheckout_CreatesOrderAndClearsCart(t *testing.T) {
	account := &accountRecorder{orderID: "order-777"}
	svc := newTestService(t, store.PolicyClamp, account)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "", shirtInput())
	require.NoError(t, err)

	orderID, err := svc.Checkout(ctx, "user-1", "jwt-token", "12 Nile St, Cairo")
	require.NoError(t, err)
	assert.Equal(t, "order-777", orderID)

	require.Len(t, account.orderCalls, 1)
	assert.Equal(t, "Bearer jwt-token", account.orderCalls[0].auth)

	var order remote.OrderRequest
	require.NoError(t, json.Unmarshal(account.orderCalls[0].body, &order))
	require.Len(t, order.Items, 1)
	assert.Equal(t, "prod-shirt", order.Items[0].ProductID)
	assert.Equal(t, int64(2*4500), order.TotalAmount)
	assert.Equal(t, "EGP", order.Currency)
	assert.Equal(t, "12 Nile St, Cairo", order.ShippingAddress)

	cart, err := svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCheckout_OrderFailureKeepsCart(t *testing.T) {
	account := &accountRecorder{}
	svc := newTestService(t, store.PolicyClamp, account)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "", shirtInput())
	require.NoError(t, err)

	account.mu.Lock()
	account.failStatus = http.StatusBadRequest
	account.mu.Unlock()

	_, err = svc.Checkout(ctx, "user-1", "jwt-token", "12 Nile St, Cairo")
	require.Error(t, err)

	cart, err := svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}
