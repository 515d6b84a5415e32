package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/velocore/cart-service/pkg/errors"

	"github.com/velocore/cart-service/internal/domain"
	"github.com/velocore/cart-service/internal/event"
	"github.com/velocore/cart-service/internal/remote"
	"github.com/velocore/cart-service/internal/store"
)

// AddItemInput is the product descriptor plus selection handed to AddItem.
// Size and Color are optional variant dimensions; nil means the product has
// no such dimension, which is distinct from an empty string.
type AddItemInput struct {
	ProductID string  `json:"product_id" validate:"required"`
	Title     string  `json:"title"`
	ImageURL  string  `json:"image_url"`
	Price     int64   `json:"price" validate:"gte=0"`
	Currency  string  `json:"currency"`
	Size      *string `json:"size"`
	Color     *string `json:"color"`
	Quantity  int     `json:"quantity" validate:"gte=1"`
	Stock     int     `json:"stock" validate:"gte=0"`
}

// CartService orchestrates cart operations: input validation at the boundary,
// the guest/authenticated mirroring policy, store mutations, and domain
// events. The store itself stays infallible; anything error-worthy is caught
// here before it is touched.
type CartService struct {
	stores   *store.Registry
	account  *remote.AccountClient
	producer *event.Producer
	logger   *slog.Logger
}

// NewCartService creates a cart service.
func NewCartService(stores *store.Registry, account *remote.AccountClient, producer *event.Producer, logger *slog.Logger) *CartService {
	return &CartService{
		stores:   stores,
		account:  account,
		producer: producer,
		logger:   logger,
	}
}

// GetCart returns the owner's current cart, empty if nothing was ever added.
func (s *CartService) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	if ownerID == "" {
		return nil, apperrors.InvalidInput("cart owner is required")
	}
	return s.stores.Get(ctx, ownerID).Cart(), nil
}

// AddItem adds a selection to the owner's cart.
//
// When token is non-empty the caller is authenticated and the addition is
// mirrored to the account API first; the local cart is only updated after
// that call succeeds. Guests (empty token) update the local cart
// unconditionally. This asymmetry is deliberate and callers depend on it.
func (s *CartService) AddItem(ctx context.Context, ownerID, token string, input AddItemInput) (*domain.Cart, error) {
	if ownerID == "" {
		return nil, apperrors.InvalidInput("cart owner is required")
	}
	if input.ProductID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if input.Price < 0 {
		return nil, apperrors.InvalidInput("price must not be negative")
	}
	if input.Quantity < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}

	if token != "" {
		if err := s.account.AddToCart(ctx, token, input.ProductID, input.Quantity); err != nil {
			return nil, fmt.Errorf("mirror add to account api: %w", err)
		}
	}

	st := s.stores.Get(ctx, ownerID)
	if err := st.AddItem(domain.LineItem{
		ProductID: input.ProductID,
		Title:     input.Title,
		ImageURL:  input.ImageURL,
		Price:     input.Price,
		Currency:  input.Currency,
		Size:      input.Size,
		Color:     input.Color,
		Quantity:  input.Quantity,
		Stock:     input.Stock,
	}); err != nil {
		if errors.Is(err, store.ErrStockExceeded) {
			return nil, apperrors.InvalidInput("requested quantity exceeds available stock")
		}
		return nil, fmt.Errorf("add item: %w", err)
	}

	cart := st.Cart()
	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("owner_id", ownerID),
		slog.String("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity),
		slog.Bool("authenticated", token != ""),
	)
	return cart, nil
}

// UpdateQuantity applies a signed delta to the entry matching the identity
// key. Results are clamped to [1, stock]; a no-op (missing entry or change
// absorbed by a bound) still succeeds.
func (s *CartService) UpdateQuantity(ctx context.Context, ownerID, productID string, size, color *string, delta int) (*domain.Cart, error) {
	if ownerID == "" {
		return nil, apperrors.InvalidInput("cart owner is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if delta == 0 {
		return nil, apperrors.InvalidInput("delta must not be zero")
	}

	st := s.stores.Get(ctx, ownerID)
	if err := st.UpdateQuantity(productID, size, color, delta); err != nil {
		if errors.Is(err, store.ErrStockExceeded) {
			return nil, apperrors.InvalidInput("requested quantity exceeds available stock")
		}
		return nil, fmt.Errorf("update quantity: %w", err)
	}

	cart := st.Cart()
	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "cart quantity updated",
		slog.String("owner_id", ownerID),
		slog.String("product_id", productID),
		slog.Int("delta", delta),
	)
	return cart, nil
}

// RemoveItem deletes the entry matching the identity key. Removing an entry
// that is not in the cart is a no-op, not an error.
func (s *CartService) RemoveItem(ctx context.Context, ownerID, productID string, size, color *string) (*domain.Cart, error) {
	if ownerID == "" {
		return nil, apperrors.InvalidInput("cart owner is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	st := s.stores.Get(ctx, ownerID)
	st.RemoveItem(productID, size, color)

	cart := st.Cart()
	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("owner_id", ownerID),
		slog.String("product_id", productID),
	)
	return cart, nil
}

// ClearCart empties the owner's cart.
func (s *CartService) ClearCart(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return apperrors.InvalidInput("cart owner is required")
	}

	s.stores.Get(ctx, ownerID).Clear()

	if err := s.producer.PublishCartCleared(ctx, ownerID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared", slog.String("owner_id", ownerID))
	return nil
}

// Checkout creates an order from the current cart through the account API and
// clears the cart once the order is accepted. Checkout requires an
// authenticated caller.
func (s *CartService) Checkout(ctx context.Context, ownerID, token, shippingAddress string) (string, error) {
	if ownerID == "" {
		return "", apperrors.InvalidInput("cart owner is required")
	}
	if token == "" {
		return "", apperrors.Unauthorized("checkout requires authentication")
	}

	st := s.stores.Get(ctx, ownerID)
	cart := st.Cart()
	if len(cart.Items) == 0 {
		return "", apperrors.InvalidInput("cart is empty")
	}

	orderID, err := s.account.CreateOrder(ctx, token, remote.NewOrderRequest(cart, shippingAddress))
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}

	st.Clear()

	if err := s.producer.PublishCartCheckedOut(ctx, ownerID, orderID, cart.TotalAmount(), cart.Currency()); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.checked_out event",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart checked out",
		slog.String("owner_id", ownerID),
		slog.String("order_id", orderID),
		slog.Int64("total_amount", cart.TotalAmount()),
	)
	return orderID, nil
}

func (s *CartService) publishUpdated(ctx context.Context, cart *domain.Cart) {
	if err := s.producer.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("owner_id", cart.OwnerID),
			slog.String("error", err.Error()),
		)
	}
}
