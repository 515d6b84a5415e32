package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/velocore/cart-service/internal/domain"
	"github.com/velocore/cart-service/pkg/httpclient"
)

// AccountClient talks to the remote account API: the authenticated add-to-cart
// mirror endpoint and order creation. All calls go through the circuit-breaker
// client so a degraded account API cannot pile up requests here.
type AccountClient struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	logger  *slog.Logger
}

// NewAccountClient creates a client for the account API at baseURL.
func NewAccountClient(baseURL string, client *httpclient.CircuitBreakerClient, logger *slog.Logger) *AccountClient {
	return &AccountClient{
		baseURL: baseURL,
		http:    client,
		logger:  logger,
	}
}

type addToCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AddToCart mirrors an authenticated user's cart addition to the account API.
// The caller only updates the local cart when this returns nil.
func (c *AccountClient) AddToCart(ctx context.Context, token, productID string, quantity int) error {
	body, err := json.Marshal(addToCartRequest{ProductID: productID, Quantity: quantity})
	if err != nil {
		return fmt.Errorf("marshal add-to-cart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cart", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create add-to-cart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("account api add-to-cart: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, "account-api")
	}
	_ = resp.Body.Close()

	c.logger.DebugContext(ctx, "mirrored cart addition to account api",
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)
	return nil
}

// OrderItem is one line of an order creation request.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	Price     int64   `json:"price"`
	Currency  string  `json:"currency"`
	Size      *string `json:"size,omitempty"`
	Color     *string `json:"color,omitempty"`
	Quantity  int     `json:"quantity"`
}

// OrderRequest is the payload for creating an order from a cart.
type OrderRequest struct {
	Items           []OrderItem `json:"items"`
	TotalAmount     int64       `json:"total_amount"`
	Currency        string      `json:"currency"`
	ShippingAddress string      `json:"shipping_address"`
}

type createOrderResponse struct {
	Data struct {
		OrderID string `json:"order_id"`
	} `json:"data"`
}

// NewOrderRequest builds an order request from the cart's current items.
func NewOrderRequest(cart *domain.Cart, shippingAddress string) OrderRequest {
	items := make([]OrderItem, len(cart.Items))
	for i, li := range cart.Items {
		items[i] = OrderItem{
			ProductID: li.ProductID,
			Title:     li.Title,
			Price:     li.Price,
			Currency:  li.Currency,
			Size:      li.Size,
			Color:     li.Color,
			Quantity:  li.Quantity,
		}
	}
	return OrderRequest{
		Items:           items,
		TotalAmount:     cart.TotalAmount(),
		Currency:        cart.Currency(),
		ShippingAddress: shippingAddress,
	}
}

// CreateOrder submits the order and returns the remote order ID.
func (c *AccountClient) CreateOrder(ctx context.Context, token string, order OrderRequest) (string, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("account api create order: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", httpclient.ParseResponseError(resp, "account-api")
	}
	defer func() { _ = resp.Body.Close() }()

	var out createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	return out.Data.OrderID, nil
}
