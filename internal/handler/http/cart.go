package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/velocore/cart-service/pkg/errors"
	"github.com/velocore/cart-service/pkg/validator"

	"github.com/velocore/cart-service/internal/domain"
	"github.com/velocore/cart-service/internal/service"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON body for adding an item to the cart. Size and
// color are optional variant dimensions; omit the field entirely when the
// product has no such dimension.
type AddItemRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	Title     string  `json:"title" validate:"max=500"`
	ImageURL  string  `json:"image_url"`
	Price     int64   `json:"price" validate:"gte=0"`
	Currency  string  `json:"currency" validate:"omitempty,len=3"`
	Size      *string `json:"size"`
	Color     *string `json:"color"`
	Quantity  int     `json:"quantity" validate:"required,gte=1"`
	Stock     int     `json:"stock" validate:"gte=0"`
}

// UpdateQuantityRequest is the JSON body for a quantity stepper change.
type UpdateQuantityRequest struct {
	Delta int `json:"delta" validate:"required"`
}

// CheckoutRequest is the JSON body for checkout initiation.
type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address" validate:"required,max=1000"`
}

// --- Response envelope ---

type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// cartView is the cart representation returned by every cart endpoint.
type cartView struct {
	OwnerID     string            `json:"owner_id"`
	Items       []domain.LineItem `json:"items"`
	ItemCount   int               `json:"item_count"`
	TotalAmount int64             `json:"total_amount"`
	Currency    string            `json:"currency"`
}

func newCartView(cart *domain.Cart) cartView {
	return cartView{
		OwnerID:     cart.OwnerID,
		Items:       cart.Items,
		ItemCount:   cart.ItemCount(),
		TotalAmount: cart.TotalAmount(),
		Currency:    cart.Currency(),
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.GetCart(r.Context(), ownerIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: newCartView(cart)})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	input := service.AddItemInput{
		ProductID: req.ProductID,
		Title:     req.Title,
		ImageURL:  req.ImageURL,
		Price:     req.Price,
		Currency:  req.Currency,
		Size:      req.Size,
		Color:     req.Color,
		Quantity:  req.Quantity,
		Stock:     req.Stock,
	}

	ctx := r.Context()
	cart, err := h.service.AddItem(ctx, ownerIDFromContext(ctx), tokenFromContext(ctx), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: newCartView(cart)})
}

// UpdateQuantity handles PATCH /api/v1/cart/items/{productId}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if productID == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "productId is required"},
		})
		return
	}

	var req UpdateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	size, color := variantFromQuery(r)
	ctx := r.Context()
	cart, err := h.service.UpdateQuantity(ctx, ownerIDFromContext(ctx), productID, size, color, req.Delta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: newCartView(cart)})
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if productID == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "productId is required"},
		})
		return
	}

	size, color := variantFromQuery(r)
	ctx := r.Context()
	cart, err := h.service.RemoveItem(ctx, ownerIDFromContext(ctx), productID, size, color)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: newCartView(cart)})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCart(r.Context(), ownerIDFromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: map[string]string{"status": "cleared"}})
}

// Checkout handles POST /api/v1/cart/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	ctx := r.Context()
	orderID, err := h.service.Checkout(ctx, ownerIDFromContext(ctx), tokenFromContext(ctx), req.ShippingAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Data: map[string]string{"order_id": orderID}})
}

// --- Helpers ---

// variantFromQuery reads the optional size and color query parameters. A
// parameter that is not present at all maps to nil, keeping the distinction
// between "no such dimension" and an empty value.
func variantFromQuery(r *http.Request) (size, color *string) {
	q := r.URL.Query()
	if q.Has("size") {
		v := q.Get("size")
		size = &v
	}
	if q.Has("color") {
		v := q.Get("color")
		color = &v
	}
	return size, color
}

func (h *CartHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, response{
			Error: &errorResponse{Code: appErr.Code, Message: appErr.Message},
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	code := "INTERNAL_ERROR"
	message := "an internal error occurred"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		code = "NOT_FOUND"
		message = "resource not found"
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidInput):
		code = "INVALID_INPUT"
		message = err.Error()
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		code = "UNAUTHORIZED"
		message = err.Error()
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	writeJSON(w, status, response{
		Error: &errorResponse{Code: code, Message: message},
	})
}

func (h *CartHandler) writeValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	writeJSON(w, http.StatusBadRequest, response{
		Error: &errorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}
