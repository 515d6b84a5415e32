package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/velocore/cart-service/internal/domain"
	pkgkafka "github.com/velocore/cart-service/pkg/kafka"
)

// Kafka topics for cart domain events.
const (
	TopicCartUpdated    = "velocore.cart.updated"
	TopicCartCleared    = "velocore.cart.cleared"
	TopicCartCheckedOut = "velocore.cart.checked_out"
)

const (
	aggregateTypeCart = "cart"
	source            = "cart-service"
)

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	OwnerID     string            `json:"owner_id"`
	Items       []domain.LineItem `json:"items"`
	ItemCount   int               `json:"item_count"`
	TotalAmount int64             `json:"total_amount"`
	Currency    string            `json:"currency"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	OwnerID string `json:"owner_id"`
}

// CartCheckedOutData is the payload for a cart.checked_out event.
type CartCheckedOutData struct {
	OwnerID     string `json:"owner_id"`
	OrderID     string `json:"order_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

// Producer publishes cart domain events.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates an event producer for the cart service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event with the full cart view.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	data := CartUpdatedData{
		OwnerID:     cart.OwnerID,
		Items:       cart.Items,
		ItemCount:   cart.ItemCount(),
		TotalAmount: cart.TotalAmount(),
		Currency:    cart.Currency(),
	}
	return p.publish(ctx, TopicCartUpdated, cart.OwnerID, data)
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, ownerID string) error {
	return p.publish(ctx, TopicCartCleared, ownerID, CartClearedData{OwnerID: ownerID})
}

// PublishCartCheckedOut publishes a cart.checked_out event after a successful
// order creation.
func (p *Producer) PublishCartCheckedOut(ctx context.Context, ownerID, orderID string, total int64, currency string) error {
	data := CartCheckedOutData{
		OwnerID:     ownerID,
		OrderID:     orderID,
		TotalAmount: total,
		Currency:    currency,
	}
	return p.publish(ctx, TopicCartCheckedOut, ownerID, data)
}

func (p *Producer) publish(ctx context.Context, topic, ownerID string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, ownerID, aggregateTypeCart, source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published cart event",
		slog.String("topic", topic),
		slog.String("owner_id", ownerID),
	)
	return nil
}
