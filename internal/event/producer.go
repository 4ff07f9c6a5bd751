package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/utafrali/cartkeeper/internal/domain"
	pkgkafka "github.com/utafrali/cartkeeper/pkg/kafka"
	"github.com/utafrali/cartkeeper/pkg/logger"
)

// Topics for checkout events.
var (
	TopicOrderPlaced = pkgkafka.Topic("order", "placed")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

// Aggregate types and source.
const (
	AggregateTypeOrder = "order"
	AggregateTypeCart  = "cart"
	Source             = "cartkeeper"
)

// OrderPlacedData is the payload of an order.placed event.
type OrderPlacedData struct {
	OrderNumber int             `json:"order_number"`
	CheckoutID  string          `json:"checkout_id"`
	PlacedAt    time.Time       `json:"placed_at"`
	Lines       []OrderLineData `json:"lines"`
	ItemCount   int             `json:"item_count"`
	Total       string          `json:"total"`
}

// OrderLineData is one line within an order event. UnitPrice is empty when
// the price is unknown.
type OrderLineData struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price,omitempty"`
	Quantity  int    `json:"quantity"`
}

// CartClearedData is the payload of a cart.cleared event.
type CartClearedData struct {
	CartKey     string `json:"cart_key"`
	OrderNumber int    `json:"order_number,omitempty"`
}

// Publisher is the transport used by Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes checkout domain events.
type Producer struct {
	publisher Publisher
	cartKey   string
	logger    *slog.Logger
}

// NewProducer creates an event producer. cartKey identifies the cart aggregate.
func NewProducer(publisher Publisher, cartKey string, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, cartKey: cartKey, logger: logger}
}

// PublishOrderPlaced publishes order.placed followed by cart.cleared.
func (p *Producer) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	lines := make([]OrderLineData, len(order.Lines))
	for i, l := range order.Lines {
		d := OrderLineData{ProductID: l.ProductID, Name: l.Name, Quantity: l.Quantity}
		if l.PriceKnown() {
			d.UnitPrice = l.UnitPrice.StringFixed(2)
		}
		lines[i] = d
	}

	data := OrderPlacedData{
		OrderNumber: order.Number,
		CheckoutID:  order.CheckoutID,
		PlacedAt:    order.PlacedAt,
		Lines:       lines,
		ItemCount:   order.ItemCount(),
		Total:       order.Total().StringFixed(2),
	}

	if err := p.publish(ctx, TopicOrderPlaced, strconv.Itoa(order.Number), AggregateTypeOrder, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published order.placed event",
		slog.Int("order_number", order.Number),
		slog.Int("item_count", data.ItemCount),
	)

	return p.publish(ctx, TopicCartCleared, p.cartKey, AggregateTypeCart,
		CartClearedData{CartKey: p.cartKey, OrderNumber: order.Number})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, Source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if id := logger.CheckoutIDFromContext(ctx); id != "" {
		event.WithMetadata("checkout_id", id)
	}
	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// Nop discards events. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) PublishOrderPlaced(context.Context, domain.Order) error { return nil }
