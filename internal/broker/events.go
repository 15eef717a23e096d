package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"tableside/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes order-domain events keyed by order so consumers
// see each order's events in sequence.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes an OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderStatusChanged publishes an OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentEvent publishes a gateway-confirmed payment outcome for the
// reconcile worker.
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, "payment-"+event.PaymentReference, event)
}

// EventHandler routes consumed messages to registered handlers.
type EventHandler struct {
	onPaymentEvent func(context.Context, *models.PaymentEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentEvent registers a handler for payment outcome events
func (eh *EventHandler) OnPaymentEvent(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPaymentEvent = handler
}

// HandleMessage routes a message by its event type.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch base.EventType {
	case models.EventTypePaymentSucceeded, models.EventTypePaymentFailed, models.EventTypePaymentCancelled:
		if eh.onPaymentEvent == nil {
			return nil
		}
		var event models.PaymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal payment event: %w", err)
		}
		return eh.onPaymentEvent(ctx, &event)
	}

	return nil
}
