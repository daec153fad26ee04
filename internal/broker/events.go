package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"rental-order-service/internal/models"
	"rental-order-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes a keyed event to a topic
type Publisher interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher publishes order notifications
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// EventHandler routes incoming messages by event type
type EventHandler struct {
	onGatewayCallback func(context.Context, *models.GatewayCallback) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnGatewayCallback registers a handler for payment provider callbacks
func (eh *EventHandler) OnGatewayCallback(handler func(context.Context, *models.GatewayCallback) error) {
	eh.onGatewayCallback = handler
}

// HandleMessage routes messages to appropriate handlers. Payloads that do
// not decode are permanent failures.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	eventType, err := messageType(msg)
	if err != nil {
		return Permanent(err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", eventType),
		zap.Int64("offset", msg.Offset))

	switch eventType {
	case models.EventTypeGatewayCallback:
		if eh.onGatewayCallback != nil {
			var event models.GatewayCallback
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return Permanent(fmt.Errorf("failed to unmarshal GatewayCallback event: %w", err))
			}
			return eh.onGatewayCallback(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", eventType))
	}

	return nil
}

// messageType reads the event type header, falling back to the payload for
// producers that do not set it.
func messageType(msg kafka.Message) (string, error) {
	for _, h := range msg.Headers {
		if h.Key == EventTypeHeader && len(h.Value) > 0 {
			return string(h.Value), nil
		}
	}

	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return "", fmt.Errorf("failed to unmarshal base event: %w", err)
	}
	return baseEvent.EventType, nil
}
