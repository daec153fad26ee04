package worker

import (
	"context"
	"errors"

	"rental-order-service/internal/broker"
	"rental-order-service/internal/models"
	"rental-order-service/internal/service"
	"rental-order-service/internal/util"

	"go.uber.org/zap"
)

// CallbackHandler applies one gateway callback
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb *models.GatewayCallback) error
}

// CallbackWorker feeds payment provider callbacks from Kafka to the reconciler
type CallbackWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCallbackWorker creates a new callback worker
func NewCallbackWorker(consumer *broker.Consumer, reconciler CallbackHandler) *CallbackWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnGatewayCallback(func(ctx context.Context, cb *models.GatewayCallback) error {
		err := reconciler.HandleCallback(ctx, cb)
		if errors.Is(err, service.ErrUnknownCallback) {
			return broker.Permanent(err)
		}
		return err
	})

	return &CallbackWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *CallbackWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting callback worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CallbackWorker) Stop() error {
	w.logger.Info("Stopping callback worker")
	return w.consumer.Close()
}
