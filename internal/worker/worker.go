package worker

import (
	"context"

	"tableside/internal/broker"
	"tableside/internal/service"
	"tableside/internal/util"

	"go.uber.org/zap"
)

// ReconcileWorker consumes gateway-confirmed payment events from the broker
// and applies them to orders. This is the out-of-band path that brings
// payment_status back in line when a synchronous capture or cancel failed.
type ReconcileWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewReconcileWorker wires the consumer to the lifecycle service's payment
// event handler.
func NewReconcileWorker(consumer *broker.Consumer, orders *service.OrderService) *ReconcileWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentEvent(orders.HandlePaymentEvent)

	return &ReconcileWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start consumes until the context is cancelled.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment reconcile worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer.
func (w *ReconcileWorker) Stop() error {
	w.logger.Info("Stopping payment reconcile worker")
	return w.consumer.Close()
}
