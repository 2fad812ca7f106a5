package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/ferreiralabs/settra/model"
)

// Transport delivers a notification to an external channel (email, push,
// webhook). Delivery guarantees beyond best-effort are the transport's
// responsibility, not the engine's.
type Transport interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// LogTransport is the default transport: it writes each event to the
// structured log. Deployments plug real channels in via the Worker.
type LogTransport struct {
	Logger *zap.Logger
}

// Deliver logs the notification.
func (t *LogTransport) Deliver(_ context.Context, n model.Notification) error {
	t.Logger.Info("notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("transaction_id", n.TransactionID),
		zap.String("recipient", n.Recipient),
		zap.String("type", n.Type),
	)
	return nil
}

// Worker drains the dispatcher's outbound queue and hands each event to the
// transport. A delivery failure is logged and the event dropped; it never
// propagates back into the engine.
type Worker struct {
	dispatcher *Dispatcher
	transport  Transport
	logger     *zap.Logger
}

// NewWorker creates a delivery worker for the given dispatcher.
func NewWorker(dispatcher *Dispatcher, transport Transport, logger *zap.Logger) *Worker {
	return &Worker{dispatcher: dispatcher, transport: transport, logger: logger}
}

// Run consumes events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.dispatcher.Events():
			if err := w.transport.Deliver(ctx, n); err != nil {
				w.logger.Warn("notification delivery failed",
					zap.String("notification_id", n.ID),
					zap.String("type", n.Type),
					zap.Error(err),
				)
			}
		}
	}
}
