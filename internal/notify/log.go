package notify

import (
	"context"

	"freshness-orders/internal/model"

	"go.uber.org/zap"
)

// LogNotifier writes lifecycle events to the service log. It is the fallback
// when no queue is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID string, order *model.Order, kind model.OrderEventKind) error {
	n.logger.Info("order event",
		zap.String("kind", string(kind)),
		zap.String("user_id", userID),
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("payment_status", string(order.PaymentStatus)),
	)
	return nil
}
