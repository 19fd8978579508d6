package service

import (
	"context"

	"freshness-orders/internal/model"
)

// Notifier pushes order lifecycle events to the customer. Delivery is best
// effort: errors are logged by the caller and never undo a transition.
type Notifier interface {
	Notify(ctx context.Context, userID string, order *model.Order, kind model.OrderEventKind) error
}

// OrderEvent is a transition committed together with its order write and
// emitted once the surrounding transaction has committed.
type OrderEvent struct {
	Order *model.Order
	Kind  model.OrderEventKind
}
