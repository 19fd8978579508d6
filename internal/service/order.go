package service

import (
	"context"
	"fmt"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/model"
	"freshness-orders/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrderItemInput struct {
	ProductID      string
	Quantity       int32
	Customizations map[string]string
}

type CreateOrderInput struct {
	UserID           string
	Items            []OrderItemInput
	DeliveryType     model.DeliveryType
	DeliverySchedule *model.DeliverySchedule
	SubscriptionID   *string
	Currency         string
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error)
	ApplyPaymentResult(ctx context.Context, orderID string, entry *model.LedgerEntry) (*model.Order, error)
	MarkDelivered(ctx context.Context, orderID string) (*model.Order, error)
	Cancel(ctx context.Context, orderID string) (*model.Order, error)
	MarkRefunded(ctx context.Context, orderID string) (*model.Order, error)
	Get(ctx context.Context, orderID string) (*model.Order, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Order, error)

	// CreateOrderTx and ApplyPaymentResultTx run inside the caller's
	// transaction. The returned event must be passed to Emit after commit.
	CreateOrderTx(ctx context.Context, tx *gorm.DB, in CreateOrderInput) (*model.Order, *OrderEvent, error)
	ApplyPaymentResultTx(ctx context.Context, tx *gorm.DB, orderID string, entry *model.LedgerEntry) (*model.Order, *OrderEvent, error)
	Emit(ctx context.Context, events ...*OrderEvent)
}

type orderServiceImpl struct {
	db              *gorm.DB
	orderRepo       repository.OrderRepository
	ledgerRepo      repository.LedgerRepository
	productRepo     repository.ProductRepository
	notifier        Notifier
	defaultCurrency string
	logger          *zap.Logger
}

func NewOrderService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	ledgerRepo repository.LedgerRepository,
	productRepo repository.ProductRepository,
	notifier Notifier,
	defaultCurrency string,
	logger *zap.Logger,
) OrderService {
	return &orderServiceImpl{
		db:              db,
		orderRepo:       orderRepo,
		ledgerRepo:      ledgerRepo,
		productRepo:     productRepo,
		notifier:        notifier,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

func (s *orderServiceImpl) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	var (
		order *model.Order
		event *OrderEvent
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, event, err = s.CreateOrderTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Emit(ctx, event)
	return order, nil
}

func (s *orderServiceImpl) CreateOrderTx(ctx context.Context, tx *gorm.DB, in CreateOrderInput) (*model.Order, *OrderEvent, error) {
	if in.UserID == "" {
		return nil, nil, apperr.Validation("user_id", "is required")
	}
	if len(in.Items) == 0 {
		return nil, nil, apperr.Validation("items", "must not be empty")
	}

	deliveryType := in.DeliveryType
	if deliveryType == "" {
		deliveryType = model.DeliveryOneTime
	}
	if !deliveryType.Valid() {
		return nil, nil, apperr.Validation("delivery_type", "unknown value %q", deliveryType)
	}

	productIDs := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, nil, apperr.Validation("quantity", "must be positive for product %s", item.ProductID)
		}
		productIDs = append(productIDs, item.ProductID)
	}

	products, err := s.productRepo.FindMany(ctx, tx, productIDs, repository.IncludeInactive)
	if err != nil {
		return nil, nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]*model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]model.OrderItem, len(in.Items))
	for i, item := range in.Items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, nil, apperr.Validation("items", "unknown product %s", item.ProductID)
		}
		if !product.IsActive {
			return nil, nil, apperr.Validation("items", "product %s is no longer available", item.ProductID)
		}
		items[i] = model.OrderItem{
			ProductID:      product.ID,
			Quantity:       item.Quantity,
			UnitPrice:      product.Price,
			Customizations: item.Customizations,
		}
	}

	currency := in.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	order := model.NewOrder(uuid.NewString(), in.UserID, currency, deliveryType, items)
	order.SubscriptionID = in.SubscriptionID
	order.DeliverySchedule = in.DeliverySchedule

	if err := s.orderRepo.Create(ctx, tx, order); err != nil {
		return nil, nil, fmt.Errorf("store order in db: %w", err)
	}

	return order, &OrderEvent{Order: order, Kind: model.EventOrderCreated}, nil
}

func (s *orderServiceImpl) ApplyPaymentResult(ctx context.Context, orderID string, entry *model.LedgerEntry) (*model.Order, error) {
	var (
		order *model.Order
		event *OrderEvent
	)
	err := retryOnStale(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			order, event, err = s.ApplyPaymentResultTx(ctx, tx, orderID, entry)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.Emit(ctx, event)
	return order, nil
}

// ApplyPaymentResultTx folds a finalized ledger entry into the order. It is
// idempotent: applying the same entry twice leaves the order unchanged and
// returns no event the second time.
func (s *orderServiceImpl) ApplyPaymentResultTx(ctx context.Context, tx *gorm.DB, orderID string, entry *model.LedgerEntry) (*model.Order, *OrderEvent, error) {
	order, err := s.find(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}

	var kind model.OrderEventKind
	switch entry.Status {
	case model.LedgerSucceeded:
		if order.PaymentStatus == model.PaymentStatusRefunded {
			return order, nil, nil
		}

		succeeded, err := s.ledgerRepo.ListByOrder(ctx, tx, orderID, model.LedgerSucceeded)
		if err != nil {
			return nil, nil, fmt.Errorf("sum ledger entries: %w", err)
		}
		paid := decimal.Zero
		for _, e := range succeeded {
			paid = paid.Add(e.Amount)
		}

		paymentStatus, status := model.PaymentStatusPartial, order.Status
		kind = model.EventOrderPartiallyPaid
		if paid.GreaterThanOrEqual(order.TotalPrice) {
			paymentStatus = model.PaymentStatusPaid
			kind = model.EventOrderPaid
		}
		if status == model.OrderStatusPending {
			status = model.OrderStatusProcessing
		}

		if paymentStatus == order.PaymentStatus && status == order.Status {
			return order, nil, nil
		}
		order.PaymentStatus = paymentStatus
		order.Status = status

	case model.LedgerFailed:
		if order.LastFailedEntryID == entry.ID {
			return order, nil, nil
		}
		order.LastFailedEntryID = entry.ID
		order.LastPaymentFailure = fmt.Sprintf("%s payment %s failed", entry.Provider, entry.Reference())
		kind = model.EventOrderPaymentFailed

	default:
		return nil, nil, apperr.Validation("ledger_entry", "%s is not finalized", entry.ID)
	}

	if err := s.orderRepo.Update(ctx, tx, order); err != nil {
		return nil, nil, err
	}
	return order, &OrderEvent{Order: order, Kind: kind}, nil
}

func (s *orderServiceImpl) MarkDelivered(ctx context.Context, orderID string) (*model.Order, error) {
	return s.transition(ctx, orderID, "deliver", model.EventOrderDelivered, func(tx *gorm.DB, o *model.Order) (string, bool, error) {
		if o.Status != model.OrderStatusProcessing {
			return string(o.Status), false, nil
		}
		o.Status = model.OrderStatusCompleted
		return "", true, nil
	})
}

func (s *orderServiceImpl) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	return s.transition(ctx, orderID, "cancel", model.EventOrderCancelled, func(tx *gorm.DB, o *model.Order) (string, bool, error) {
		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusProcessing {
			return string(o.Status), false, nil
		}
		o.Status = model.OrderStatusCancelled
		return "", true, nil
	})
}

// MarkRefunded requires every succeeded ledger entry of the order to be
// recorded as refunded first.
func (s *orderServiceImpl) MarkRefunded(ctx context.Context, orderID string) (*model.Order, error) {
	return s.transition(ctx, orderID, "refund", model.EventOrderRefunded, func(tx *gorm.DB, o *model.Order) (string, bool, error) {
		if o.PaymentStatus != model.PaymentStatusPaid && o.PaymentStatus != model.PaymentStatusPartial {
			return string(o.PaymentStatus), false, nil
		}

		succeeded, err := s.ledgerRepo.ListByOrder(ctx, tx, orderID, model.LedgerSucceeded)
		if err != nil {
			return "", false, fmt.Errorf("list ledger entries: %w", err)
		}
		outstanding := 0
		for _, e := range succeeded {
			if e.Refundable() {
				outstanding++
			}
		}
		if outstanding > 0 {
			return fmt.Sprintf("%s with %d payment(s) not refunded", o.PaymentStatus, outstanding), false, nil
		}

		o.PaymentStatus = model.PaymentStatusRefunded
		return "", true, nil
	})
}

// transition applies mutate under the version guard. mutate reports the
// offending state and false when the action is not allowed.
func (s *orderServiceImpl) transition(
	ctx context.Context,
	orderID, action string,
	kind model.OrderEventKind,
	mutate func(*gorm.DB, *model.Order) (string, bool, error),
) (*model.Order, error) {
	var order *model.Order
	err := retryOnStale(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			order, err = s.find(ctx, tx, orderID)
			if err != nil {
				return err
			}

			from, ok, err := mutate(tx, order)
			if err != nil {
				return err
			}
			if !ok {
				return &apperr.InvalidTransitionError{Entity: "order", ID: orderID, From: from, Action: action}
			}
			return s.orderRepo.Update(ctx, tx, order)
		})
	})
	if err != nil {
		return nil, err
	}

	s.Emit(ctx, &OrderEvent{Order: order, Kind: kind})
	return order, nil
}

func (s *orderServiceImpl) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return s.find(ctx, nil, orderID)
}

func (s *orderServiceImpl) ListForUser(ctx context.Context, userID string) ([]*model.Order, error) {
	orders, err := s.orderRepo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *orderServiceImpl) find(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, tx, orderID)
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *orderServiceImpl) Emit(ctx context.Context, events ...*OrderEvent) {
	for _, ev := range events {
		if ev == nil {
			continue
		}
		err := s.notifier.Notify(ctx, ev.Order.UserID, ev.Order, ev.Kind)
		if err != nil {
			s.logger.Warn("notify customer",
				zap.String("order_id", ev.Order.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
}
