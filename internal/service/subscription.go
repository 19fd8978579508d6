package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/clock"
	"freshness-orders/internal/model"
	"freshness-orders/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotDue is returned by ProcessCycle for a subscription that has nothing
// to deliver on the requested day.
var ErrNotDue = errors.New("subscription is not due")

type CreateSubscriptionInput struct {
	UserID              string
	ProductID           string
	Quantity            int32
	Frequency           model.Frequency
	DeliveryDays        []string
	StartDate           *time.Time
	RemainingDeliveries *int
	PaymentMethod       string
	Currency            string
}

type CycleReport struct {
	AsOf      time.Time `json:"as_of"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	OrderIDs  []string  `json:"order_ids"`
}

type SubscriptionService interface {
	Create(ctx context.Context, in CreateSubscriptionInput) (*model.Subscription, error)
	Get(ctx context.Context, subscriptionID string) (*model.Subscription, error)
	Pause(ctx context.Context, subscriptionID string) (*model.Subscription, error)
	Resume(ctx context.Context, subscriptionID string) (*model.Subscription, error)
	Cancel(ctx context.Context, subscriptionID string) (*model.Subscription, error)

	// DueSubscriptions lazily yields subscriptions due on asOf's UTC day.
	// Each range over the sequence re-queries storage.
	DueSubscriptions(ctx context.Context, asOf time.Time) iter.Seq2[*model.Subscription, error]
	// ProcessCycle creates the order for one due cycle. Calling it again for
	// the same day returns the order created the first time.
	ProcessCycle(ctx context.Context, sub *model.Subscription, asOf time.Time) (*model.Order, error)
	RunDue(ctx context.Context, asOf time.Time) (*CycleReport, error)
}

type subscriptionServiceImpl struct {
	db          *gorm.DB
	subRepo     repository.SubscriptionRepository
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	orders      OrderService
	clock       clock.Clock
	batchSize   int
	currency    string
	logger      *zap.Logger
}

func NewSubscriptionService(
	db *gorm.DB,
	subRepo repository.SubscriptionRepository,
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	orders OrderService,
	clk clock.Clock,
	batchSize int,
	currency string,
	logger *zap.Logger,
) SubscriptionService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &subscriptionServiceImpl{
		db:          db,
		subRepo:     subRepo,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		orders:      orders,
		clock:       clk,
		batchSize:   batchSize,
		currency:    currency,
		logger:      logger,
	}
}

func (s *subscriptionServiceImpl) Create(ctx context.Context, in CreateSubscriptionInput) (*model.Subscription, error) {
	if in.UserID == "" {
		return nil, apperr.Validation("user_id", "is required")
	}
	quantity := in.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, apperr.Validation("quantity", "must be positive")
	}
	if in.RemainingDeliveries != nil && *in.RemainingDeliveries <= 0 {
		return nil, apperr.Validation("remaining_deliveries", "must be positive when set")
	}

	var days []string
	switch in.Frequency {
	case model.FrequencyDaily:
	case model.FrequencyWeekly:
		if len(in.DeliveryDays) == 0 {
			return nil, apperr.Validation("delivery_days", "weekly plans need at least one day")
		}
		seen := map[time.Weekday]bool{}
		for _, name := range in.DeliveryDays {
			wd, ok := model.ParseWeekday(name)
			if !ok {
				return nil, apperr.Validation("delivery_days", "unknown weekday %q", name)
			}
			if !seen[wd] {
				seen[wd] = true
				days = append(days, strings.ToLower(wd.String()))
			}
		}
	default:
		return nil, apperr.Validation("frequency", "unknown value %q", in.Frequency)
	}

	product, err := s.productRepo.FindByID(ctx, nil, in.ProductID, repository.ActiveOnly)
	if repository.IsNotFound(err) {
		return nil, apperr.Validation("product_id", "unknown or unavailable product %s", in.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	currency := in.Currency
	if currency == "" {
		currency = s.currency
	}

	today := clock.Day(s.clock.Now())
	start := today
	if in.StartDate != nil {
		start = clock.Day(*in.StartDate)
		if start.Before(today) {
			return nil, apperr.Validation("start_date", "must not be in the past")
		}
	}

	sub := &model.Subscription{
		ID:                  uuid.NewString(),
		UserID:              in.UserID,
		ProductID:           product.ID,
		Quantity:            quantity,
		Frequency:           in.Frequency,
		DeliveryDays:        days,
		RemainingDeliveries: in.RemainingDeliveries,
		Status:              model.SubscriptionActive,
		PaymentMethod:       in.PaymentMethod,
		Currency:            currency,
		Version:             1,
	}
	sub.NextDeliveryDate = firstDeliveryDate(sub, start)

	if err := s.subRepo.Create(ctx, nil, sub); err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}
	return sub, nil
}

func (s *subscriptionServiceImpl) Get(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	return s.find(ctx, nil, subscriptionID)
}

func (s *subscriptionServiceImpl) Pause(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	return s.transition(ctx, subscriptionID, "pause", func(sub *model.Subscription) bool {
		if sub.Status != model.SubscriptionActive {
			return false
		}
		sub.Status = model.SubscriptionPaused
		return true
	})
}

// Resume reactivates a paused plan. Days missed while paused are not
// delivered, the next date moves forward to today at the earliest.
func (s *subscriptionServiceImpl) Resume(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	today := clock.Day(s.clock.Now())
	return s.transition(ctx, subscriptionID, "resume", func(sub *model.Subscription) bool {
		if sub.Status != model.SubscriptionPaused {
			return false
		}
		sub.Status = model.SubscriptionActive
		if sub.NextDeliveryDate.Before(today) {
			sub.NextDeliveryDate = firstDeliveryDate(sub, today)
		}
		return true
	})
}

func (s *subscriptionServiceImpl) Cancel(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	return s.transition(ctx, subscriptionID, "cancel", func(sub *model.Subscription) bool {
		if sub.Status != model.SubscriptionActive && sub.Status != model.SubscriptionPaused {
			return false
		}
		sub.Status = model.SubscriptionCancelled
		return true
	})
}

func (s *subscriptionServiceImpl) transition(ctx context.Context, subscriptionID, action string, mutate func(*model.Subscription) bool) (*model.Subscription, error) {
	var sub *model.Subscription
	err := retryOnStale(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			sub, err = s.find(ctx, tx, subscriptionID)
			if err != nil {
				return err
			}

			readNext := sub.NextDeliveryDate
			from := sub.Status
			if !mutate(sub) {
				return &apperr.InvalidTransitionError{Entity: "subscription", ID: subscriptionID, From: string(from), Action: action}
			}
			return s.subRepo.Update(ctx, tx, sub, readNext)
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionServiceImpl) DueSubscriptions(ctx context.Context, asOf time.Time) iter.Seq2[*model.Subscription, error] {
	day := clock.Day(asOf)

	return func(yield func(*model.Subscription, error) bool) {
		after := ""
		for {
			batch, err := s.subRepo.ListDueBatch(ctx, day, after, s.batchSize)
			if err != nil {
				yield(nil, fmt.Errorf("list due subscriptions: %w", err))
				return
			}

			for _, sub := range batch {
				after = sub.ID
				if !isDue(sub, day) {
					continue
				}
				if !yield(sub, nil) {
					return
				}
			}

			if len(batch) < s.batchSize {
				return
			}
		}
	}
}

func (s *subscriptionServiceImpl) ProcessCycle(ctx context.Context, sub *model.Subscription, asOf time.Time) (*model.Order, error) {
	day := clock.Day(asOf)

	var (
		order *model.Order
		event *OrderEvent
	)
	err := retryOnStale(ctx, func() error {
		event = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			order, event, err = s.processCycleTx(ctx, tx, sub.ID, day)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.orders.Emit(ctx, event)
	return order, nil
}

// processCycleTx re-reads the subscription inside the transaction so the
// dueness check, the order, the history record and the schedule advance all
// commit together or not at all.
func (s *subscriptionServiceImpl) processCycleTx(ctx context.Context, tx *gorm.DB, subscriptionID string, day time.Time) (*model.Order, *OrderEvent, error) {
	current, err := s.find(ctx, tx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}

	record, err := s.subRepo.FindDelivery(ctx, tx, subscriptionID, day)
	switch {
	case err == nil:
		order, err := s.orderRepo.FindByID(ctx, tx, record.OrderID)
		if err != nil {
			return nil, nil, fmt.Errorf("get delivered order: %w", err)
		}
		return order, nil, nil
	case !repository.IsNotFound(err):
		return nil, nil, fmt.Errorf("get delivery record: %w", err)
	}

	if !isDue(current, day) {
		return nil, nil, ErrNotDue
	}

	order, event, err := s.orders.CreateOrderTx(ctx, tx, CreateOrderInput{
		UserID: current.UserID,
		Items: []OrderItemInput{{
			ProductID: current.ProductID,
			Quantity:  current.Quantity,
		}},
		DeliveryType: model.DeliveryType(current.Frequency),
		DeliverySchedule: &model.DeliverySchedule{
			StartDate: day,
			Days:      current.DeliveryDays,
		},
		SubscriptionID: &current.ID,
		Currency:       current.Currency,
	})
	if err != nil {
		return nil, nil, err
	}

	err = s.subRepo.AppendDelivery(ctx, tx, &model.DeliveryRecord{
		SubscriptionID: current.ID,
		DeliveryDate:   day,
		OrderID:        order.ID,
		Outcome:        model.DeliveryOutcomeOrderCreated,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("append delivery record: %w", err)
	}

	readNext := current.NextDeliveryDate
	current.NextDeliveryDate = nextDeliveryDate(current, day)
	if current.RemainingDeliveries != nil {
		remaining := *current.RemainingDeliveries - 1
		current.RemainingDeliveries = &remaining
		if remaining <= 0 {
			current.Status = model.SubscriptionCompleted
		}
	}

	if err := s.subRepo.Update(ctx, tx, current, readNext); err != nil {
		return nil, nil, err
	}
	return order, event, nil
}

func (s *subscriptionServiceImpl) RunDue(ctx context.Context, asOf time.Time) (*CycleReport, error) {
	report := &CycleReport{AsOf: clock.Day(asOf)}

	for sub, err := range s.DueSubscriptions(ctx, asOf) {
		if err != nil {
			return report, err
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		order, err := s.ProcessCycle(ctx, sub, asOf)
		switch {
		case errors.Is(err, ErrNotDue):
			report.Skipped++
		case err != nil:
			report.Failed++
			s.logger.Error("process subscription cycle",
				zap.String("subscription_id", sub.ID),
				zap.Time("as_of", report.AsOf),
				zap.Error(err),
			)
		default:
			report.Processed++
			report.OrderIDs = append(report.OrderIDs, order.ID)
		}
	}

	return report, nil
}

func (s *subscriptionServiceImpl) find(ctx context.Context, tx *gorm.DB, subscriptionID string) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByID(ctx, tx, subscriptionID)
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound("subscription", subscriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}
