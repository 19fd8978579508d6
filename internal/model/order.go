package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusPartial  PaymentStatus = "partial"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type DeliveryType string

const (
	DeliveryOneTime DeliveryType = "one-time"
	DeliveryDaily   DeliveryType = "daily"
	DeliveryWeekly  DeliveryType = "weekly"
)

func (t DeliveryType) Valid() bool {
	switch t {
	case DeliveryOneTime, DeliveryDaily, DeliveryWeekly:
		return true
	}
	return false
}

// OrderEventKind names a lifecycle transition pushed to the customer notifier.
type OrderEventKind string

const (
	EventOrderCreated       OrderEventKind = "order.created"
	EventOrderPaid          OrderEventKind = "order.paid"
	EventOrderPartiallyPaid OrderEventKind = "order.partially_paid"
	EventOrderPaymentFailed OrderEventKind = "order.payment_failed"
	EventOrderDelivered     OrderEventKind = "order.delivered"
	EventOrderCancelled     OrderEventKind = "order.cancelled"
	EventOrderRefunded      OrderEventKind = "order.refunded"
)

type DeliverySchedule struct {
	StartDate time.Time `json:"start_date"`
	Days      []string  `json:"days,omitempty"`
}

type Order struct {
	ID               string            `gorm:"primaryKey;size:36;not null"`
	UserID           string            `gorm:"size:64;index;not null"`
	Items            []OrderItem       `gorm:"foreignKey:OrderID"`
	TotalPrice       decimal.Decimal   `gorm:"type:decimal(12,2);not null"` // snapshot at creation, never recomputed
	Currency         string            `gorm:"size:8;not null"`
	Status           OrderStatus       `gorm:"size:32;index;not null"`
	PaymentStatus    PaymentStatus     `gorm:"size:32;index;not null"`
	DeliveryType     DeliveryType      `gorm:"size:16;not null"`
	SubscriptionID   *string           `gorm:"size:36;index"`
	DeliverySchedule *DeliverySchedule `gorm:"serializer:json"`

	LastPaymentFailure string `gorm:"size:255"`
	LastFailedEntryID  string `gorm:"size:36"`

	Version   int `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID             uint              `gorm:"primaryKey"`
	OrderID        string            `gorm:"size:36;index;not null"`
	ProductID      string            `gorm:"size:64;index;not null"`
	Quantity       int32             `gorm:"not null"`
	UnitPrice      decimal.Decimal   `gorm:"type:decimal(12,2);not null"`
	Customizations map[string]string `gorm:"serializer:json"`

	CreatedAt time.Time
}

// NewOrder builds a pending, unpaid order and fixes TotalPrice as the sum of
// unitPrice * quantity over items.
func NewOrder(id, userID, currency string, deliveryType DeliveryType, items []OrderItem) *Order {
	total := decimal.Zero
	for i := range items {
		items[i].OrderID = id
		total = total.Add(items[i].UnitPrice.Mul(decimal.NewFromInt32(items[i].Quantity)))
	}

	return &Order{
		ID:            id,
		UserID:        userID,
		Items:         items,
		TotalPrice:    total,
		Currency:      currency,
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusUnpaid,
		DeliveryType:  deliveryType,
		Version:       1,
	}
}
