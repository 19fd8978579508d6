package model

import (
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionCompleted SubscriptionStatus = "completed"
)

const DeliveryOutcomeOrderCreated = "order_created"

type Subscription struct {
	ID                  string             `gorm:"primaryKey;size:36;not null"`
	UserID              string             `gorm:"size:64;index;not null"`
	ProductID           string             `gorm:"size:64;not null"`
	Quantity            int32              `gorm:"not null"`
	Frequency           Frequency          `gorm:"size:16;not null"`
	DeliveryDays        []string           `gorm:"serializer:json"`
	NextDeliveryDate    time.Time          `gorm:"index;not null"` // UTC midnight
	RemainingDeliveries *int               // nil means unbounded
	Status              SubscriptionStatus `gorm:"size:16;index;not null"`
	PaymentMethod       string             `gorm:"size:32"`
	Currency            string             `gorm:"size:8;not null"`
	History             []DeliveryRecord   `gorm:"foreignKey:SubscriptionID"`

	Version   int `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DeliveryRecord struct {
	ID             uint      `gorm:"primaryKey"`
	SubscriptionID string    `gorm:"size:36;not null;uniqueIndex:idx_delivery_sub_date"`
	DeliveryDate   time.Time `gorm:"not null;uniqueIndex:idx_delivery_sub_date"`
	OrderID        string    `gorm:"size:36;not null"`
	Outcome        string    `gorm:"size:32;not null"`

	CreatedAt time.Time
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts English weekday names in any case.
func ParseWeekday(name string) (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// DeliversOn reports whether d is one of the subscription's delivery days.
// Daily subscriptions deliver every day.
func (s *Subscription) DeliversOn(d time.Weekday) bool {
	if s.Frequency == FrequencyDaily {
		return true
	}
	for _, name := range s.DeliveryDays {
		if wd, ok := ParseWeekday(name); ok && wd == d {
			return true
		}
	}
	return false
}
