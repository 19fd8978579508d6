package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Product struct {
	ID       string          `gorm:"primaryKey;size:64;not null"` // product sku
	Name     string          `gorm:"size:128;not null"`
	Category string          `gorm:"size:32;index"` // meals, bakery, beverages
	Price    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency string          `gorm:"size:8;not null"`
	IsActive bool            `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type WebhookEvent struct {
	Provider    string `gorm:"primaryKey;size:32;not null"`
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	Payload     datatypes.JSON
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// SchedulerLease is a row-level lock shared by every process running the
// delivery scheduler.
type SchedulerLease struct {
	Name      string    `gorm:"primaryKey;size:64;not null"`
	Holder    string    `gorm:"size:128;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}
