package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerSucceeded LedgerStatus = "succeeded"
	LedgerFailed    LedgerStatus = "failed"
)

func (s LedgerStatus) Final() bool {
	return s == LedgerSucceeded || s == LedgerFailed
}

// LedgerEntry is one payment attempt. ID doubles as the attempt reference we
// hand to the provider, ProviderReference is whatever the provider returns.
//
// An attempt whose provider confirmation was recorded first under a separate
// out-of-band entry is closed with SupersededBy pointing at that entry, and
// only the out-of-band entry counts toward the order.
type LedgerEntry struct {
	ID                string          `gorm:"primaryKey;size:36;not null"`
	OrderID           string          `gorm:"size:36;index"`
	Provider          string          `gorm:"size:32;not null;uniqueIndex:idx_ledger_provider_ref"`
	ProviderReference *string         `gorm:"size:128;uniqueIndex:idx_ledger_provider_ref"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency          string          `gorm:"size:8;not null"`
	Status            LedgerStatus    `gorm:"size:16;index;not null"`
	InitiatedAt       time.Time       `gorm:"not null"`
	FinalizedAt       *time.Time
	Payload           datatypes.JSON
	SupersededBy      *string `gorm:"size:36"`

	RefundedAt      *time.Time
	RefundReference string `gorm:"size:128"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Refundable reports whether money was collected on the entry and not yet
// returned.
func (e *LedgerEntry) Refundable() bool {
	return e.Status == LedgerSucceeded && e.SupersededBy == nil && e.RefundedAt == nil
}

func (e *LedgerEntry) Reference() string {
	if e.ProviderReference == nil {
		return ""
	}
	return *e.ProviderReference
}

// ReconciliationConflict is kept for manual review when a provider reports an
// outcome contradicting an already finalized entry.
type ReconciliationConflict struct {
	ID                uint         `gorm:"primaryKey"`
	LedgerEntryID     string       `gorm:"size:36;index;not null"`
	Provider          string       `gorm:"size:32;not null;uniqueIndex:idx_conflict_key"`
	ProviderReference string       `gorm:"size:128;not null;uniqueIndex:idx_conflict_key"`
	ExistingStatus    LedgerStatus `gorm:"size:16;not null"`
	AttemptedStatus   LedgerStatus `gorm:"size:16;not null;uniqueIndex:idx_conflict_key"`
	Payload           datatypes.JSON
	DetectedAt        time.Time `gorm:"not null"`
}
