package repository

import (
	"context"
	"time"

	"freshness-orders/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerRepository interface {
	Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error
	// CreateIfAbsent inserts entry unless (provider, provider_reference) is
	// already taken. It reports whether the row was written.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (bool, error)
	FindByID(ctx context.Context, tx *gorm.DB, entryID string) (*model.LedgerEntry, error)
	FindByReference(ctx context.Context, tx *gorm.DB, provider, reference string) (*model.LedgerEntry, error)
	// ListByOrder skips superseded attempts, so the result only holds entries
	// that count toward the order.
	ListByOrder(ctx context.Context, tx *gorm.DB, orderID string, status model.LedgerStatus) ([]*model.LedgerEntry, error)
	AttachReference(ctx context.Context, tx *gorm.DB, entryID, reference string) (bool, error)
	// Finalize moves a pending entry to status. It reports false when the
	// entry was no longer pending, leaving the row untouched.
	Finalize(ctx context.Context, tx *gorm.DB, entryID string, status model.LedgerStatus, reference string, payload datatypes.JSON, at time.Time) (bool, error)
	// ClaimOrder sets the order of an entry recorded without one. amount and
	// currency fill in what the provider left out.
	ClaimOrder(ctx context.Context, tx *gorm.DB, entryID, orderID string, amount decimal.Decimal, currency string) (bool, error)
	// Supersede closes a pending attempt in favour of the entry supersededBy.
	Supersede(ctx context.Context, tx *gorm.DB, entryID string, status model.LedgerStatus, supersededBy string, at time.Time) (bool, error)
	// RecordRefund marks a succeeded entry as paid back. It reports false when
	// the entry was already refunded or never succeeded.
	RecordRefund(ctx context.Context, tx *gorm.DB, entryID, reference string, at time.Time) (bool, error)
}

type ledgerRepoImpl struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepoImpl{
		db: db,
	}
}

func (r *ledgerRepoImpl) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	return conn(ctx, r.db, tx).Create(entry).Error
}

func (r *ledgerRepoImpl) CreateIfAbsent(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (bool, error) {
	result := conn(ctx, r.db, tx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ledgerRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, entryID string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := conn(ctx, r.db, tx).
		Where("id = ?", entryID).
		First(&entry).Error

	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (r *ledgerRepoImpl) FindByReference(ctx context.Context, tx *gorm.DB, provider, reference string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := conn(ctx, r.db, tx).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		First(&entry).Error

	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (r *ledgerRepoImpl) ListByOrder(ctx context.Context, tx *gorm.DB, orderID string, status model.LedgerStatus) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := conn(ctx, r.db, tx).
		Where("order_id = ? AND status = ? AND superseded_by IS NULL", orderID, status).
		Order("initiated_at").
		Find(&entries).Error

	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *ledgerRepoImpl) AttachReference(ctx context.Context, tx *gorm.DB, entryID, reference string) (bool, error) {
	result := conn(ctx, r.db, tx).Model(&model.LedgerEntry{}).
		Where("id = ? AND status = ? AND provider_reference IS NULL", entryID, model.LedgerPending).
		Updates(map[string]interface{}{
			"provider_reference": reference,
			"updated_at":         time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ledgerRepoImpl) Finalize(ctx context.Context, tx *gorm.DB, entryID string, status model.LedgerStatus, reference string, payload datatypes.JSON, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":       status,
		"finalized_at": at,
		"updated_at":   time.Now(),
	}
	if reference != "" {
		// keep a reference recorded earlier
		updates["provider_reference"] = gorm.Expr("COALESCE(provider_reference, ?)", reference)
	}
	if len(payload) > 0 {
		updates["payload"] = payload
	}

	result := conn(ctx, r.db, tx).Model(&model.LedgerEntry{}).
		Where("id = ? AND status = ?", entryID, model.LedgerPending).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ledgerRepoImpl) ClaimOrder(ctx context.Context, tx *gorm.DB, entryID, orderID string, amount decimal.Decimal, currency string) (bool, error) {
	result := conn(ctx, r.db, tx).Model(&model.LedgerEntry{}).
		Where("id = ? AND (order_id = '' OR order_id IS NULL)", entryID).
		Updates(map[string]interface{}{
			"order_id":   orderID,
			"amount":     gorm.Expr("CASE WHEN amount = 0 THEN ? ELSE amount END", amount),
			"currency":   gorm.Expr("CASE WHEN currency = '' THEN ? ELSE currency END", currency),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ledgerRepoImpl) Supersede(ctx context.Context, tx *gorm.DB, entryID string, status model.LedgerStatus, supersededBy string, at time.Time) (bool, error) {
	result := conn(ctx, r.db, tx).Model(&model.LedgerEntry{}).
		Where("id = ? AND status = ?", entryID, model.LedgerPending).
		Updates(map[string]interface{}{
			"status":        status,
			"superseded_by": supersededBy,
			"finalized_at":  at,
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ledgerRepoImpl) RecordRefund(ctx context.Context, tx *gorm.DB, entryID, reference string, at time.Time) (bool, error) {
	result := conn(ctx, r.db, tx).Model(&model.LedgerEntry{}).
		Where("id = ? AND status = ? AND refunded_at IS NULL", entryID, model.LedgerSucceeded).
		Updates(map[string]interface{}{
			"refunded_at":      at,
			"refund_reference": reference,
			"updated_at":       time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
