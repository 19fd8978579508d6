package repository

import (
	"context"

	"freshness-orders/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConflictRepository interface {
	Record(ctx context.Context, tx *gorm.DB, conflict *model.ReconciliationConflict) error
	List(ctx context.Context, limit int) ([]*model.ReconciliationConflict, error)
}

type conflictRepoImpl struct {
	db *gorm.DB
}

func NewConflictRepository(db *gorm.DB) ConflictRepository {
	return &conflictRepoImpl{db: db}
}

// Record is idempotent per (provider, reference, attempted outcome) so a
// re-delivered contradicting notification does not pile up review rows.
func (r *conflictRepoImpl) Record(ctx context.Context, tx *gorm.DB, conflict *model.ReconciliationConflict) error {
	return conn(ctx, r.db, tx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(conflict).Error
}

func (r *conflictRepoImpl) List(ctx context.Context, limit int) ([]*model.ReconciliationConflict, error) {
	var conflicts []*model.ReconciliationConflict
	err := r.db.WithContext(ctx).
		Order("detected_at DESC").
		Limit(limit).
		Find(&conflicts).Error

	if err != nil {
		return nil, err
	}

	return conflicts, nil
}
