package repository

import (
	"context"
	"time"

	"freshness-orders/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeaseRepository interface {
	// TryAcquire takes the named lease for holder until now+ttl. It succeeds
	// when the lease is free, expired, or already held by holder.
	TryAcquire(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
}

type leaseRepoImpl struct {
	db *gorm.DB
}

func NewLeaseRepository(db *gorm.DB) LeaseRepository {
	return &leaseRepoImpl{db: db}
}

func (r *leaseRepoImpl) TryAcquire(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	expires := now.Add(ttl)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.SchedulerLease{Name: name, Holder: holder, ExpiresAt: expires})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	result = r.db.WithContext(ctx).Model(&model.SchedulerLease{}).
		Where("name = ? AND (expires_at < ? OR holder = ?)", name, now, holder).
		Updates(map[string]interface{}{
			"holder":     holder,
			"expires_at": expires,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *leaseRepoImpl) Release(ctx context.Context, name, holder string) error {
	return r.db.WithContext(ctx).
		Where("name = ? AND holder = ?", name, holder).
		Delete(&model.SchedulerLease{}).Error
}
