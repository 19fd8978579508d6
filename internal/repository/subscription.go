package repository

import (
	"context"
	"time"

	"freshness-orders/internal/model"

	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error
	FindByID(ctx context.Context, tx *gorm.DB, subscriptionID string) (*model.Subscription, error)
	// ListDueBatch returns active subscriptions whose next delivery date is on
	// or before asOf, ordered by id and starting after afterID.
	ListDueBatch(ctx context.Context, asOf time.Time, afterID string, limit int) ([]*model.Subscription, error)
	FindDelivery(ctx context.Context, tx *gorm.DB, subscriptionID string, day time.Time) (*model.DeliveryRecord, error)
	AppendDelivery(ctx context.Context, tx *gorm.DB, record *model.DeliveryRecord) error
	// Update writes the schedule fields guarded by version and the next
	// delivery date the caller read.
	Update(ctx context.Context, tx *gorm.DB, sub *model.Subscription, readNext time.Time) error
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	return conn(ctx, r.db, tx).Create(sub).Error
}

func (r *subscriptionRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, subscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := conn(ctx, r.db, tx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("delivery_date")
		}).
		Where("id = ?", subscriptionID).
		First(&sub).
		Error

	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *subscriptionRepoImpl) ListDueBatch(ctx context.Context, asOf time.Time, afterID string, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_delivery_date <= ? AND id > ?", model.SubscriptionActive, asOf, afterID).
		Order("id").
		Limit(limit).
		Find(&subs).
		Error

	if err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *subscriptionRepoImpl) FindDelivery(ctx context.Context, tx *gorm.DB, subscriptionID string, day time.Time) (*model.DeliveryRecord, error) {
	var record model.DeliveryRecord
	err := conn(ctx, r.db, tx).
		Where("subscription_id = ? AND delivery_date = ?", subscriptionID, day).
		First(&record).
		Error

	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (r *subscriptionRepoImpl) AppendDelivery(ctx context.Context, tx *gorm.DB, record *model.DeliveryRecord) error {
	return conn(ctx, r.db, tx).Create(record).Error
}

func (r *subscriptionRepoImpl) Update(ctx context.Context, tx *gorm.DB, sub *model.Subscription, readNext time.Time) error {
	result := conn(ctx, r.db, tx).
		Model(&model.Subscription{}).
		Where("id = ? AND version = ? AND next_delivery_date = ?", sub.ID, sub.Version, readNext).
		Updates(map[string]interface{}{
			"status":               sub.Status,
			"next_delivery_date":   sub.NextDeliveryDate,
			"remaining_deliveries": sub.RemainingDeliveries,
			"version":              sub.Version + 1,
			"updated_at":           time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleVersion
	}

	sub.Version++
	return nil
}
