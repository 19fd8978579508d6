package repository

import (
	"context"

	"freshness-orders/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductFilter is required on every catalog read so callers decide
// explicitly whether retired products are visible.
type ProductFilter int

const (
	ActiveOnly ProductFilter = iota
	IncludeInactive
)

type ProductRepository interface {
	Seed(ctx context.Context) error
	FindByID(ctx context.Context, tx *gorm.DB, productID string, filter ProductFilter) (*model.Product, error)
	FindMany(ctx context.Context, tx *gorm.DB, productIDs []string, filter ProductFilter) ([]*model.Product, error)
	ListByCategory(ctx context.Context, category string, filter ProductFilter) ([]*model.Product, error)
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

func (r *productRepoImpl) Seed(ctx context.Context) error {
	products := []model.Product{
		{ID: "meal_green_bowl", Name: "Green Goddess Bowl", Category: "meals", Price: decimal.RequireFromString("11.50"), Currency: "EUR", IsActive: true},
		{ID: "meal_lentil_curry", Name: "Red Lentil Curry", Category: "meals", Price: decimal.RequireFromString("12.90"), Currency: "EUR", IsActive: true},
		{ID: "bakery_sourdough", Name: "Sourdough Loaf", Category: "bakery", Price: decimal.RequireFromString("6.00"), Currency: "EUR", IsActive: true},
		{ID: "bev_cold_press", Name: "Cold Pressed Juice", Category: "beverages", Price: decimal.RequireFromString("4.75"), Currency: "EUR", IsActive: true},
		{ID: "meal_winter_stew", Name: "Winter Root Stew", Category: "meals", Price: decimal.RequireFromString("13.20"), Currency: "EUR", IsActive: false},
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error
}

func (r *productRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, productID string, filter ProductFilter) (*model.Product, error) {
	var product model.Product
	err := scopeFilter(conn(ctx, r.db, tx), filter).
		Where("id = ?", productID).
		First(&product).Error

	if err != nil {
		return nil, err
	}

	return &product, nil
}

func (r *productRepoImpl) FindMany(ctx context.Context, tx *gorm.DB, productIDs []string, filter ProductFilter) ([]*model.Product, error) {
	var products []*model.Product
	err := scopeFilter(conn(ctx, r.db, tx), filter).
		Where("id IN ?", productIDs).
		Find(&products).
		Error

	if err != nil {
		return nil, err
	}

	return products, nil
}

func (r *productRepoImpl) ListByCategory(ctx context.Context, category string, filter ProductFilter) ([]*model.Product, error) {
	var products []*model.Product
	err := scopeFilter(r.db.WithContext(ctx), filter).
		Where("category = ?", category).
		Order("id").
		Find(&products).
		Error

	if err != nil {
		return nil, err
	}

	return products, nil
}

func scopeFilter(db *gorm.DB, filter ProductFilter) *gorm.DB {
	if filter == ActiveOnly {
		return db.Where("is_active = ?", true)
	}
	return db
}
