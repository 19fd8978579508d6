package service

import (
	"context"
	"fmt"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/model"
	"freshness-orders/internal/repository"
)

type CatalogService interface {
	// GetProduct returns an orderable product. Retired products are reported
	// as not found.
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	// ListProducts returns the orderable products of a category.
	ListProducts(ctx context.Context, category string) ([]*model.Product, error)
}

type catalogServiceImpl struct {
	productRepo repository.ProductRepository
}

func NewCatalogService(
	productRepo repository.ProductRepository,
) CatalogService {
	return &catalogServiceImpl{
		productRepo: productRepo,
	}
}

func (s *catalogServiceImpl) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	product, err := s.productRepo.FindByID(ctx, nil, productID, repository.ActiveOnly)
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound("product", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func (s *catalogServiceImpl) ListProducts(ctx context.Context, category string) ([]*model.Product, error) {
	if category == "" {
		return nil, apperr.Validation("category", "is required")
	}

	products, err := s.productRepo.ListByCategory(ctx, category, repository.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}
