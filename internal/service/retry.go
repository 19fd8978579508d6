package service

import (
	"context"
	"errors"

	"freshness-orders/internal/repository"

	"gorm.io/gorm"
)

const maxAttempts = 3

// retryOnStale re-runs fn when a versioned write lost a race or a unique
// index rejected a concurrent insert. fn must open its own transaction so
// every attempt starts from a fresh read.
func retryOnStale(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, repository.ErrStaleVersion) && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
