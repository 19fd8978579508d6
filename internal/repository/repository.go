package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrStaleVersion is returned by versioned updates when the row changed since
// it was read. Callers re-read and retry.
var ErrStaleVersion = errors.New("stale version")

// conn picks the open transaction when there is one. Repositories must never
// fall back to their own handle while a caller holds a transaction: with
// sqlite's single connection that deadlocks.
func conn(ctx context.Context, db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
