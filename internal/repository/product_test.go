package repository_test

import (
	"context"
	"testing"

	"freshness-orders/internal/repository"
	"freshness-orders/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductFilter(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewProductRepository(testutil.NewSeededDB(t))

	_, err := repo.FindByID(ctx, nil, "meal_winter_stew", repository.ActiveOnly)
	assert.True(t, repository.IsNotFound(err))

	p, err := repo.FindByID(ctx, nil, "meal_winter_stew", repository.IncludeInactive)
	require.NoError(t, err)
	assert.False(t, p.IsActive)

	meals, err := repo.ListByCategory(ctx, "meals", repository.ActiveOnly)
	require.NoError(t, err)
	require.Len(t, meals, 2)
	assert.Equal(t, "meal_green_bowl", meals[0].ID)

	// seeding twice is harmless
	require.NoError(t, repo.Seed(ctx))
}
