package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilnstudio/internal/database/dbtest"
	"kilnstudio/internal/repository"
)

func TestService_CreateListDeactivate(t *testing.T) {
	svc := NewService(repository.NewResourceRepository(dbtest.Open(t)))
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, CreateRequest{Name: "  ", Quantity: 2})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Create(ctx, 1, CreateRequest{Name: "Wheel", Quantity: 0})
	assert.ErrorIs(t, err, ErrValidation)

	wheel, err := svc.Create(ctx, 1, CreateRequest{Name: "Wheel", Quantity: 6})
	require.NoError(t, err)
	assert.True(t, wheel.IsActive)
	_, err = svc.Create(ctx, 2, CreateRequest{Name: "Kiln", Quantity: 1})
	require.NoError(t, err)

	list, err := svc.List(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Wheel", list[0].Name)

	got, err := svc.Deactivate(ctx, 1, wheel.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	list, err = svc.List(ctx, 1, true)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Deactivate(ctx, 2, wheel.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
