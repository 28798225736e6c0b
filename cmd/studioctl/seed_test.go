package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilnstudio/internal/database/dbtest"
	"kilnstudio/internal/domain"
)

func TestSeed(t *testing.T) {
	db := dbtest.Open(t)
	today := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, seed(db, 5, today, 3))

	var sessions []domain.Session
	require.NoError(t, db.Where("tenant_id = ?", 5).Order("id").Find(&sessions).Error)
	require.Len(t, sessions, 6)
	assert.True(t, sessions[0].IsOpenStudio())
	assert.Equal(t, "2025-03-01", sessions[0].Date)
	assert.False(t, sessions[3].IsOpenStudio())
	assert.NotNil(t, sessions[3].StepID)

	var steps int64
	require.NoError(t, db.Model(&domain.ClassStep{}).Where("tenant_id = ?", 5).Count(&steps).Error)
	assert.Equal(t, int64(3), steps)

	assert.Error(t, seed(db, 5, today, 3), "seeding twice is refused")
	assert.NoError(t, seed(db, 6, today, 1))
}
