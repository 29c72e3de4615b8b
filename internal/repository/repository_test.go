// internal/repository/repository_test.go
package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

func seed(t *testing.T, repo DeviceRepository) {
	t.Helper()
	ctx := context.Background()
	for _, d := range []*model.Device{
		{DeviceID: "coin-1", Family: model.FamilyAzkoyen, Lifecycle: model.LifecycleDisconnected},
		{DeviceID: "bill-1", Family: model.FamilyNV10, Lifecycle: model.LifecycleReading},
		{DeviceID: "card-1", Family: model.FamilyDispenser, Lifecycle: model.LifecycleFaulted},
	} {
		require.NoError(t, repo.Create(ctx, d))
	}
}

func TestDeviceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviceRepository(zap.NewNop())
	seed(t, repo)

	t.Run("duplicate", func(t *testing.T) {
		assert.Error(t, repo.Create(ctx, &model.Device{DeviceID: "coin-1"}))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByDeviceID(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.UpdateLastResult(ctx, "nope", 200, ""), ErrNotFound)
	})

	t.Run("copies are returned", func(t *testing.T) {
		d, err := repo.GetByDeviceID(ctx, "coin-1")
		require.NoError(t, err)
		d.State = "mutated"

		again, err := repo.GetByDeviceID(ctx, "coin-1")
		require.NoError(t, err)
		assert.Empty(t, again.State)
	})

	t.Run("lifecycle", func(t *testing.T) {
		require.NoError(t, repo.UpdateLifecycle(ctx, "coin-1", model.LifecycleReady, "CHECK"))
		d, err := repo.GetByDeviceID(ctx, "coin-1")
		require.NoError(t, err)
		assert.Equal(t, model.LifecycleReady, d.Lifecycle)
		assert.Equal(t, "CHECK", d.State)
		assert.NotNil(t, d.LastSeen)
	})

	t.Run("list filters", func(t *testing.T) {
		family := model.FamilyNV10
		list, total, err := repo.List(ctx, &DeviceFilter{Family: &family})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "bill-1", list[0].DeviceID)

		list, total, err = repo.List(ctx, &DeviceFilter{Page: 2, PerPage: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, list, 1)
		assert.Equal(t, "coin-1", list[0].DeviceID)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := repo.GetDeviceStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalDevices)
		assert.Equal(t, 2, stats.OnlineDevices)
		assert.Equal(t, 1, stats.FaultedDevices)
	})
}

func TestCommandRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCommandRepository(3, zap.NewNop())
	base := time.Now().Add(-time.Hour)

	for i, code := range []int{200, 201, 503, 202} {
		require.NoError(t, repo.Record(ctx, &model.CommandRecord{
			DeviceID:   "coin-1",
			Command:    model.CommandGetCoin,
			StatusCode: code,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			DurationMs: 10,
		}))
	}

	list, err := repo.ListByDevice(ctx, "coin-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 202, list[0].StatusCode)
	assert.Equal(t, 201, list[2].StatusCode)

	stats, err := repo.GetCommandStats(ctx, "coin-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 10*time.Millisecond, stats.AvgDuration)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(150*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	empty, err := repo.GetCommandStats(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Equal(t, 1.0, empty.SuccessRate)
}
