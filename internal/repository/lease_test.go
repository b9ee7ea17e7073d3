package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-sync/testing/suite"
)

const leaseTTL = 5 * time.Second

func TestModelLeaseRepository_Acquire(t *testing.T) {
	t.Run("First instance wins", func(t *testing.T) {
		ctx, st := suite.New(t)

		leaseRepo := NewModelLeaseRepository(st.Storage)

		// When: two instances race for the same session
		first, err := leaseRepo.Acquire(ctx, "table", "node-a", leaseTTL)
		require.NoError(t, err)
		second, err := leaseRepo.Acquire(ctx, "table", "node-b", leaseTTL)
		require.NoError(t, err)

		// Then: only the first one holds it
		assert.True(t, first)
		assert.False(t, second)

		holder, err := leaseRepo.Holder(ctx, "table")
		require.NoError(t, err)
		assert.Equal(t, "node-a", holder)
	})

	t.Run("Holder can acquire again", func(t *testing.T) {
		ctx, st := suite.New(t)

		leaseRepo := NewModelLeaseRepository(st.Storage)

		_, err := leaseRepo.Acquire(ctx, "table", "node-a", leaseTTL)
		require.NoError(t, err)

		again, err := leaseRepo.Acquire(ctx, "table", "node-a", leaseTTL)

		require.NoError(t, err)
		assert.True(t, again)
	})

	t.Run("Expired lease can be taken over", func(t *testing.T) {
		ctx, st := suite.New(t)

		leaseRepo := NewModelLeaseRepository(st.Storage)

		_, err := leaseRepo.Acquire(ctx, "table", "node-a", 50*time.Millisecond)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			taken, err := leaseRepo.Acquire(ctx, "table", "node-b", leaseTTL)
			return err == nil && taken
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestModelLeaseRepository_RefreshAndRelease(t *testing.T) {
	ctx, st := suite.New(t)

	leaseRepo := NewModelLeaseRepository(st.Storage)

	// Given: node-a holds the lease
	acquired, err := leaseRepo.Acquire(ctx, "table", "node-a", leaseTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	// When: another node tries to refresh or release it
	refreshed, err := leaseRepo.Refresh(ctx, "table", "node-b", leaseTTL)
	require.NoError(t, err)
	require.NoError(t, leaseRepo.Release(ctx, "table", "node-b"))

	// Then: nothing changes
	assert.False(t, refreshed)
	holder, err := leaseRepo.Holder(ctx, "table")
	require.NoError(t, err)
	assert.Equal(t, "node-a", holder)

	// When: the holder refreshes and then releases
	refreshed, err = leaseRepo.Refresh(ctx, "table", "node-a", leaseTTL)
	require.NoError(t, err)
	require.NoError(t, leaseRepo.Release(ctx, "table", "node-a"))

	// Then: the lease is free
	assert.True(t, refreshed)
	holder, err = leaseRepo.Holder(ctx, "table")
	require.NoError(t, err)
	assert.Empty(t, holder)
}
