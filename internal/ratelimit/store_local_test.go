package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalQuotaStoreCounters(t *testing.T) {
	ctx := context.Background()
	store := NewLocalQuotaStore(time.Minute)
	defer store.Close()

	t.Run("increment creates at one and counts up", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := store.IncrementWithExpiry(ctx, "counter", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		count, err := store.GetCount(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("missing counter reads as zero", func(t *testing.T) {
		count, err := store.GetCount(ctx, "absent")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("an expired counter restarts at one", func(t *testing.T) {
		_, err := store.IncrementWithExpiry(ctx, "short", 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		got, err := store.IncrementWithExpiry(ctx, "short", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})
}

func TestLocalQuotaStoreSortedSet(t *testing.T) {
	ctx := context.Background()
	store := NewLocalQuotaStore(time.Minute)
	defer store.Close()

	base := time.Unix(1_000_000, 0)

	t.Run("prune drops members strictly older than the cutoff", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			at := base.Add(time.Duration(i) * time.Second)
			_, err := store.PruneCount(ctx, "events", at.Add(-time.Minute), at, windowMember(at), time.Minute)
			require.NoError(t, err)
		}

		// Cutoff exactly on the second member's timestamp: the first member
		// goes, the second stays.
		at := base.Add(3 * time.Second)
		count, err := store.PruneCount(ctx, "events", base.Add(time.Second), at, windowMember(at), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("count in window does not insert", func(t *testing.T) {
		at := base.Add(time.Second)
		_, err := store.PruneCount(ctx, "readonly", at.Add(-time.Minute), at, windowMember(at), time.Minute)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			count, err := store.CountInWindow(ctx, "readonly", base)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		}
	})

	t.Run("count on a missing set is zero", func(t *testing.T) {
		count, err := store.CountInWindow(ctx, "absent", base)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestLocalQuotaStoreBuckets(t *testing.T) {
	ctx := context.Background()
	store := NewLocalQuotaStore(time.Minute)
	defer store.Close()

	_, found, err := store.GetBucket(ctx, "bucket")
	require.NoError(t, err)
	assert.False(t, found)

	in := &BucketState{Tokens: 2.5, LastRefill: 1_000_000_000}
	require.NoError(t, store.SetBucket(ctx, "bucket", in, time.Minute))

	out, found, err := store.GetBucket(ctx, "bucket")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in.Tokens, out.Tokens)
	assert.Equal(t, in.LastRefill, out.LastRefill)

	require.NoError(t, store.Delete(ctx, "bucket"))

	_, found, err = store.GetBucket(ctx, "bucket")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocalQuotaStorePing(t *testing.T) {
	store := NewLocalQuotaStore(time.Minute)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}
