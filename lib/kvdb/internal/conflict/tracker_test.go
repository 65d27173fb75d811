package conflict

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, horizon *atomic.Uint64) *Tracker {
	t.Helper()
	tr := New(horizon.Load, time.Hour, nil)
	t.Cleanup(tr.Close)
	return tr
}

func TestTracker(t *testing.T) {
	t.Run("ClaimTwiceSameOwner", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		require.True(t, tr.Claim([]byte("a"), 1, 0))
		require.True(t, tr.Claim([]byte("a"), 1, 0))
		assert.Equal(t, 1, tr.Len())
	})

	t.Run("ActiveOwnerBlocksOthers", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		require.True(t, tr.Claim([]byte("a"), 1, 0))
		assert.False(t, tr.Claim([]byte("a"), 2, 0))
		assert.True(t, tr.Claim([]byte("b"), 2, 0))
	})

	t.Run("CommitAfterSnapshotConflicts", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		require.True(t, tr.Claim([]byte("a"), 1, 4))
		tr.Publish([]byte("a"), 1, 5)

		// started before the commit
		assert.False(t, tr.Claim([]byte("a"), 2, 4))
		// started after the commit
		assert.True(t, tr.Claim([]byte("a"), 3, 5))
	})

	t.Run("ReleaseOnAbort", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		require.True(t, tr.Claim([]byte("a"), 1, 0))
		tr.Release([]byte("a"), 1)
		assert.Equal(t, 0, tr.Len())
		assert.True(t, tr.Claim([]byte("a"), 2, 0))

		// releasing a key held by another owner is a no-op
		tr.Release([]byte("a"), 1)
		assert.False(t, tr.Claim([]byte("a"), 3, 0))
	})

	t.Run("ValidateAfterPlainWrite", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		require.True(t, tr.Claim([]byte("a"), 1, 3))
		assert.True(t, tr.Validate([]byte("a"), 1, 3))

		// a write outside of a transaction keeps the owner but invalidates it
		tr.Publish([]byte("a"), 0, 4)
		assert.False(t, tr.Validate([]byte("a"), 1, 3))
		assert.False(t, tr.Validate([]byte("b"), 1, 3))
	})

	t.Run("PruneBelowHorizon", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		for i, key := range []string{"a", "b", "c"} {
			seq := uint64(i + 1)
			require.True(t, tr.Claim([]byte(key), seq, 0))
			tr.Publish([]byte(key), seq, seq)
		}
		require.Equal(t, 3, tr.Len())

		// nothing may go while a transaction reads at sequence 0
		assert.Equal(t, 0, tr.Prune())

		horizon.Store(2)
		assert.Eventually(t, func() bool {
			tr.Prune()
			return tr.Len() == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, uint64(2), tr.Pruned())

		// c committed at 3 and still conflicts with a transaction started at 2
		assert.False(t, tr.Claim([]byte("c"), 9, 2))
	})

	t.Run("PruneKeepsReclaimedRecords", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		require.True(t, tr.Claim([]byte("a"), 1, 0))
		tr.Publish([]byte("a"), 1, 1)
		require.True(t, tr.Claim([]byte("a"), 2, 1))

		horizon.Store(10)
		time.Sleep(10 * time.Millisecond)
		tr.Prune()
		assert.Equal(t, 1, tr.Len())
		assert.False(t, tr.Claim([]byte("a"), 3, 10))
	})

	t.Run("ConcurrentClaims", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := newTestTracker(t, &horizon)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for owner := uint64(1); owner <= 16; owner++ {
			wg.Add(1)
			go func(owner uint64) {
				defer wg.Done()
				if tr.Claim([]byte("hot"), owner, 0) {
					wins.Add(1)
				}
			}(owner)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("PruneAfterClose", func(t *testing.T) {
		var horizon atomic.Uint64
		tr := New(horizon.Load, time.Hour, nil)
		tr.Close()
		tr.Close()
		assert.Equal(t, 0, tr.Prune())
	})
}
