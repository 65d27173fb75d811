package lock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLocks grants the lock after a number of failed attempts
type fakeLocks struct {
	busyFor  int
	attempts int
	err      error
}

func (f *fakeLocks) AcquireLock(string, uint64) (bool, []byte, error) {
	f.attempts++
	if f.err != nil {
		return false, nil, f.err
	}
	if f.attempts <= f.busyFor {
		return false, nil, nil
	}
	return true, []byte{0xab}, nil
}

func (f *fakeLocks) ReleaseLock(string, []byte) (bool, error) { return true, nil }

func TestAcquire(t *testing.T) {
	t.Run("NoWait", func(t *testing.T) {
		locks := &fakeLocks{busyFor: 1}
		ok, owner, err := acquire(locks, "k", 0, 0)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, owner)
		assert.Equal(t, 1, locks.attempts)
	})

	t.Run("Wait", func(t *testing.T) {
		locks := &fakeLocks{busyFor: 2}
		ok, owner, err := acquire(locks, "k", 0, 5*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte{0xab}, owner)
		assert.Equal(t, 3, locks.attempts)
	})

	t.Run("Error", func(t *testing.T) {
		locks := &fakeLocks{err: errors.New("boom")}
		_, _, err := acquire(locks, "k", 0, time.Second)
		assert.Error(t, err)
		assert.Equal(t, 1, locks.attempts)
	})
}
