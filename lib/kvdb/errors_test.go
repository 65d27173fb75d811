package kvdb

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("Kinds", func(t *testing.T) {
		tests := []struct {
			code Code
			kind Kind
		}{
			{CodeInvalid, KindUsage},
			{CodeExists, KindUsage},
			{CodeNotFound, KindUsage},
			{CodeTooLarge, KindUsage},
			{CodeClosed, KindUsage},
			{CodeNotInitialized, KindUsage},
			{CodeBusy, KindUsage},
			{CodeReadOnly, KindUsage},
			{CodeConflict, KindConflict},
			{CodeEngine, KindEngine},
		}
		for _, tt := range tests {
			t.Run(tt.code.String(), func(t *testing.T) {
				assert.Equal(t, tt.kind, tt.code.Kind())
				assert.NotZero(t, tt.code.Errno())
			})
		}
	})

	t.Run("Helpers", func(t *testing.T) {
		assert.Equal(t, CodeOK, CodeOf(nil))
		assert.Equal(t, Kind(0), KindOf(nil))
		assert.False(t, IsUsage(nil))
		assert.False(t, IsEngine(nil))

		conflict := &Error{Code: CodeConflict, Op: "kvs.put", Msg: "lost"}
		assert.True(t, IsConflict(conflict))
		assert.False(t, IsUsage(conflict))
		assert.Equal(t, syscall.ECANCELED, Errno(conflict))

		wrapped := fmt.Errorf("context: %w", conflict)
		assert.True(t, IsConflict(wrapped))
		assert.ErrorIs(t, wrapped, ErrConflict)
		assert.NotErrorIs(t, wrapped, ErrClosed)

		foreign := errors.New("disk on fire")
		assert.Equal(t, CodeEngine, CodeOf(foreign))
		assert.True(t, IsEngine(foreign))
	})

	t.Run("Message", func(t *testing.T) {
		e := NewError(CodeNotFound, "kvdb.kvs_open", "kvs %q does not exist", "x")
		assert.Equal(t, `kvdb kvdb.kvs_open (NotFound): kvs "x" does not exist`, e.Error())
		assert.True(t, IsNotFound(e))

		inner := errors.New("io failure")
		eng := engineError("kvdb.sync", inner)
		assert.Equal(t, "kvdb kvdb.sync (Engine): io failure", eng.Error())
		assert.ErrorIs(t, eng, inner)
		assert.Equal(t, KindEngine, eng.Kind())
	})
}
