package merging

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	t.Run("SerializesSameKeys", func(t *testing.T) {
		l := NewLocalLocker()
		var (
			inside  atomic.Int32
			maxSeen atomic.Int32
			wg      sync.WaitGroup
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				keys := []string{"a", "b"}
				if i%2 == 0 {
					keys = []string{"b", "a"}
				}
				unlock, err := l.Lock(context.Background(), keys...)
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				unlock()
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxSeen.Load())
	})

	t.Run("DisjointKeysDoNotBlock", func(t *testing.T) {
		l := NewLocalLocker()
		unlockA, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := l.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("ContextCancelledWhileWaiting", func(t *testing.T) {
		l := NewLocalLocker()
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		again, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		again()
	})

	t.Run("ReleasesPartialAcquisition", func(t *testing.T) {
		l := NewLocalLocker()
		unlockB, err := l.Lock(context.Background(), "b")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a", "b")
		require.Error(t, err)

		// "a" was taken then released when "b" timed out
		unlockA, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		unlockA()
		unlockB()
	})
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, sortedUnique([]string{"b", "", "a", "b"}))
}
