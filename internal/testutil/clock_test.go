package testutil

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_Sequence(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())
	assert.Empty(t, clock.Issued())

	for want := int64(1); want <= 4; want++ {
		assert.Equal(t, want, clock.Next())
	}
	assert.Equal(t, int64(4), clock.Current())
	assert.Equal(t, []int64{1, 2, 3, 4}, clock.Issued())
}

func TestDeterministicClock_StartsAtBase(t *testing.T) {
	clock := NewDeterministicClockAt(41)
	assert.Equal(t, int64(41), clock.Current())
	assert.Equal(t, int64(42), clock.Next())
	assert.Equal(t, []int64{42}, clock.Issued())
}

func TestDeterministicClock_ResetRewindsToBase(t *testing.T) {
	clock := NewDeterministicClockAt(10)
	clock.Next()
	clock.Next()

	clock.Reset()
	assert.Equal(t, int64(10), clock.Current())
	assert.Empty(t, clock.Issued())
	assert.Equal(t, int64(11), clock.Next())
}

func TestDeterministicClock_IssuedIsACopy(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Next()

	issued := clock.Issued()
	issued[0] = 99
	assert.Equal(t, []int64{1}, clock.Issued())
}

func TestDeterministicClock_ConcurrentNextIsGapFree(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, calls = 50, 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				clock.Next()
			}
		}()
	}
	wg.Wait()

	issued := clock.Issued()
	require.Len(t, issued, workers*calls)
	// Values are handed out under the lock, so issue order is already sorted
	assert.True(t, slices.IsSorted(issued))
	assert.Equal(t, int64(1), issued[0])
	assert.Equal(t, int64(workers*calls), issued[len(issued)-1])
}
