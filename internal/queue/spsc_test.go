package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fill a capacity-4 power-of-two ring, overflow, drain one, refill.
func TestSPSC_FillDrainRefill(t *testing.T) {
	var q SPSC[int]
	require.True(t, q.Init(4, true))

	for i := 1; i <= 4; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.EqualValues(t, 4, q.Size())
	assert.False(t, q.Enqueue(5))

	var out int
	require.True(t, q.Dequeue(&out))
	assert.Equal(t, 1, out)

	require.True(t, q.Enqueue(5))

	want := []int{2, 3, 4, 5}
	for _, w := range want {
		require.True(t, q.Dequeue(&out))
		assert.Equal(t, w, out)
	}
	assert.False(t, q.Dequeue(&out))
}

// DequeueLatest drains and returns the newest element.
func TestSPSC_DequeueLatestDrains(t *testing.T) {
	var q SPSC[int]
	require.True(t, q.Init(4, true))
	for i := 1; i <= 4; i++ {
		require.True(t, q.Enqueue(i))
	}

	var out int
	require.True(t, q.DequeueLatest(&out))
	assert.Equal(t, 4, out)
	assert.EqualValues(t, 0, q.Size())
	assert.False(t, q.Dequeue(&out))
}

// EnqueueOverwrite on a full queue drops the oldest element.
func TestSPSC_EnqueueOverwriteDropsOldest(t *testing.T) {
	var q SPSC[int]
	require.True(t, q.Init(4, true))
	for i := 1; i <= 4; i++ {
		require.True(t, q.Enqueue(i))
	}
	q.EnqueueOverwrite(5)

	want := []int{2, 3, 4, 5}
	var out int
	for _, w := range want {
		require.True(t, q.Dequeue(&out))
		assert.Equal(t, w, out)
	}
}

// FIFO order holds for N matched enqueue/dequeue pairs across two goroutines.
func TestSPSC_FIFO(t *testing.T) {
	var q SPSC[int]
	require.True(t, q.Init(16, false))

	const n = 1000
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			for !q.Enqueue(i) {
			}
		}
		close(done)
	}()

	var out int
	for i := 0; i < n; i++ {
		for !q.Dequeue(&out) {
		}
		assert.Equal(t, i, out)
	}
	<-done
}

// Init with forcePowerOfTwo fails iff capacity isn't a power of two.
func TestSPSC_InitPowerOfTwo(t *testing.T) {
	var q1 SPSC[int]
	assert.False(t, q1.Init(3, true))

	var q2 SPSC[int]
	assert.True(t, q2.Init(8, true))
}

// Init(0) fails; Init twice fails the second time.
func TestSPSC_InitEdgeCases(t *testing.T) {
	var q SPSC[int]
	assert.False(t, q.Init(0, false))

	require.True(t, q.Init(4, false))
	assert.False(t, q.Init(4, false))
}

func TestSPSC_DequeueNilOut(t *testing.T) {
	var q SPSC[int]
	require.True(t, q.Init(4, false))
	require.True(t, q.Enqueue(1))
	assert.False(t, q.Dequeue(nil))
}

func TestSPSC_NonPowerOfTwoIndexing(t *testing.T) {
	var q SPSC[int]
	require.True(t, q.Init(5, false))
	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(5))

	var out int
	for i := 0; i < 5; i++ {
		require.True(t, q.Dequeue(&out))
		assert.Equal(t, i, out)
	}
}

func TestSPSC_StatsTrackCountersAndWatermark(t *testing.T) {
	var q SPSC[int]
	require.True(t, q.Init(4, true))

	for i := 1; i <= 4; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(5))

	var out int
	require.True(t, q.Dequeue(&out))

	stats := q.Stats()
	assert.EqualValues(t, 4, stats.Enqueued)
	assert.EqualValues(t, 1, stats.Dequeued)
	assert.EqualValues(t, 1, stats.Dropped)
	assert.EqualValues(t, 3, stats.QueueDepth)
	assert.EqualValues(t, 4, stats.MaxDepth)
}
