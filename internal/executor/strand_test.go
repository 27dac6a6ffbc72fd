package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrandExecutor_PreservesOrderOverPool(t *testing.T) {
	pool, err := NewPoolExecutor(Options{Name: "sp1", ThreadNum: 8, QueueThreshold: 1000}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	strand := NewStrandExecutor("strand1", pool)
	require.NoError(t, strand.Start())
	defer strand.Shutdown(context.Background())

	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		i := i
		wg.Add(1)
		strand.Execute(func() {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	require.Len(t, seen, 200)
	for i, v := range seen {
		require.Equal(t, i, v)
	}
}

func TestStrandExecutor_NeverRunsConcurrently(t *testing.T) {
	pool, err := NewPoolExecutor(Options{Name: "sp2", ThreadNum: 8, QueueThreshold: 1000}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	strand := NewStrandExecutor("strand2", pool)
	require.NoError(t, strand.Start())
	defer strand.Shutdown(context.Background())

	var inFlight, maxInFlight int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		strand.Execute(func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			mu.Lock()
			inFlight--
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	require.EqualValues(t, 1, maxInFlight)
}

func TestStrandExecutor_IsInCurrentExecutorDefersToTarget(t *testing.T) {
	pool, err := NewPoolExecutor(Options{Name: "sp3", ThreadNum: 1, QueueThreshold: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	strand := NewStrandExecutor("strand3", pool)
	require.NoError(t, strand.Start())
	defer strand.Shutdown(context.Background())

	result := make(chan bool, 1)
	strand.Execute(func() { result <- strand.IsInCurrentExecutor() })
	require.True(t, <-result)
}
