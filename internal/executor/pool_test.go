package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolExecutor_ExecutesAllTasks(t *testing.T) {
	ex, err := NewPoolExecutor(Options{Name: "p1", ThreadNum: 4, QueueThreshold: 100}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	defer ex.Shutdown(context.Background())

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		ex.Execute(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	require.EqualValues(t, 50, n.Load())
}

func TestPoolExecutor_DropsAboveThreshold(t *testing.T) {
	ex, err := NewPoolExecutor(Options{Name: "p2", ThreadNum: 0, QueueThreshold: 2}, nil)
	require.NoError(t, err)
	// Deliberately do not Start, so tasks pile up as "pending" without
	// being drained, letting us observe the drop behavior directly.
	ex.Execute(func() {})
	ex.Execute(func() {})
	require.EqualValues(t, 2, ex.CurrentTaskNum())
	ex.Execute(func() {}) // over threshold
	require.EqualValues(t, 1, ex.droppedTasks())
}

func TestPoolExecutor_IsInCurrentExecutor(t *testing.T) {
	ex, err := NewPoolExecutor(Options{Name: "p3", ThreadNum: 1, QueueThreshold: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	defer ex.Shutdown(context.Background())

	result := make(chan bool, 1)
	ex.Execute(func() {
		result <- ex.IsInCurrentExecutor()
	})
	require.True(t, <-result)
	require.False(t, ex.IsInCurrentExecutor())
}

func TestPoolExecutor_ExecuteAt(t *testing.T) {
	ex, err := NewPoolExecutor(Options{Name: "p4", ThreadNum: 1, QueueThreshold: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	defer ex.Shutdown(context.Background())

	done := make(chan struct{})
	start := time.Now()
	ex.ExecuteAt(start.Add(20*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPoolExecutor_ShutdownIsIdempotentFailure(t *testing.T) {
	ex, err := NewPoolExecutor(Options{Name: "p5", ThreadNum: 1, QueueThreshold: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	require.NoError(t, ex.Shutdown(context.Background()))
	require.ErrorIs(t, ex.Shutdown(context.Background()), ErrAlreadyInitialized)
}

func TestPoolExecutor_GrowPolicyAcceptsBeyondThreshold(t *testing.T) {
	ex, err := NewPoolExecutor(Options{Name: "p6", ThreadNum: 1, QueueThreshold: 2, OverflowPolicy: Grow}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	defer ex.Shutdown(context.Background())

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		ex.Execute(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	require.EqualValues(t, 10, n.Load())
	require.EqualValues(t, 0, ex.droppedTasks())
}

func TestPoolExecutor_BlockPolicyStallsThenRuns(t *testing.T) {
	ex, err := NewPoolExecutor(Options{Name: "p7", ThreadNum: 1, QueueThreshold: 2, OverflowPolicy: Block}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	defer ex.Shutdown(context.Background())

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		ex.Execute(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	require.EqualValues(t, 20, n.Load())
	require.EqualValues(t, 0, ex.droppedTasks())
}
