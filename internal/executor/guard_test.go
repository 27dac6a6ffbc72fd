package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardExecutor_SerializesTasks(t *testing.T) {
	ex, err := NewGuardExecutor(Options{Name: "g1", QueueThreshold: 100}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	defer ex.Shutdown(context.Background())

	order := make(chan int, 100)
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		ex.Execute(func() {
			order <- i
			if i == 99 {
				close(done)
			}
		})
	}
	<-done
	close(order)
	i := 0
	for v := range order {
		require.Equal(t, i, v)
		i++
	}
}

func TestGuardExecutor_IsInCurrentExecutor(t *testing.T) {
	ex, err := NewGuardExecutor(Options{Name: "g2", QueueThreshold: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	defer ex.Shutdown(context.Background())

	result := make(chan bool, 1)
	ex.Execute(func() { result <- ex.IsInCurrentExecutor() })
	require.True(t, <-result)
}

func TestGuardExecutor_HasNoTimerSupport(t *testing.T) {
	ex, err := NewGuardExecutor(Options{Name: "g4", QueueThreshold: 10}, nil)
	require.NoError(t, err)
	require.False(t, ex.SupportTimerSchedule())
}

func TestGuardExecutor_ShutdownDrainsThenStops(t *testing.T) {
	ex, err := NewGuardExecutor(Options{Name: "g3", QueueThreshold: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Start())

	ran := make(chan struct{}, 1)
	ex.Execute(func() { ran <- struct{}{} })
	require.NoError(t, ex.Shutdown(context.Background()))
	<-ran
}
