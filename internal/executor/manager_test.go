package executor

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestManager_BuildStartShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(nil, NewMetrics(reg))

	_, err := m.Build(Options{Name: "pool", Type: TypeAsioThread, ThreadNum: 2, QueueThreshold: 100})
	require.NoError(t, err)
	_, err = m.Build(Options{Name: "guard", Type: TypeGuardThread, QueueThreshold: 100})
	require.NoError(t, err)
	_, err = m.Build(Options{Name: "strand-on-pool", Type: TypeAsioStrand, AttachTo: "pool"})
	require.NoError(t, err)

	require.NoError(t, m.Start())

	ex, ok := m.Get("guard")
	require.True(t, ok)
	require.Equal(t, "guard", ex.Name())

	_, ok = m.Get("does-not-exist")
	require.False(t, ok)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_DuplicateNameRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(nil, NewMetrics(reg))
	_, err := m.Build(Options{Name: "dup", Type: TypeGuardThread, QueueThreshold: 10})
	require.NoError(t, err)
	_, err = m.Build(Options{Name: "dup", Type: TypeGuardThread, QueueThreshold: 10})
	require.Error(t, err)
}

func TestManager_StrandAttachToMustExistFirst(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(nil, NewMetrics(reg))
	_, err := m.Build(Options{Name: "s", Type: TypeAsioStrand, AttachTo: "missing"})
	require.Error(t, err)
}

func TestManager_UnknownTypeRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(nil, NewMetrics(reg))
	_, err := m.Build(Options{Name: "x", Type: "bogus", QueueThreshold: 10})
	require.Error(t, err)
}
