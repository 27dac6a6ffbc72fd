package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coremesh/coremesh/internal/logger"
)

type fakeModule struct {
	name        string
	initErr     error
	startErr    error
	shutdownErr error
	initialized bool
	started     bool
	shutdown    bool
	seenProxy   *CoreProxy
}

func (f *fakeModule) Info() DetailInfo { return DetailInfo{Name: f.name} }

func (f *fakeModule) Initialize(_ context.Context, proxy *CoreProxy) error {
	f.initialized = true
	f.seenProxy = proxy
	return f.initErr
}

func (f *fakeModule) Start(_ context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakeModule) Shutdown(_ context.Context) error {
	f.shutdown = true
	return f.shutdownErr
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log := logger.Default("test")
	return NewManager(log, func(info DetailInfo, proxy *CoreProxy) {
		proxy.Info = info
	})
}

func TestManager_InitializeStartShutdownOrdering(t *testing.T) {
	m := newTestManager(t)

	first := &fakeModule{name: "first"}
	second := &fakeModule{name: "second"}
	require.NoError(t, m.Register(first, ModuleOptions{}))
	require.NoError(t, m.Register(second, ModuleOptions{}))

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	assert.True(t, first.initialized)
	assert.True(t, second.initialized)

	require.NoError(t, m.Start(ctx))
	assert.True(t, first.started)
	assert.True(t, second.started)

	require.NoError(t, m.Shutdown(ctx))
	assert.True(t, first.shutdown)
	assert.True(t, second.shutdown)
}

func TestManager_DisabledModuleSkipsInitialize(t *testing.T) {
	m := newTestManager(t)
	disabled := false
	mod := &fakeModule{name: "off"}
	require.NoError(t, m.Register(mod, ModuleOptions{Enable: &disabled}))

	require.NoError(t, m.Initialize(context.Background()))
	assert.False(t, mod.initialized)
}

func TestManager_DuplicateNameRejected(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Register(&fakeModule{name: "dup"}, ModuleOptions{}))
	err := m.Register(&fakeModule{name: "dup"}, ModuleOptions{})
	assert.Error(t, err)
}

func TestManager_InitializeFailureAbortsInit(t *testing.T) {
	m := newTestManager(t)
	bad := &fakeModule{name: "bad", initErr: assert.AnError}
	require.NoError(t, m.Register(bad, ModuleOptions{}))

	err := m.Initialize(context.Background())
	assert.Error(t, err)
}

func TestManager_ModuleNamesAndInfoReflectRegistrations(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Register(&fakeModule{name: "alpha"}, ModuleOptions{}))

	names := m.ModuleNames()
	assert.Contains(t, names, "alpha")

	info, ok := m.ModuleInfo("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", info.Name)

	_, ok = m.ModuleInfo("missing")
	assert.False(t, ok)
}

func TestManager_ShutdownContinuesPastIndividualFailures(t *testing.T) {
	m := newTestManager(t)
	failing := &fakeModule{name: "failing", shutdownErr: assert.AnError}
	ok := &fakeModule{name: "ok"}
	require.NoError(t, m.Register(failing, ModuleOptions{}))
	require.NoError(t, m.Register(ok, ModuleOptions{}))

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	err := m.Shutdown(ctx)
	assert.Error(t, err)
	assert.True(t, failing.shutdown)
	assert.True(t, ok.shutdown)
}
