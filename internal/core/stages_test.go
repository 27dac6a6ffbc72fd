package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coremesh/coremesh/internal/channel"
	"github.com/coremesh/coremesh/internal/config"
	"github.com/coremesh/coremesh/internal/logger"
	"github.com/coremesh/coremesh/internal/module"
)

// fakeModule is a minimal module.Base used to verify that modules
// discovered by PluginStage (as opposed to direct registration) actually
// reach the module.Manager's Init/Start/Shutdown sequencing.
type fakeModule struct {
	name  string
	calls *[]string
	proxy *module.CoreProxy
}

func (m *fakeModule) Info() module.DetailInfo { return module.DetailInfo{Name: m.name} }

func (m *fakeModule) Initialize(_ context.Context, proxy *module.CoreProxy) error {
	m.proxy = proxy
	*m.calls = append(*m.calls, m.name+":init")
	return nil
}

func (m *fakeModule) Start(_ context.Context) error {
	*m.calls = append(*m.calls, m.name+":start")
	return nil
}

func (m *fakeModule) Shutdown(_ context.Context) error {
	*m.calls = append(*m.calls, m.name+":shutdown")
	return nil
}

func TestModuleManagerStage_RegistersPluginLoadedModules(t *testing.T) {
	var calls []string

	plugin := NewPluginStage(nil)
	plugin.Loaded["foo"] = &fakeModule{name: "foo", calls: &calls}
	plugin.LoadedOrder = append(plugin.LoadedOrder, "foo")

	disabled := false
	modules := []config.ModuleEntry{
		{Name: "foo", LogLvl: "Debug", CfgFilePath: "/cfg/foo.yaml"},
		{Name: "bar", Enable: &disabled},
	}

	mgr := module.NewManager(logger.Default("test"), nil)
	stage := NewModuleManagerStage(mgr, plugin, modules)

	require.NoError(t, plugin.Init(context.Background()))
	require.NoError(t, stage.Init(context.Background()))
	require.NoError(t, stage.Start(context.Background()))
	require.NoError(t, stage.Shutdown(context.Background()))

	assert.Equal(t, []string{"foo:init", "foo:start", "foo:shutdown"}, calls)

	info, ok := mgr.ModuleInfo("foo")
	require.True(t, ok)
	assert.Equal(t, "Debug", info.LogLvl)
	assert.Equal(t, "/cfg/foo.yaml", info.CfgFilePath)
}

func TestModuleManagerStage_NilPluginIsNoop(t *testing.T) {
	mgr := module.NewManager(logger.Default("test"), nil)
	stage := NewModuleManagerStage(mgr, nil, nil)

	require.NoError(t, stage.Init(context.Background()))
	assert.Empty(t, mgr.ModuleNames())
}

func TestChannelStage_RegistersLocalBackendAndResolvesTopicOptions(t *testing.T) {
	cfg := config.ChannelConfig{
		PubTopicsOptions: []config.ChannelTopicOptions{
			{TopicName: "telemetry.*", EnableBackends: []string{"local"}, EnableFilters: []string{"debug_log"}},
		},
	}
	stage := NewChannelStage(logger.Default("test"), nil, cfg)
	require.NoError(t, stage.Init(context.Background()))
	require.NoError(t, stage.Start(context.Background()))
	defer stage.Shutdown(context.Background())

	env := channel.Envelope{Topic: "telemetry.imu", MsgType: "t", Pkg: "A"}
	assert.NoError(t, stage.Backends.Publish(env, map[string]string{}))
}

func TestChannelStage_UnknownBackendTypeFails(t *testing.T) {
	cfg := config.ChannelConfig{Backends: []config.ChannelBackendEntry{{Type: "mqtt"}}}
	stage := NewChannelStage(logger.Default("test"), nil, cfg)
	err := stage.Init(context.Background())
	require.Error(t, err)
}

func TestChannelStage_UnknownFilterNameFails(t *testing.T) {
	cfg := config.ChannelConfig{
		PubTopicsOptions: []config.ChannelTopicOptions{
			{TopicName: "topic", EnableFilters: []string{"nope"}},
		},
	}
	stage := NewChannelStage(logger.Default("test"), nil, cfg)
	err := stage.Init(context.Background())
	require.Error(t, err)
}

func TestToSet_BuildsEnableAndDisableSets(t *testing.T) {
	enabled := toSet([]string{"a", "b"})
	disabled := toSet([]string{"a"})
	_, enabledHasA := enabled["a"]
	_, disabledHasA := disabled["a"]
	assert.True(t, enabledHasA)
	assert.True(t, disabledHasA)
	_, hasC := enabled["c"]
	assert.False(t, hasC)
}
