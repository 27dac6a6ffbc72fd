package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	phaseState
	name     string
	initErr  error
	startErr error
	calls    *[]string
}

func newFakeStage(name string, calls *[]string) *fakeStage {
	s := &fakeStage{name: name, calls: calls}
	s.init()
	return s
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Init(_ context.Context) error {
	if err := f.requireTransition(f.name, "fakeStage.Init", subPreInit, subInit); err != nil {
		return err
	}
	*f.calls = append(*f.calls, f.name+":init")
	return f.initErr
}

func (f *fakeStage) Start(_ context.Context) error {
	if err := f.requireTransition(f.name, "fakeStage.Start", subInit, subStarted); err != nil {
		return err
	}
	*f.calls = append(*f.calls, f.name+":start")
	return f.startErr
}

func (f *fakeStage) Shutdown(_ context.Context) error {
	if err := f.requireTransition(f.name, "fakeStage.Shutdown", subStarted, subShutdown); err != nil {
		return err
	}
	*f.calls = append(*f.calls, f.name+":shutdown")
	return nil
}

func buildTenStages(calls *[]string) []Stage {
	names := []string{"configurator", "plugin", "main-exec", "guard-exec", "logger", "allocator", "rpc", "channel", "parameter", "modules"}
	stages := make([]Stage, len(names))
	for i, n := range names {
		stages[i] = newFakeStage(n, calls)
	}
	return stages
}

func TestOrchestrator_PhaseSequenceMatchesSpecOrder(t *testing.T) {
	o := New()
	var phases []Phase
	for _, p := range append(append([]Phase{PreInit}, allStagePhases()...), PostInit, PreStart, PostStart, PreShutdown, PreShutdownModules, PostShutdownModules, PostShutdown) {
		p := p
		o.OnPhase(p, func(_ context.Context, ph Phase) error {
			phases = append(phases, ph)
			return nil
		})
	}

	var calls []string
	for _, s := range buildTenStages(&calls) {
		require.NoError(t, o.AddStage(s))
	}

	ctx := context.Background()
	_, err := o.Init(ctx)
	require.NoError(t, err)

	done, err := o.AsyncStart(ctx)
	require.NoError(t, err)

	require.NoError(t, o.Shutdown(ctx))
	<-done

	expected := append(append([]Phase{PreInit}, allStagePhases()...), PostInit, PreStart, PostStart, PreShutdown, PreShutdownModules, PostShutdownModules, PostShutdown)
	assert.Equal(t, expected, phases)
}

func allStagePhases() []Phase {
	phases := make([]Phase, 0, len(stagePhasePairs)*2)
	for _, pair := range stagePhasePairs {
		phases = append(phases, pair.pre, pair.post)
	}
	return phases
}

func TestOrchestrator_InitOrderAndShutdownReverseOrder(t *testing.T) {
	o := New()
	var calls []string
	for _, s := range buildTenStages(&calls) {
		require.NoError(t, o.AddStage(s))
	}

	ctx := context.Background()
	_, err := o.Init(ctx)
	require.NoError(t, err)
	_, err = o.AsyncStart(ctx)
	require.NoError(t, err)
	require.NoError(t, o.Shutdown(ctx))

	require.Len(t, calls, 30)
	assert.Equal(t, "configurator:init", calls[0])
	assert.Equal(t, "modules:init", calls[9])
	assert.Equal(t, "configurator:start", calls[10])
	assert.Equal(t, "modules:start", calls[19])
	assert.Equal(t, "modules:shutdown", calls[20])
	assert.Equal(t, "configurator:shutdown", calls[29])
}

func TestOrchestrator_FailingStageAbortsInit(t *testing.T) {
	o := New()
	var calls []string
	first := newFakeStage("first", &calls)
	bad := newFakeStage("bad", &calls)
	bad.initErr = assert.AnError
	third := newFakeStage("third", &calls)

	require.NoError(t, o.AddStage(first))
	require.NoError(t, o.AddStage(bad))
	require.NoError(t, o.AddStage(third))

	_, err := o.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"first:init", "bad:init"}, calls)
}

func TestStage_ReInitFailsWithIllegalState(t *testing.T) {
	var calls []string
	s := newFakeStage("dup", &calls)
	require.NoError(t, s.Init(context.Background()))
	err := s.Init(context.Background())
	assert.Error(t, err)
}

func TestOrchestrator_AddStageBeyondCapacityFails(t *testing.T) {
	o := New()
	var calls []string
	for _, s := range buildTenStages(&calls) {
		require.NoError(t, o.AddStage(s))
	}
	err := o.AddStage(newFakeStage("eleventh", &calls))
	assert.Error(t, err)
}
