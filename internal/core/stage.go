package core

import (
	"context"
	"sync/atomic"

	"github.com/coremesh/coremesh/internal/corerr"
)

// subState is the per-manager sub-state: {PreInit, Init, Start,
// Shutdown}. Every transition is a single successful compare-and-swap; a
// repeat attempt fails with a "can only be initialized/started once"
// error.
type subState int32

const (
	subPreInit subState = iota
	subInit
	subStarted
	subShutdown
)

// phaseState is embedded by every Stage implementation to get CAS-guarded
// transitions for free.
type phaseState struct {
	state atomic.Int32
}

func (s *phaseState) init() {
	s.state.Store(int32(subPreInit))
}

func (s *phaseState) transition(from, to subState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *phaseState) current() subState {
	return subState(s.state.Load())
}

// requireTransition is the shared "can only be initialized/started once"
// check every manager sub-state transition goes through.
func (s *phaseState) requireTransition(name, op string, from, to subState) error {
	if !s.transition(from, to) {
		return corerr.IllegalStatef(op, "stage %s: invalid transition from sub-state %d to %d", name, from, to)
	}
	return nil
}

// Stage is one named manager in the orchestrator's dependency chain.
// Init/Start/Shutdown are each expected to call phaseState.transition
// themselves and return an IllegalState error on re-entry.
type Stage interface {
	Name() string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
