package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T) *Arena {
	t.Helper()
	buf := make([]byte, 256*1024)
	a, err := New(buf, 64*1024, 192*1024)
	require.NoError(t, err)
	return a
}

func TestArena_AllocateSlabSizedRequest(t *testing.T) {
	a := newTestArena(t)

	off, err := a.Allocate(Request{Size: 32})
	require.NoError(t, err)
	assert.Less(t, off, uint32(64*1024))

	require.NoError(t, a.Free(off))
}

func TestArena_AllocateBuddySizedRequest(t *testing.T) {
	a := newTestArena(t)

	off, err := a.Allocate(Request{Size: 8192})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, off, uint32(64*1024))

	require.NoError(t, a.Free(off))
}

func TestArena_AllocateMidRangeRoundsUpToMinBuddyBlock(t *testing.T) {
	a := newTestArena(t)

	off, err := a.Allocate(Request{Size: 1000})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, off, uint32(64*1024))

	require.NoError(t, a.Free(off))
}

func TestArena_ZeroedFlagClearsBytes(t *testing.T) {
	a := newTestArena(t)

	off, err := a.Allocate(Request{Size: 16})
	require.NoError(t, err)
	b := a.Bytes(off, 16)
	for i := range b {
		b[i] = 0xFF
	}
	require.NoError(t, a.Free(off))

	off2, err := a.Allocate(Request{Size: 16, Flags: FlagZeroed})
	require.NoError(t, err)
	for _, v := range a.Bytes(off2, 16) {
		assert.Equal(t, byte(0), v)
	}
}

func TestArena_FreeOutsideRangeErrors(t *testing.T) {
	a := newTestArena(t)
	err := a.Free(10 * 1024 * 1024)
	assert.Error(t, err)
}

func TestArena_StatsReflectAllocations(t *testing.T) {
	a := newTestArena(t)

	off, err := a.Allocate(Request{Size: 32})
	require.NoError(t, err)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.AllocCount)
	assert.Equal(t, uint64(32), stats.TotalAllocated)

	require.NoError(t, a.Free(off))
	stats = a.Stats()
	assert.Equal(t, uint64(1), stats.FreeCount)
}

func TestArena_FreeCacheReclaimsEmptySlabPages(t *testing.T) {
	a := newTestArena(t)

	offsets := make([]uint32, 0, 128)
	for i := 0; i < 128; i++ {
		off, err := a.Allocate(Request{Size: 32})
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	for _, off := range offsets {
		require.NoError(t, a.Free(off))
	}

	freed := a.FreeCache()
	assert.Positive(t, freed)
}

func TestArena_NewRejectsOversizedRegions(t *testing.T) {
	buf := make([]byte, 1024)
	_, err := New(buf, 2048, 2048)
	assert.Error(t, err)
}
