package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coremesh/coremesh/internal/corerr"
)

// Real .so packages require a separately built plugin binary, which this
// workspace cannot produce without running the Go toolchain. These tests
// exercise the loader's own bookkeeping and failure classification
// instead of a real dlopen round trip.

func TestPkgLoader_OpenMissingPathFailsWithSystemCallFailed(t *testing.T) {
	l := NewPkgLoader()
	_, _, err := l.LoadPkg(PkgOptions{Path: "/nonexistent/path/to/pkg.so"})
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.SystemCallFailed))
}

func TestToSet_EmptyInputYieldsNilSet(t *testing.T) {
	assert.Nil(t, toSet(nil))
	assert.Nil(t, toSet([]string{}))

	s := toSet([]string{"a", "b"})
	_, ok := s["a"]
	assert.True(t, ok)
	_, ok = s["c"]
	assert.False(t, ok)
}

func TestPkgLoader_UnloadOnEmptyLoaderIsNoop(t *testing.T) {
	l := NewPkgLoader()
	assert.NoError(t, l.Unload())
}
