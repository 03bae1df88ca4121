package fetchsvc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeModuloOverlay(t *testing.T) {
	matched := []uint64{101, 105}
	merged, _ := mergeModuloOverlay(matched, 100, 110, 110, []uint64{5})
	require.Equal(t, []uint64{100, 101, 105, 110}, merged)
}

func TestMergeModuloOverlay_NoModulosReturnsInput(t *testing.T) {
	matched := []uint64{1, 2, 3}
	got, _ := mergeModuloOverlay(matched, 1, 3, 3, nil)
	require.Equal(t, matched, got)
}

func TestMergeModuloOverlay_DeduplicatesExistingMatch(t *testing.T) {
	matched := []uint64{100, 105}
	merged, _ := mergeModuloOverlay(matched, 100, 110, 110, []uint64{5})
	require.Equal(t, []uint64{100, 105, 110}, merged)
}

func TestSubtractBypass(t *testing.T) {
	matched := []uint64{1, 2, 3, 4, 5}
	got := subtractBypass(matched, []uint64{2, 4})
	require.Equal(t, []uint64{1, 3, 5}, got)
}

func TestSubtractBypass_NoBypassReturnsInput(t *testing.T) {
	matched := []uint64{1, 2, 3}
	require.Equal(t, matched, subtractBypass(matched, nil))
}
