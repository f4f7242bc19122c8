package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestElapsedMillis32_Simple(t *testing.T) {
	require.Equal(t, uint32(500), ElapsedMillis32(1000, 1500))
}

func TestElapsedMillis32_WrapSafe(t *testing.T) {
	a := uint32(math.MaxUint32 - 100)
	b := uint32(150) // wrapped past the 32-bit boundary
	require.Equal(t, uint32(251), ElapsedMillis32(a, b))
}

func TestElapsedMillis32_Zero(t *testing.T) {
	require.Equal(t, uint32(0), ElapsedMillis32(42, 42))
}
