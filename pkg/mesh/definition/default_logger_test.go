package definition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToggleDebug(t *testing.T) {
	l := NewLogger()
	require.True(t, l.ToggleDebug(true))
	require.False(t, l.ToggleDebug(false))
}

func TestWithReturnsDerivedLogger(t *testing.T) {
	l := NewLogger()
	derived := l.With("component", "connection")
	require.NotNil(t, derived)
	// Smoke-test that none of the interface methods panic.
	derived.Info("hello")
	derived.Debugf("value=%d", 1)
}
