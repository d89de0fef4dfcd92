package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond
)

// RequireEventually polls condition every 10ms and fails the test when
// it still does not hold after 10s. Used wherever a test waits on an
// asynchronous effect, like a write pump or a cleanup timer.
func RequireEventually(t *testing.T, condition func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, condition, waitFor, tick, msgAndArgs...)
}
