package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockwise/colabd/internal/colab/permission"
	"github.com/blockwise/colabd/internal/colab/protocol"
	"github.com/blockwise/colabd/internal/util/testutil"
)

func TestGetOrCreateReusesLiveWorkspace(t *testing.T) {
	r := NewRegistry(time.Hour)

	w1 := r.GetOrCreate("w1")
	w2 := r.GetOrCreate("w1")
	require.Same(t, w1, w2)
	assert.Equal(t, 1, r.Count())

	assert.Same(t, w1, r.Get("w1"))
	assert.Nil(t, r.Get("nope"))
}

func TestCleanupDestroysEmptyWorkspace(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)

	w := r.GetOrCreate("w1")
	c, _ := newTestConn()
	w.Join(c, "u1", "Kid", permission.RoleStudent)
	_, empty := w.Leave(c)
	require.True(t, empty)
	r.ScheduleCleanup(w)

	testutil.RequireEventually(t, func() bool { return r.Count() == 0 }, "empty workspace not destroyed")
}

func TestJoinDuringRetentionCancelsCleanup(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)

	w := r.GetOrCreate("w1")
	c, _ := newTestConn()
	w.Join(c, "u1", "Teach", permission.RoleAdmin)
	w.BlockMove(c, protocol.BlockMove{BlockID: "b1"})
	drain(t, c)
	w.Leave(c)
	r.ScheduleCleanup(w)

	// a rejoin inside the window keeps the workspace and its state
	again := r.GetOrCreate("w1")
	require.Same(t, w, again)
	c2, _ := newTestConn()
	again.Join(c2, "u1", "Kid", permission.RoleStudent)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, r.Count())
	e, ok := again.ElementByID("b1")
	require.True(t, ok)
	assert.EqualValues(t, 1, e.Version)
}

func TestCleanupGenerationGuard(t *testing.T) {
	r := NewRegistry(time.Hour)

	w := r.GetOrCreate("w1")
	c, _ := newTestConn()
	w.Join(c, "u1", "Kid", permission.RoleStudent)
	w.Leave(c)
	r.ScheduleCleanup(w)

	r.mu.Lock()
	gen := r.cleanups["w1"].gen
	r.mu.Unlock()

	// a timer fire that lost the race against a re-arm is a no-op
	r.cleanup("w1", gen-1)
	assert.Equal(t, 1, r.Count())

	r.cleanup("w1", gen)
	assert.Equal(t, 0, r.Count())
}

func TestCleanupSkipsRepopulatedWorkspace(t *testing.T) {
	r := NewRegistry(time.Hour)

	w := r.GetOrCreate("w1")
	c, _ := newTestConn()
	w.Join(c, "u1", "Kid", permission.RoleStudent)
	w.Leave(c)
	r.ScheduleCleanup(w)

	r.mu.Lock()
	gen := r.cleanups["w1"].gen
	r.mu.Unlock()

	// someone joined between the fire being queued and running
	c2, _ := newTestConn()
	w.Join(c2, "u2", "Kid2", permission.RoleStudent)
	r.cleanup("w1", gen)
	assert.Equal(t, 1, r.Count())
}

func TestScheduleCleanupIgnoresOccupiedWorkspace(t *testing.T) {
	r := NewRegistry(time.Hour)

	w := r.GetOrCreate("w1")
	c, _ := newTestConn()
	w.Join(c, "u1", "Kid", permission.RoleStudent)

	r.ScheduleCleanup(w)
	r.mu.Lock()
	_, armed := r.cleanups["w1"]
	r.mu.Unlock()
	assert.False(t, armed)
}

func TestShutdownClosesEverything(t *testing.T) {
	r := NewRegistry(time.Hour)

	w1 := r.GetOrCreate("w1")
	c1, rec1 := newTestConn()
	w1.Join(c1, "u1", "A", permission.RoleAdmin)
	w1.RequestLock(c1, "b1", "block")

	w2 := r.GetOrCreate("w2")
	c2, rec2 := newTestConn()
	w2.Join(c2, "u2", "B", permission.RoleStudent)

	r.Shutdown(1001, "server shutting down")

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 1, rec1.calls)
	assert.Equal(t, 1001, rec1.code)
	assert.Equal(t, "server shutting down", rec1.reason)
	assert.Equal(t, 1, rec2.calls)

	// the closed sockets' disconnect handlers find nothing to clean
	removed, _ := w1.Leave(c1)
	assert.False(t, removed)
}
