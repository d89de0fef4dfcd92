package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/blockwise/colabd/internal/metrics"
)

// Registry tracks the live workspaces and destroys the ones that stay
// empty past the retention window.
type Registry struct {
	retention time.Duration

	mu         sync.Mutex
	workspaces map[string]*Workspace
	cleanups   map[string]pendingCleanup
	gen        uint64
}

// pendingCleanup is an armed empty-workspace destroy timer. The
// generation tag makes a fire that lost the race against a cancel or a
// re-arm a no-op.
type pendingCleanup struct {
	timer *time.Timer
	gen   uint64
}

// NewRegistry creates a registry whose empty workspaces live for
// retention before being destroyed.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		retention:  retention,
		workspaces: make(map[string]*Workspace),
		cleanups:   make(map[string]pendingCleanup),
	}
}

// GetOrCreate returns the live workspace for wsID, creating it on first
// use. Any pending cleanup for the id is cancelled, so a join during
// the retention window finds the state intact.
func (r *Registry) GetOrCreate(wsID string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pc, ok := r.cleanups[wsID]; ok {
		pc.timer.Stop()
		delete(r.cleanups, wsID)
	}
	w := r.workspaces[wsID]
	if w == nil {
		w = newWorkspace(wsID)
		r.workspaces[wsID] = w
		metrics.WorkspacesActive.Inc()
		slog.Info("workspace created", "workspace", wsID)
	}
	return w
}

// Get returns the live workspace for wsID, or nil.
func (r *Registry) Get(wsID string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workspaces[wsID]
}

// Count returns the number of live workspaces.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// ScheduleCleanup arms the destroy timer for a workspace that just went
// empty. A previously armed timer is replaced, never stacked, so each
// workspace has at most one pending cleanup.
func (r *Registry) ScheduleCleanup(w *Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wsID := w.ID()
	if r.workspaces[wsID] != w || !w.Empty() {
		return
	}
	if pc, ok := r.cleanups[wsID]; ok {
		pc.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.cleanups[wsID] = pendingCleanup{
		timer: time.AfterFunc(r.retention, func() { r.cleanup(wsID, gen) }),
		gen:   gen,
	}
	slog.Info("workspace empty, cleanup scheduled", "workspace", wsID, "retention", r.retention)
}

func (r *Registry) cleanup(wsID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, ok := r.cleanups[wsID]
	if !ok || pc.gen != gen {
		return
	}
	delete(r.cleanups, wsID)

	w := r.workspaces[wsID]
	if w == nil || !w.Empty() {
		return
	}
	delete(r.workspaces, wsID)
	metrics.WorkspacesActive.Dec()
	slog.Info("workspace destroyed", "workspace", wsID)
}

// Shutdown cancels all pending cleanups, drops every workspace and
// force-closes the member connections with the given code.
func (r *Registry) Shutdown(code int, reason string) {
	r.mu.Lock()
	for wsID, pc := range r.cleanups {
		pc.timer.Stop()
		delete(r.cleanups, wsID)
	}
	dropped := make([]*Workspace, 0, len(r.workspaces))
	for wsID, w := range r.workspaces {
		dropped = append(dropped, w)
		delete(r.workspaces, wsID)
		metrics.WorkspacesActive.Dec()
	}
	r.mu.Unlock()

	for _, w := range dropped {
		w.closeAll(code, reason)
	}
}

// closeAll force-closes every member connection, bypassing the normal
// leave path.
func (w *Workspace) closeAll(code int, reason string) {
	w.mu.Lock()
	conns := make([]*Conn, 0, len(w.members))
	for _, m := range w.members {
		m.Conn.MarkSkipCleanup()
		conns = append(conns, m.Conn)
	}
	metrics.MembersActive.Sub(float64(len(w.members)))
	metrics.LocksHeld.Sub(float64(len(w.locks)))
	w.members = make(map[string]*Member)
	w.locks = make(map[string]*Lock)
	w.mu.Unlock()

	for _, c := range conns {
		c.Close(code, reason)
	}
}
