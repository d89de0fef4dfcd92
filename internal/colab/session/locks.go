package session

import (
	"encoding/json"
	"log/slog"

	"github.com/blockwise/colabd/internal/colab/permission"
	"github.com/blockwise/colabd/internal/colab/protocol"
	"github.com/blockwise/colabd/internal/metrics"
)

// editPermission returns the permission bit guarding edits of the given
// element type. Unknown types fall back to the block bit.
func editPermission(s permission.Set, elementType string) bool {
	switch elementType {
	case "sprite":
		return s.CanEditSprites
	case "variable":
		return s.CanEditVariables
	default:
		return s.CanEditBlocks
	}
}

// RequestLock claims an advisory lock on an element for the sender.
// Lock versions keep monotonically increasing across release and
// re-grant, so a version seen on an older grant can never reappear.
func (w *Workspace) RequestLock(conn *Conn, elementID, elementType string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil || elementID == "" {
		return
	}
	if !editPermission(w.perms.EffectiveFor(m.UserID), elementType) {
		conn.Send(protocol.Encode(protocol.LockDenied{
			Type:      protocol.MsgLockDenied,
			ElementID: elementID,
			LockedBy:  nil,
			Reason:    protocol.ReasonForbidden,
		}))
		return
	}

	lk := w.locks[elementID]
	if lk != nil && lk.Holder != m.UserID {
		holder := lk.Holder
		conn.Send(protocol.Encode(protocol.LockDenied{
			Type:      protocol.MsgLockDenied,
			ElementID: elementID,
			LockedBy:  &holder,
		}))
		return
	}

	version := w.lockVersions[elementID] + 1
	w.lockVersions[elementID] = version
	if lk == nil {
		metrics.LocksHeld.Inc()
	}
	w.locks[elementID] = &Lock{Holder: m.UserID, Version: version, ElementType: elementType}

	conn.Send(protocol.Encode(protocol.LockGranted{
		Type:      protocol.MsgLockGranted,
		ElementID: elementID,
		Version:   version,
	}))
	w.broadcastLocked(m.UserID, protocol.Encode(protocol.ElementLocked{
		Type:        protocol.MsgElementLocked,
		ElementID:   elementID,
		LockedBy:    m.UserID,
		Version:     version,
		ElementType: elementType,
	}))
}

// ReleaseLock drops the sender's lock on an element. Releases of locks
// the sender does not hold are ignored.
func (w *Workspace) ReleaseLock(conn *Conn, elementID string, finalPosition json.RawMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	lk := w.locks[elementID]
	if lk == nil || lk.Holder != m.UserID {
		slog.Debug("release ignored", "workspace", w.id, "user", m.UserID, "element", elementID)
		return
	}

	delete(w.locks, elementID)
	metrics.LocksHeld.Dec()

	w.broadcastLocked(m.UserID, protocol.Encode(protocol.ElementUnlocked{
		Type:          protocol.MsgElementUnlocked,
		ElementID:     elementID,
		UserID:        m.UserID,
		FinalPosition: finalPosition,
	}))
}

// releaseLocksLocked drops every lock held by userID, announcing each
// unlock to the remaining members. Callers hold w.mu.
func (w *Workspace) releaseLocksLocked(userID string) {
	for elementID, lk := range w.locks {
		if lk.Holder != userID {
			continue
		}
		delete(w.locks, elementID)
		metrics.LocksHeld.Dec()
		w.broadcastLocked(userID, protocol.Encode(protocol.ElementUnlocked{
			Type:      protocol.MsgElementUnlocked,
			ElementID: elementID,
			UserID:    userID,
		}))
	}
}

// LockHolder reports the current holder and version of an element lock.
func (w *Workspace) LockHolder(elementID string) (holder string, version int64, held bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lk := w.locks[elementID]
	if lk == nil {
		return "", 0, false
	}
	return lk.Holder, lk.Version, true
}
