package session

import (
	"encoding/json"
	"log/slog"
	"unicode/utf8"

	"github.com/blockwise/colabd/internal/colab/protocol"
	"github.com/blockwise/colabd/internal/metrics"
)

// Every shared-state mutation runs the same gauntlet under w.mu: lock
// check, permission check, If-Match gate, then the last-writer-wins
// apply and broadcast. Lock and permission failures drop the frame
// silently so a laggy client racing a teacher's permission flip does
// not get spammed; precondition failures answer with a conflict frame
// because the sender explicitly asked for the check.

// lockedByOther reports whether another member holds the lock on
// elementID. Callers hold w.mu.
func (w *Workspace) lockedByOther(elementID, userID string) bool {
	lk := w.locks[elementID]
	return lk != nil && lk.Holder != userID
}

func (w *Workspace) sendConflict(conn *Conn, entityType, entityID, ifMatch, current string, meta Meta) {
	metrics.ConflictsTotal.Inc()
	conn.Send(protocol.Encode(protocol.Conflict{
		Type:          protocol.MsgConflict,
		Reason:        protocol.ReasonEtagMismatch,
		EntityType:    entityType,
		EntityID:      entityID,
		IfMatch:       ifMatch,
		CurrentEtag:   current,
		FirstEditedBy: meta.FirstEditedBy,
		FirstEditedAt: meta.FirstEditedAt,
	}))
}

// CreateElement inserts or replaces an element. Frames that carry no
// resolvable id are broadcast without touching shared state, matching
// clients from before elements were tracked server-side.
func (w *Workspace) CreateElement(conn *Conn, f protocol.CreateElement) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	elementID := protocol.ResolveElementID(f.ElementID, f.ElementType, f.ElementData)
	if w.lockedByOther(elementID, m.UserID) {
		return
	}
	if !editPermission(w.perms.EffectiveFor(m.UserID), f.ElementType) {
		slog.Debug("create denied", "workspace", w.id, "user", m.UserID, "type", f.ElementType)
		return
	}

	if elementID == "" {
		w.broadcastLocked("", protocol.Encode(protocol.ElementCreated{
			Type:        protocol.MsgElementCreated,
			UserID:      m.UserID,
			ElementType: f.ElementType,
			ElementData: f.ElementData,
		}))
		return
	}

	pre := f.Precondition.Value()
	existing := w.elements[elementID]
	current := ""
	var meta Meta
	if existing != nil {
		current = existing.Etag()
		meta = existing.Meta
	}
	if !protocol.IfMatchSatisfied(pre, current) {
		w.sendConflict(conn, f.ElementType, elementID, pre, current, meta)
		return
	}

	e := existing
	if e == nil {
		e = &Element{ID: elementID}
		w.elements[elementID] = e
	}
	e.Type = f.ElementType
	e.Data = f.ElementData
	e.touch(m.UserID, nowMilli())

	w.broadcastLocked("", protocol.Encode(protocol.ElementCreated{
		Type:          protocol.MsgElementCreated,
		UserID:        m.UserID,
		ElementID:     elementID,
		ElementType:   e.Type,
		ElementData:   e.Data,
		Etag:          e.Etag(),
		Version:       e.Version,
		FirstEditedBy: e.FirstEditedBy,
		FirstEditedAt: e.FirstEditedAt,
	}))
}

// DeleteElement removes an element and any sprite metrics and snapshot
// keyed by the same id. Deleting an absent element succeeds against an
// empty or wildcard precondition.
func (w *Workspace) DeleteElement(conn *Conn, f protocol.DeleteElement) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	elementID := protocol.ResolveElementID(f.ElementID, f.ElementType, f.ElementData)
	if w.lockedByOther(elementID, m.UserID) {
		return
	}
	if !editPermission(w.perms.EffectiveFor(m.UserID), f.ElementType) {
		slog.Debug("delete denied", "workspace", w.id, "user", m.UserID, "type", f.ElementType)
		return
	}

	if elementID == "" {
		w.broadcastLocked("", protocol.Encode(protocol.ElementDeleted{
			Type:        protocol.MsgElementDeleted,
			UserID:      m.UserID,
			ElementType: f.ElementType,
		}))
		return
	}

	pre := f.Precondition.Value()
	existing := w.elements[elementID]
	current := ""
	elementType := f.ElementType
	var meta Meta
	if existing != nil {
		current = existing.Etag()
		elementType = existing.Type
		meta = existing.Meta
	}
	if !protocol.IfMatchSatisfied(pre, current) {
		w.sendConflict(conn, elementType, elementID, pre, current, meta)
		return
	}

	delete(w.elements, elementID)
	delete(w.spriteMetrics, elementID)
	delete(w.snapshots, elementID)

	w.broadcastLocked("", protocol.Encode(protocol.ElementDeleted{
		Type:        protocol.MsgElementDeleted,
		UserID:      m.UserID,
		ElementID:   elementID,
		ElementType: elementType,
	}))
}

// BlockMove commits a block position, upserting the block element when
// it is not tracked yet.
func (w *Workspace) BlockMove(conn *Conn, f protocol.BlockMove) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil || f.BlockID == "" {
		return
	}
	if w.lockedByOther(f.BlockID, m.UserID) {
		return
	}
	if !w.perms.EffectiveFor(m.UserID).CanEditBlocks {
		slog.Debug("block move denied", "workspace", w.id, "user", m.UserID)
		return
	}

	pre := f.Precondition.Value()
	existing := w.elements[f.BlockID]
	current := ""
	var meta Meta
	if existing != nil {
		current = existing.Etag()
		meta = existing.Meta
	}
	if !protocol.IfMatchSatisfied(pre, current) {
		w.sendConflict(conn, "block", f.BlockID, pre, current, meta)
		return
	}

	e := existing
	if e == nil {
		e = &Element{ID: f.BlockID, Type: "block"}
		w.elements[f.BlockID] = e
	}
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	if len(f.Position) > 0 {
		var pos any
		if err := json.Unmarshal(f.Position, &pos); err == nil {
			e.Data["position"] = pos
		}
	}
	e.touch(m.UserID, nowMilli())

	w.broadcastLocked("", protocol.Encode(protocol.BlockMoved{
		Type:          protocol.MsgBlockMove,
		UserID:        m.UserID,
		BlockID:       f.BlockID,
		Position:      f.Position,
		Etag:          e.Etag(),
		Version:       e.Version,
		FirstEditedBy: e.FirstEditedBy,
		FirstEditedAt: e.FirstEditedAt,
	}))
}

// SpriteUpdate commits sprite metrics. The precondition may match
// either the metrics entity or the sprite's element entity, since
// clients hold whichever etag they saw last; a passing write bumps the
// metrics entity and, when tracked, the element too.
func (w *Workspace) SpriteUpdate(conn *Conn, f protocol.SpriteUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil || f.SpriteID == "" {
		return
	}
	if w.lockedByOther(f.SpriteID, m.UserID) {
		return
	}
	if !w.perms.EffectiveFor(m.UserID).CanEditSprites {
		slog.Debug("sprite update denied", "workspace", w.id, "user", m.UserID)
		return
	}

	pre := f.Precondition.Value()
	met := w.spriteMetrics[f.SpriteID]
	elem := w.elements[f.SpriteID]
	metCurrent := ""
	if met != nil {
		metCurrent = met.Etag()
	}
	ok := protocol.IfMatchSatisfied(pre, metCurrent)
	if !ok && elem != nil {
		ok = protocol.IfMatchSatisfied(pre, elem.Etag())
	}
	if !ok {
		entityType := protocol.KindSpriteMetrics
		current := metCurrent
		var meta Meta
		if met != nil {
			meta = met.Meta
		} else if elem != nil {
			entityType = elem.Type
			current = elem.Etag()
			meta = elem.Meta
		}
		w.sendConflict(conn, entityType, f.SpriteID, pre, current, meta)
		return
	}

	ts := nowMilli()
	if met == nil {
		met = &SpriteMetrics{SpriteID: f.SpriteID}
		w.spriteMetrics[f.SpriteID] = met
	}
	if f.Metrics != nil {
		met.Metrics = f.Metrics
	}
	met.touch(m.UserID, ts)
	if elem != nil {
		elem.touch(m.UserID, ts)
	}

	w.broadcastLocked("", protocol.Encode(protocol.SpriteUpdated{
		Type:          protocol.MsgSpriteUpdate,
		UserID:        m.UserID,
		SpriteID:      f.SpriteID,
		Metrics:       met.Metrics,
		Etag:          met.Etag(),
		Version:       met.Version,
		FirstEditedBy: met.FirstEditedBy,
		FirstEditedAt: met.FirstEditedAt,
	}))
}

// SaveSnapshot commits a serialized workspace snapshot under the
// sender's sprite key. Bodies above the rune limit are refused with an
// error frame before anything is written.
func (w *Workspace) SaveSnapshot(conn *Conn, f protocol.WorkspaceSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	if !w.perms.EffectiveFor(m.UserID).CanEditBlocks {
		slog.Debug("snapshot denied", "workspace", w.id, "user", m.UserID)
		return
	}
	if utf8.RuneCountInString(f.Snapshot) > protocol.MaxSnapshotChars {
		conn.Send(protocol.Encode(protocol.ErrorFrame{
			Type:    protocol.MsgError,
			Message: "Workspace snapshot too large",
		}))
		return
	}

	key := f.Key()
	pre := f.Precondition.Value()
	existing := w.snapshots[key]
	current := ""
	var meta Meta
	if existing != nil {
		current = existing.Etag()
		meta = existing.Meta
	}
	if !protocol.IfMatchSatisfied(pre, current) {
		w.sendConflict(conn, protocol.KindWorkspaceSnapshot, key, pre, current, meta)
		return
	}

	s := existing
	if s == nil {
		s = &Snapshot{SpriteID: key}
		w.snapshots[key] = s
	}
	s.setText(f.Snapshot)
	s.touch(m.UserID, nowMilli())

	w.broadcastLocked("", protocol.Encode(protocol.SnapshotSaved{
		Type:          protocol.MsgWorkspaceSnapshot,
		UserID:        m.UserID,
		SpriteID:      key,
		Snapshot:      f.Snapshot,
		Etag:          s.Etag(),
		Version:       s.Version,
		FirstEditedBy: s.FirstEditedBy,
		FirstEditedAt: s.FirstEditedAt,
	}))
}

// ElementByID returns a copy of one element's state.
func (w *Workspace) ElementByID(elementID string) (Element, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.elements[elementID]
	if e == nil {
		return Element{}, false
	}
	return *e, true
}

// SpriteMetricsByID returns a copy of one sprite's metrics entity.
func (w *Workspace) SpriteMetricsByID(spriteID string) (SpriteMetrics, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.spriteMetrics[spriteID]
	if s == nil {
		return SpriteMetrics{}, false
	}
	return *s, true
}

// SnapshotText returns the inflated snapshot body for a sprite key.
func (w *Workspace) SnapshotText(spriteID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.snapshots[spriteID]
	if s == nil {
		return "", false
	}
	text, err := s.Text()
	if err != nil {
		slog.Error("inflate snapshot", "workspace", w.id, "sprite", spriteID, "error", err)
		return "", false
	}
	return text, true
}
