// Package session owns the in-RAM state of live workspaces: membership,
// advisory element locks, versioned shared entities and the fan-out path
// between members.
//
// Every workspace follows a single-writer discipline: one mutex guards
// all of its maps, each inbound command runs start-to-finish under it,
// and outbound frames are encoded and enqueued inside the critical
// section so recipients observe one sender's mutations in commit order.
// Socket writes happen outside, on each connection's write pump.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blockwise/colabd/internal/colab/id"
	"github.com/blockwise/colabd/internal/colab/permission"
	"github.com/blockwise/colabd/internal/colab/protocol"
	"github.com/blockwise/colabd/internal/metrics"
)

// Lock is an advisory exclusive claim on an element id.
type Lock struct {
	Holder      string
	Version     int64
	ElementType string
}

// Member is one authenticated connection in a workspace.
type Member struct {
	UserID   string
	Username string
	Coords   protocol.Coords
	JoinedAt time.Time
	Conn     *Conn
}

// MemberInfo is the presence row served by the workspace info endpoint.
type MemberInfo struct {
	UserID string          `json:"userId"`
	Coords protocol.Coords `json:"coords"`
}

// Workspace is one live collaboration room.
type Workspace struct {
	id string

	mu            sync.Mutex
	owner         string
	members       map[string]*Member
	locks         map[string]*Lock
	lockVersions  map[string]int64 // survives release so re-grants keep incrementing
	elements      map[string]*Element
	spriteMetrics map[string]*SpriteMetrics
	snapshots     map[string]*Snapshot
	perms         *permission.State
}

func newWorkspace(wsID string) *Workspace {
	return &Workspace{
		id:            wsID,
		members:       make(map[string]*Member),
		locks:         make(map[string]*Lock),
		lockVersions:  make(map[string]int64),
		elements:      make(map[string]*Element),
		spriteMetrics: make(map[string]*SpriteMetrics),
		snapshots:     make(map[string]*Snapshot),
		perms:         permission.NewState(),
	}
}

// ID returns the workspace id.
func (w *Workspace) ID() string {
	return w.id
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

// memberFor resolves the member a command came from, guarding against
// stale connections that were already replaced by a reconnect.
// Callers hold w.mu.
func (w *Workspace) memberFor(conn *Conn) *Member {
	m := w.members[conn.UserID]
	if m == nil || m.Conn != conn {
		return nil
	}
	return m
}

// broadcastLocked fans a pre-encoded frame out to every member, skipping
// senderID when non-empty. Callers hold w.mu.
func (w *Workspace) broadcastLocked(senderID string, frame []byte) {
	for _, m := range w.members {
		if senderID != "" && m.UserID == senderID {
			continue
		}
		m.Conn.Send(frame)
	}
}

// Join admits an authenticated connection as a member, replacing any
// prior connection for the same user id. The prior connection, if any,
// is returned already flagged for skip-cleanup; the caller must close it
// outside the workspace lock.
func (w *Workspace) Join(conn *Conn, userID, username string, role permission.Role) (replaced *Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prior := w.members[userID]
	if prior != nil {
		prior.Conn.MarkSkipCleanup()
		replaced = prior.Conn
	}

	conn.UserID = userID
	conn.WorkspaceID = w.id

	w.perms.SetRole(userID, role)
	if w.owner == "" {
		w.owner = userID
	}

	m := &Member{
		UserID:   userID,
		Username: username,
		JoinedAt: time.Now(),
		Conn:     conn,
	}
	if prior != nil {
		// Keep presence continuity across the takeover.
		m.Coords = prior.Coords
		if username == "" {
			m.Username = prior.Username
		}
	}
	w.members[userID] = m

	conn.Send(protocol.Encode(protocol.AuthSuccess{
		Type:        protocol.MsgAuthSuccess,
		UserID:      userID,
		WorkspaceID: w.id,
		Permissions: w.perms.EffectiveFor(userID),
		Role:        w.perms.Role(userID),
		IsOwner:     userID == w.owner,
		SharedState: w.sharedStateLocked(),
		Users:       w.usersLocked(),
	}))

	if prior != nil {
		w.broadcastLocked(userID, protocol.Encode(protocol.UserUpdated{
			Type:     protocol.MsgUserUpdated,
			UserInfo: w.userInfoLocked(m),
		}))
	} else {
		metrics.MembersActive.Inc()
		w.broadcastLocked(userID, protocol.Encode(protocol.UserJoined{
			Type:     protocol.MsgUserJoined,
			UserInfo: w.userInfoLocked(m),
		}))
	}

	slog.Info("member joined",
		"workspace", w.id,
		"user", userID,
		"role", role,
		"replaced", prior != nil,
	)
	return replaced
}

// Leave runs the disconnect cleanup for a connection: release held
// locks, drop the member and announce the departure. Connections flagged
// skip-cleanup (takeover, kick) and stale connections are ignored.
// empty reports whether the workspace has no members left.
func (w *Workspace) Leave(conn *Conn) (removed bool, empty bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if conn.SkipCleanup() {
		return false, len(w.members) == 0
	}
	m := w.memberFor(conn)
	if m == nil {
		return false, len(w.members) == 0
	}

	w.releaseLocksLocked(m.UserID)
	delete(w.members, m.UserID)
	metrics.MembersActive.Dec()

	w.broadcastLocked(m.UserID, protocol.Encode(protocol.UserLeft{
		Type:   protocol.MsgUserLeft,
		UserID: m.UserID,
	}))

	slog.Info("member left", "workspace", w.id, "user", m.UserID)
	return true, len(w.members) == 0
}

// Kick removes another member. The kicked connection is returned already
// flagged for skip-cleanup; the caller must close it outside the
// workspace lock. errMsg carries the error-frame text for invalid
// targets and is empty otherwise.
func (w *Workspace) Kick(conn *Conn, targetID string) (kicked *Conn, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return nil, ""
	}
	if !w.perms.EffectiveFor(m.UserID).CanKickUsers {
		slog.Debug("kick denied", "workspace", w.id, "user", m.UserID, "target", targetID)
		return nil, ""
	}
	if targetID == m.UserID {
		return nil, "Cannot kick yourself"
	}
	target := w.members[targetID]
	if target == nil {
		return nil, "User not found"
	}

	target.Conn.MarkSkipCleanup()
	w.releaseLocksLocked(targetID)
	delete(w.members, targetID)
	metrics.MembersActive.Dec()

	w.broadcastLocked(targetID, protocol.Encode(protocol.UserLeft{
		Type:   protocol.MsgUserLeft,
		UserID: targetID,
	}))

	slog.Info("member kicked", "workspace", w.id, "user", targetID, "by", m.UserID)
	return target.Conn, ""
}

// UpdateCoords moves the sender's cursor and fans the position out to
// the other members.
func (w *Workspace) UpdateCoords(conn *Conn, coords protocol.Coords) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	m.Coords = coords

	w.broadcastLocked(m.UserID, protocol.Encode(protocol.CoordsUpdate{
		Type:   protocol.MsgCoordsUpdate,
		UserID: m.UserID,
		Coords: coords,
	}))
}

// UpdateUsername sets the sender's display name. The caller sanitizes;
// an empty name is dropped.
func (w *Workspace) UpdateUsername(conn *Conn, username string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil || username == "" {
		return
	}
	m.Username = username

	w.broadcastLocked("", protocol.Encode(protocol.UserUpdated{
		Type:     protocol.MsgUserUpdated,
		UserInfo: w.userInfoLocked(m),
	}))
}

// PostChat broadcasts a chat message from the sender. Requires canChat;
// the caller sanitizes the body.
func (w *Workspace) PostChat(conn *Conn, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil || message == "" {
		return
	}
	if !w.perms.EffectiveFor(m.UserID).CanChat {
		slog.Debug("chat denied", "workspace", w.id, "user", m.UserID)
		return
	}

	w.broadcastLocked("", protocol.Encode(protocol.ChatMessage{
		Type:      protocol.MsgChat,
		MessageID: id.Generate(),
		UserID:    m.UserID,
		Username:  m.Username,
		Message:   message,
		Timestamp: nowMilli(),
	}))
}

// SharedState replies with a snapshot of the workspace's shared state.
func (w *Workspace) SharedState(conn *Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.memberFor(conn) == nil {
		return
	}
	conn.Send(protocol.Encode(protocol.SharedStateReply{
		Type:        protocol.MsgSharedState,
		SharedState: w.sharedStateLocked(),
	}))
}

// BroadcastRaw fans a pre-encoded frame out to every member except
// senderID. Used for the pass-through message kinds.
func (w *Workspace) BroadcastRaw(senderID string, frame []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broadcastLocked(senderID, frame)
}

func (w *Workspace) userInfoLocked(m *Member) protocol.UserInfo {
	return protocol.UserInfo{
		UserID:      m.UserID,
		Username:    m.Username,
		Role:        w.perms.Role(m.UserID),
		Permissions: w.perms.EffectiveFor(m.UserID),
		IsOwner:     m.UserID == w.owner,
	}
}

func (w *Workspace) usersLocked() []protocol.UserInfo {
	users := make([]protocol.UserInfo, 0, len(w.members))
	for _, m := range w.members {
		users = append(users, w.userInfoLocked(m))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func (w *Workspace) sharedStateLocked() protocol.SharedState {
	st := protocol.SharedState{
		Elements:           make([]protocol.ElementState, 0, len(w.elements)),
		SpriteMetrics:      make([]protocol.SpriteMetricsState, 0, len(w.spriteMetrics)),
		WorkspaceSnapshots: make([]protocol.SnapshotState, 0, len(w.snapshots)),
	}
	for _, e := range w.elements {
		st.Elements = append(st.Elements, protocol.ElementState{
			ElementID:   e.ID,
			ElementType: e.Type,
			ElementData: e.Data,
			EntityMeta:  e.Meta.wire(e.Etag()),
		})
	}
	for _, s := range w.spriteMetrics {
		st.SpriteMetrics = append(st.SpriteMetrics, protocol.SpriteMetricsState{
			SpriteID:   s.SpriteID,
			Metrics:    s.Metrics,
			EntityMeta: s.Meta.wire(s.Etag()),
		})
	}
	for _, s := range w.snapshots {
		text, err := s.Text()
		if err != nil {
			slog.Error("inflate snapshot", "workspace", w.id, "sprite", s.SpriteID, "error", err)
			continue
		}
		st.WorkspaceSnapshots = append(st.WorkspaceSnapshots, protocol.SnapshotState{
			SpriteID:   s.SpriteID,
			Snapshot:   text,
			EntityMeta: s.Meta.wire(s.Etag()),
		})
	}
	sort.Slice(st.Elements, func(i, j int) bool { return st.Elements[i].ElementID < st.Elements[j].ElementID })
	sort.Slice(st.SpriteMetrics, func(i, j int) bool { return st.SpriteMetrics[i].SpriteID < st.SpriteMetrics[j].SpriteID })
	sort.Slice(st.WorkspaceSnapshots, func(i, j int) bool { return st.WorkspaceSnapshots[i].SpriteID < st.WorkspaceSnapshots[j].SpriteID })
	return st
}

// Empty reports whether the workspace has no members.
func (w *Workspace) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.members) == 0
}

// MemberCount returns the number of live members.
func (w *Workspace) MemberCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.members)
}

// Members returns the live member user ids, sorted.
func (w *Workspace) Members() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.members))
	for uid := range w.members {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	return ids
}

// Owner returns the user id of the first member admitted since the
// workspace was created.
func (w *Workspace) Owner() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owner
}

// Info returns the presence rows for the workspace info endpoint.
func (w *Workspace) Info() []MemberInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows := make([]MemberInfo, 0, len(w.members))
	for _, m := range w.members {
		rows = append(rows, MemberInfo{UserID: m.UserID, Coords: m.Coords})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows
}
