// Package protocol defines the JSON frames exchanged over a workspace
// socket. Every frame is a top-level object with a string "type"
// discriminator; inbound frames are modeled as one struct per message
// kind and decoded in two passes (envelope, then full frame).
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	MsgAuth                   = "auth"
	MsgRequestSharedState     = "request_shared_state"
	MsgRequestTeacherRole     = "request_teacher_role"
	MsgUpdateUsername         = "update_username"
	MsgUpdateGlobalPermission = "update_global_permission"
	MsgUpdateUserPermission   = "update_user_permission"
	MsgApplyPresetMode        = "apply_preset_mode"
	MsgRequestLock            = "request_lock"
	MsgReleaseLock            = "release_lock"
	MsgUpdateCoords           = "update_coords"
	MsgElementDrag            = "element_drag"
	MsgBlockMove              = "block_move"
	MsgBlockFocus             = "block_focus"
	MsgSpriteUpdate           = "sprite_update"
	MsgStackMove              = "stack_move"
	MsgAction                 = "action"
	MsgCreateElement          = "create_element"
	MsgDeleteElement          = "delete_element"
	MsgWorkspaceSnapshot      = "workspace_snapshot"
	MsgChat                   = "chat"
	MsgKickUser               = "kick_user"
)

// Outbound message types.
const (
	MsgAuthSuccess        = "auth_success"
	MsgUserJoined         = "user_joined"
	MsgUserLeft           = "user_left"
	MsgUserUpdated        = "user_updated"
	MsgPermissionsUpdated = "permissions_updated"
	MsgSharedState        = "shared_state"
	MsgLockGranted        = "lock_granted"
	MsgLockDenied         = "lock_denied"
	MsgElementLocked      = "element_locked"
	MsgElementUnlocked    = "element_unlocked"
	MsgCoordsUpdate       = "coords_update"
	MsgElementCreated     = "element_created"
	MsgElementDeleted     = "element_deleted"
	MsgConflict           = "conflict"
	MsgError              = "error"
)

// Application-level WebSocket close codes.
const (
	CloseReconnected       = 4001 // prior socket replaced by a reconnect
	CloseAdmissionRejected = 4003 // ticket missing/invalid/expired/mismatched/replayed
	CloseKicked            = 4004 // removed by a moderator
)

// Entity kinds with fixed names. Generic elements use their elementType
// string as the kind.
const (
	KindSpriteMetrics     = "sprite-metrics"
	KindWorkspaceSnapshot = "workspace-snapshot"
)

// MaxSnapshotChars bounds a workspace_snapshot payload.
const MaxSnapshotChars = 2_000_000

// Envelope is the first-pass decode of any inbound frame.
type Envelope struct {
	Type string `json:"type"`
}

// ETag formats the weak entity tag for (kind, id, version).
func ETag(kind, id string, version int64) string {
	return fmt.Sprintf("W/%q", fmt.Sprintf("%s:%s:%d", kind, id, version))
}

// IfMatchSatisfied reports whether an If-Match precondition admits a write
// against the current ETag. A missing value or literal "*" always matches.
func IfMatchSatisfied(ifMatch, current string) bool {
	return ifMatch == "" || ifMatch == "*" || ifMatch == current
}

// Encode marshals an outbound frame. Frames are built from plain structs
// and values that came through json.Unmarshal, so failure is a
// programming error.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return b
}

// Passthrough re-encodes a raw client frame for rebroadcast, stamping the
// authenticated sender's user id over any client-supplied value.
func Passthrough(raw []byte, userID string) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: passthrough decode: %w", err)
	}
	m["userId"] = userID
	return json.Marshal(m)
}

// ResolveElementID returns the shared-state key for create/delete frames.
// The explicit elementId wins; otherwise the payload is probed for the
// well-known id keys, with a name fallback for sprites. An empty result
// means the frame is broadcast without a shared-state write.
func ResolveElementID(explicit, elementType string, data map[string]any) string {
	if explicit != "" {
		return explicit
	}
	for _, k := range []string{"id", "elementId", "spriteId", "blockId", "variableId"} {
		if s := stringField(data, k); s != "" {
			return s
		}
	}
	if elementType == "sprite" {
		return stringField(data, "name")
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
