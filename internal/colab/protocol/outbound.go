package protocol

import (
	"encoding/json"

	"github.com/blockwise/colabd/internal/colab/permission"
)

// UserInfo describes one member in presence lists and join broadcasts.
type UserInfo struct {
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	Role        permission.Role `json:"role"`
	Permissions permission.Set  `json:"permissions"`
	IsOwner     bool            `json:"isOwner"`
}

// EntityMeta is the versioning metadata attached to every shared entity.
type EntityMeta struct {
	Version       int64  `json:"version"`
	Etag          string `json:"etag"`
	FirstEditedBy string `json:"firstEditedBy"`
	FirstEditedAt int64  `json:"firstEditedAt"`
	UpdatedBy     string `json:"updatedBy"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// ElementState is one shared element in a state snapshot.
type ElementState struct {
	ElementID   string         `json:"elementId"`
	ElementType string         `json:"elementType"`
	ElementData map[string]any `json:"elementData,omitempty"`
	EntityMeta
}

// SpriteMetricsState is one sprite's metrics in a state snapshot.
type SpriteMetricsState struct {
	SpriteID string         `json:"spriteId"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	EntityMeta
}

// SnapshotState is one stored workspace snapshot in a state snapshot.
type SnapshotState struct {
	SpriteID string `json:"spriteId"`
	Snapshot string `json:"snapshot"`
	EntityMeta
}

// SharedState is the full shared state of a workspace.
type SharedState struct {
	Elements           []ElementState       `json:"elements"`
	SpriteMetrics      []SpriteMetricsState `json:"spriteMetrics"`
	WorkspaceSnapshots []SnapshotState      `json:"workspaceSnapshots"`
}

// AuthSuccess is the admission reply.
type AuthSuccess struct {
	Type        string          `json:"type"`
	UserID      string          `json:"userId"`
	WorkspaceID string          `json:"workspaceId"`
	Permissions permission.Set  `json:"permissions"`
	Role        permission.Role `json:"role"`
	IsOwner     bool            `json:"isOwner"`
	SharedState SharedState     `json:"sharedState"`
	Users       []UserInfo      `json:"users"`
}

// SharedStateReply answers request_shared_state.
type SharedStateReply struct {
	Type string `json:"type"`
	SharedState
}

// UserJoined announces a new member to the rest of the workspace.
type UserJoined struct {
	Type string `json:"type"`
	UserInfo
}

// UserUpdated announces a member change (name, permissions, reconnect).
type UserUpdated struct {
	Type string `json:"type"`
	UserInfo
}

// UserLeft announces a departed member.
type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// PermissionsUpdated delivers a member's own new effective set.
type PermissionsUpdated struct {
	Type        string          `json:"type"`
	Permissions permission.Set  `json:"permissions"`
	Role        permission.Role `json:"role,omitempty"`
	Source      string          `json:"source,omitempty"`
	Mode        string          `json:"mode,omitempty"`
}

// Sources for PermissionsUpdated.
const (
	SourceGlobalUpdate = "global_update"
	SourceUserUpdate   = "user_update"
	SourcePresetUpdate = "preset_update"
	SourceRoleUpdate   = "role_update"
)

// LockGranted answers a successful request_lock.
type LockGranted struct {
	Type      string `json:"type"`
	ElementID string `json:"elementId"`
	Version   int64  `json:"version"`
}

// LockDenied answers a refused request_lock. LockedBy is null when the
// request was denied for missing edit permission.
type LockDenied struct {
	Type      string  `json:"type"`
	ElementID string  `json:"elementId"`
	LockedBy  *string `json:"lockedBy"`
	Reason    string  `json:"reason,omitempty"`
}

// ReasonForbidden marks a lock denial caused by missing edit permission.
const ReasonForbidden = "forbidden"

// ElementLocked tells other members an element is now held.
type ElementLocked struct {
	Type        string `json:"type"`
	ElementID   string `json:"elementId"`
	LockedBy    string `json:"lockedBy"`
	Version     int64  `json:"version"`
	ElementType string `json:"elementType,omitempty"`
}

// ElementUnlocked tells other members a lock was released.
type ElementUnlocked struct {
	Type          string          `json:"type"`
	ElementID     string          `json:"elementId"`
	UserID        string          `json:"userId,omitempty"`
	FinalPosition json.RawMessage `json:"finalPosition,omitempty"`
}

// CoordsUpdate carries a member's cursor position.
type CoordsUpdate struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Coords Coords `json:"coords"`
}

// ElementCreated announces an inserted or replaced element. ETag fields
// are absent for legacy frames that resolved no element id.
type ElementCreated struct {
	Type          string         `json:"type"`
	UserID        string         `json:"userId"`
	ElementID     string         `json:"elementId,omitempty"`
	ElementType   string         `json:"elementType"`
	ElementData   map[string]any `json:"elementData,omitempty"`
	Etag          string         `json:"etag,omitempty"`
	Version       int64          `json:"version,omitempty"`
	FirstEditedBy string         `json:"firstEditedBy,omitempty"`
	FirstEditedAt int64          `json:"firstEditedAt,omitempty"`
}

// ElementDeleted announces a removed element.
type ElementDeleted struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	ElementID   string `json:"elementId,omitempty"`
	ElementType string `json:"elementType,omitempty"`
}

// BlockMoved is the block_move broadcast.
type BlockMoved struct {
	Type          string          `json:"type"`
	UserID        string          `json:"userId"`
	BlockID       string          `json:"blockId"`
	Position      json.RawMessage `json:"position,omitempty"`
	Etag          string          `json:"etag"`
	Version       int64           `json:"version"`
	FirstEditedBy string          `json:"firstEditedBy"`
	FirstEditedAt int64           `json:"firstEditedAt"`
}

// SpriteUpdated is the sprite_update broadcast; Etag/Version describe the
// sprite-metrics entity.
type SpriteUpdated struct {
	Type          string         `json:"type"`
	UserID        string         `json:"userId"`
	SpriteID      string         `json:"spriteId"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	Etag          string         `json:"etag"`
	Version       int64          `json:"version"`
	FirstEditedBy string         `json:"firstEditedBy"`
	FirstEditedAt int64          `json:"firstEditedAt"`
}

// SnapshotSaved is the workspace_snapshot broadcast.
type SnapshotSaved struct {
	Type          string `json:"type"`
	UserID        string `json:"userId"`
	SpriteID      string `json:"spriteId"`
	Snapshot      string `json:"snapshot"`
	Etag          string `json:"etag"`
	Version       int64  `json:"version"`
	FirstEditedBy string `json:"firstEditedBy"`
	FirstEditedAt int64  `json:"firstEditedAt"`
}

// Conflict reports an If-Match failure. CurrentEtag is empty when the
// precondition referenced an entity that does not exist.
type Conflict struct {
	Type          string `json:"type"`
	Reason        string `json:"reason"`
	EntityType    string `json:"entityType"`
	EntityID      string `json:"entityId"`
	IfMatch       string `json:"ifMatch"`
	CurrentEtag   string `json:"currentEtag"`
	FirstEditedBy string `json:"firstEditedBy,omitempty"`
	FirstEditedAt int64  `json:"firstEditedAt,omitempty"`
}

// ReasonEtagMismatch is the only conflict reason.
const ReasonEtagMismatch = "etag_mismatch"

// ErrorFrame carries a human-readable failure message.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatMessage is the chat broadcast.
type ChatMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
