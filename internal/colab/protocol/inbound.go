package protocol

import "encoding/json"

// Precondition carries the optimistic-concurrency precondition of a
// mutation frame. "etag" is accepted as a legacy alias for "ifMatch".
type Precondition struct {
	IfMatch string `json:"ifMatch,omitempty"`
	Etag    string `json:"etag,omitempty"`
}

// Value returns the effective precondition, preferring ifMatch.
func (p Precondition) Value() string {
	if p.IfMatch != "" {
		return p.IfMatch
	}
	return p.Etag
}

// AuthRequest is the admission frame. Workspace and UserID, when present,
// must match the ticket claims.
type AuthRequest struct {
	Token     string `json:"token"`
	Workspace string `json:"workspace,omitempty"`
	Username  string `json:"username,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// UpdateUsername sets the sender's display name.
type UpdateUsername struct {
	Username string `json:"username"`
}

// UpdateGlobalPermission flips one key of the workspace globals.
type UpdateGlobalPermission struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

// UpdateUserPermission flips one key of a member's override.
type UpdateUserPermission struct {
	TargetUserID string `json:"targetUserId"`
	Key          string `json:"key"`
	Value        bool   `json:"value"`
}

// ApplyPresetMode replaces the workspace globals with a preset.
type ApplyPresetMode struct {
	Mode string `json:"mode"`
}

// RequestLock asks for the advisory lock on an element.
type RequestLock struct {
	ElementID   string `json:"elementId"`
	ElementType string `json:"elementType,omitempty"`
}

// ReleaseLock gives up a held lock. FinalPosition, when present, rides
// along on the element_unlocked broadcast.
type ReleaseLock struct {
	ElementID     string          `json:"elementId"`
	FinalPosition json.RawMessage `json:"finalPosition,omitempty"`
}

// Coords is a cursor position in canvas coordinates.
type Coords struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UpdateCoords moves the sender's cursor.
type UpdateCoords struct {
	Coords Coords `json:"coords"`
}

// BlockMove repositions a block, gated by lock, permission and If-Match.
type BlockMove struct {
	BlockID  string          `json:"blockId"`
	Position json.RawMessage `json:"position,omitempty"`
	Precondition
}

// SpriteUpdate rewrites a sprite's metrics, gated like BlockMove but
// checking both the sprite element and its metrics entity.
type SpriteUpdate struct {
	SpriteID string         `json:"spriteId"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	Precondition
}

// CreateElement inserts or replaces a shared element.
type CreateElement struct {
	ElementID   string         `json:"elementId,omitempty"`
	ElementType string         `json:"elementType"`
	ElementData map[string]any `json:"elementData,omitempty"`
	Precondition
}

// DeleteElement removes a shared element and its derived entities.
type DeleteElement struct {
	ElementID   string         `json:"elementId,omitempty"`
	ElementType string         `json:"elementType"`
	ElementData map[string]any `json:"elementData,omitempty"`
	Precondition
}

// WorkspaceSnapshot stores the serialized editor state for one sprite.
type WorkspaceSnapshot struct {
	SpriteID string `json:"spriteId,omitempty"`
	ID       string `json:"id,omitempty"`
	Snapshot string `json:"snapshot"`
	Precondition
}

// Key returns the sprite id this snapshot is stored under.
func (w WorkspaceSnapshot) Key() string {
	switch {
	case w.SpriteID != "":
		return w.SpriteID
	case w.ID != "":
		return w.ID
	default:
		return "default"
	}
}

// Chat posts a message to the workspace.
type Chat struct {
	Message string `json:"message"`
}

// KickUser removes another member from the workspace.
type KickUser struct {
	TargetUserID string `json:"targetUserId"`
}
