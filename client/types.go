package client

import (
	"github.com/blockwise/colabd/internal/colab/permission"
	"github.com/blockwise/colabd/internal/colab/protocol"
)

// Wire types re-exported so SDK users can name them without reaching
// into internal packages.
type (
	Welcome            = protocol.AuthSuccess
	SharedState        = protocol.SharedState
	ElementState       = protocol.ElementState
	SpriteMetricsState = protocol.SpriteMetricsState
	SnapshotState      = protocol.SnapshotState
	UserInfo           = protocol.UserInfo

	UserJoined         = protocol.UserJoined
	UserLeft           = protocol.UserLeft
	UserUpdated        = protocol.UserUpdated
	PermissionsUpdated = protocol.PermissionsUpdated
	LockGranted        = protocol.LockGranted
	LockDenied         = protocol.LockDenied
	ElementLocked      = protocol.ElementLocked
	ElementUnlocked    = protocol.ElementUnlocked
	CoordsUpdate       = protocol.CoordsUpdate
	ElementCreated     = protocol.ElementCreated
	ElementDeleted     = protocol.ElementDeleted
	BlockMoved         = protocol.BlockMoved
	SpriteUpdated      = protocol.SpriteUpdated
	SnapshotSaved      = protocol.SnapshotSaved
	Conflict           = protocol.Conflict
	ChatMessage        = protocol.ChatMessage
	ErrorFrame         = protocol.ErrorFrame

	Permissions = permission.Set
	Role        = permission.Role
)

// Frame type strings delivered to OnFrame.
const (
	MsgAuthSuccess        = protocol.MsgAuthSuccess
	MsgUserJoined         = protocol.MsgUserJoined
	MsgUserLeft           = protocol.MsgUserLeft
	MsgUserUpdated        = protocol.MsgUserUpdated
	MsgPermissionsUpdated = protocol.MsgPermissionsUpdated
	MsgSharedState        = protocol.MsgSharedState
	MsgLockGranted        = protocol.MsgLockGranted
	MsgLockDenied         = protocol.MsgLockDenied
	MsgElementLocked      = protocol.MsgElementLocked
	MsgElementUnlocked    = protocol.MsgElementUnlocked
	MsgCoordsUpdate       = protocol.MsgCoordsUpdate
	MsgElementCreated     = protocol.MsgElementCreated
	MsgElementDeleted     = protocol.MsgElementDeleted
	MsgBlockMove          = protocol.MsgBlockMove
	MsgSpriteUpdate       = protocol.MsgSpriteUpdate
	MsgWorkspaceSnapshot  = protocol.MsgWorkspaceSnapshot
	MsgChat               = protocol.MsgChat
	MsgConflict           = protocol.MsgConflict
	MsgError              = protocol.MsgError
)

// Application-level close codes the server may end a session with.
const (
	CloseReconnected       = protocol.CloseReconnected
	CloseAdmissionRejected = protocol.CloseAdmissionRejected
	CloseKicked            = protocol.CloseKicked
)
