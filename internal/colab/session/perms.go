package session

import (
	"log/slog"

	"github.com/blockwise/colabd/internal/colab/permission"
	"github.com/blockwise/colabd/internal/colab/protocol"
)

// RequestTeacherRole re-asserts the sender's elevated template,
// discarding any per-user override a prior session left behind. Members
// whose role carries no elevation get an error frame.
func (w *Workspace) RequestTeacherRole(conn *Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}

	switch w.perms.Role(m.UserID) {
	case permission.RoleAdmin:
		w.perms.SetUserAsAdmin(m.UserID)
	case permission.RoleTeacher:
		w.perms.SetUserAsTeacher(m.UserID)
	default:
		conn.Send(protocol.Encode(protocol.ErrorFrame{
			Type:    protocol.MsgError,
			Message: "Role does not allow teacher permissions",
		}))
		return
	}

	conn.Send(protocol.Encode(protocol.PermissionsUpdated{
		Type:        protocol.MsgPermissionsUpdated,
		Permissions: w.perms.EffectiveFor(m.UserID),
		Role:        w.perms.Role(m.UserID),
		Source:      protocol.SourceRoleUpdate,
	}))
	w.broadcastLocked("", protocol.Encode(protocol.UserUpdated{
		Type:     protocol.MsgUserUpdated,
		UserInfo: w.userInfoLocked(m),
	}))
}

// UpdateGlobalPermission flips one key on the workspace's global
// permission set. Every member gets a permissions_updated with their
// own recomputed effective set, since overrides and elevated roles
// shield some members from the change, plus a user_updated per member
// so roster views track everyone's effective sets.
func (w *Workspace) UpdateGlobalPermission(conn *Conn, key string, value bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	if !w.perms.EffectiveFor(m.UserID).CanChangePermissions {
		slog.Debug("global permission change denied", "workspace", w.id, "user", m.UserID)
		return
	}
	if !w.perms.UpdateGlobal(key, value) {
		slog.Warn("unknown permission key", "workspace", w.id, "key", key)
		return
	}

	for _, member := range w.members {
		member.Conn.Send(protocol.Encode(protocol.PermissionsUpdated{
			Type:        protocol.MsgPermissionsUpdated,
			Permissions: w.perms.EffectiveFor(member.UserID),
			Source:      protocol.SourceGlobalUpdate,
		}))
	}
	for _, member := range w.members {
		w.broadcastLocked("", protocol.Encode(protocol.UserUpdated{
			Type:     protocol.MsgUserUpdated,
			UserInfo: w.userInfoLocked(member),
		}))
	}
	slog.Info("global permission updated", "workspace", w.id, "key", key, "value", value, "by", m.UserID)
}

// UpdateUserPermission sets a per-user override key for one member.
func (w *Workspace) UpdateUserPermission(conn *Conn, targetID, key string, value bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	if !w.perms.EffectiveFor(m.UserID).CanChangePermissions {
		slog.Debug("user permission change denied", "workspace", w.id, "user", m.UserID, "target", targetID)
		return
	}
	if targetID == "" {
		return
	}
	if !w.perms.UpdateUser(targetID, key, value) {
		slog.Warn("unknown permission key", "workspace", w.id, "key", key)
		return
	}

	if target := w.members[targetID]; target != nil {
		target.Conn.Send(protocol.Encode(protocol.PermissionsUpdated{
			Type:        protocol.MsgPermissionsUpdated,
			Permissions: w.perms.EffectiveFor(targetID),
			Source:      protocol.SourceUserUpdate,
		}))
		w.broadcastLocked("", protocol.Encode(protocol.UserUpdated{
			Type:     protocol.MsgUserUpdated,
			UserInfo: w.userInfoLocked(target),
		}))
	}
	slog.Info("user permission updated", "workspace", w.id, "target", targetID, "key", key, "value", value, "by", m.UserID)
}

// ApplyPresetMode swaps the global permission set for a named preset
// template. Unknown modes answer with an error frame.
func (w *Workspace) ApplyPresetMode(conn *Conn, mode string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.memberFor(conn)
	if m == nil {
		return
	}
	if !w.perms.EffectiveFor(m.UserID).CanChangePermissions {
		slog.Debug("preset change denied", "workspace", w.id, "user", m.UserID, "mode", mode)
		return
	}
	if !w.perms.ApplyPreset(mode) {
		conn.Send(protocol.Encode(protocol.ErrorFrame{
			Type:    protocol.MsgError,
			Message: "Unknown preset mode",
		}))
		return
	}

	for _, member := range w.members {
		member.Conn.Send(protocol.Encode(protocol.PermissionsUpdated{
			Type:        protocol.MsgPermissionsUpdated,
			Permissions: w.perms.EffectiveFor(member.UserID),
			Source:      protocol.SourcePresetUpdate,
			Mode:        mode,
		}))
	}
	slog.Info("preset applied", "workspace", w.id, "mode", mode, "by", m.UserID)
}

// EffectivePermissions resolves the permission set a member currently
// operates under.
func (w *Workspace) EffectivePermissions(userID string) permission.Set {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.perms.EffectiveFor(userID)
}

// Role returns a member's role as asserted by their join ticket.
func (w *Workspace) Role(userID string) permission.Role {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.perms.Role(userID)
}

// PresetMode returns the last applied preset mode, or empty when the
// globals were never swapped by a preset.
func (w *Workspace) PresetMode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.perms.PresetMode()
}
