// Package dispatch routes inbound client frames to workspace commands.
// It owns the admission handshake, per-frame decoding and the error
// replies the protocol prescribes; everything stateful happens inside
// the session package.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/blockwise/colabd/internal/colab/protocol"
	"github.com/blockwise/colabd/internal/colab/session"
	"github.com/blockwise/colabd/internal/colab/ticket"
	"github.com/blockwise/colabd/internal/colab/validate"
	"github.com/blockwise/colabd/internal/metrics"
)

// Dispatcher connects the transport to the session layer.
type Dispatcher struct {
	registry *session.Registry
	verifier *ticket.Verifier
}

// New creates a dispatcher over a workspace registry and a join-ticket
// verifier.
func New(registry *session.Registry, verifier *ticket.Verifier) *Dispatcher {
	return &Dispatcher{registry: registry, verifier: verifier}
}

// Registry exposes the workspace registry for the HTTP surface.
func (d *Dispatcher) Registry() *session.Registry {
	return d.registry
}

func errorFrame(message string) []byte {
	return protocol.Encode(protocol.ErrorFrame{Type: protocol.MsgError, Message: message})
}

// HandleFrame processes one inbound frame. A panic while handling is
// contained to the frame: the sender gets a generic error and the
// connection lives on.
func (d *Dispatcher) HandleFrame(conn *session.Conn, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic handling frame",
				"conn", conn.ID,
				"user", conn.UserID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			conn.Send(errorFrame("Internal server error"))
		}
	}()

	metrics.WSFramesReceivedTotal.Inc()

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		conn.Send(errorFrame("Invalid message format"))
		return
	}

	if !conn.Authenticated() {
		if env.Type != protocol.MsgAuth {
			conn.Send(errorFrame("Not authenticated"))
			return
		}
		d.handleAuth(conn, raw)
		return
	}

	ws := d.registry.Get(conn.WorkspaceID)
	if ws == nil {
		conn.Send(errorFrame("Workspace not found"))
		return
	}

	switch env.Type {
	case protocol.MsgAuth:
		slog.Debug("repeated auth ignored", "conn", conn.ID, "user", conn.UserID)

	case protocol.MsgRequestSharedState:
		ws.SharedState(conn)

	case protocol.MsgRequestTeacherRole:
		ws.RequestTeacherRole(conn)

	case protocol.MsgUpdateUsername:
		var f protocol.UpdateUsername
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.UpdateUsername(conn, validate.DisplayName(f.Username))

	case protocol.MsgUpdateGlobalPermission:
		var f protocol.UpdateGlobalPermission
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.UpdateGlobalPermission(conn, f.Key, f.Value)

	case protocol.MsgUpdateUserPermission:
		var f protocol.UpdateUserPermission
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.UpdateUserPermission(conn, strings.TrimSpace(f.TargetUserID), f.Key, f.Value)

	case protocol.MsgApplyPresetMode:
		var f protocol.ApplyPresetMode
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.ApplyPresetMode(conn, f.Mode)

	case protocol.MsgRequestLock:
		var f protocol.RequestLock
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.RequestLock(conn, f.ElementID, f.ElementType)

	case protocol.MsgReleaseLock:
		var f protocol.ReleaseLock
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.ReleaseLock(conn, f.ElementID, f.FinalPosition)

	case protocol.MsgUpdateCoords:
		var f protocol.UpdateCoords
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.UpdateCoords(conn, f.Coords)

	case protocol.MsgBlockMove:
		var f protocol.BlockMove
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.BlockMove(conn, f)

	case protocol.MsgSpriteUpdate:
		var f protocol.SpriteUpdate
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.SpriteUpdate(conn, f)

	case protocol.MsgCreateElement:
		var f protocol.CreateElement
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.CreateElement(conn, f)

	case protocol.MsgDeleteElement:
		var f protocol.DeleteElement
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.DeleteElement(conn, f)

	case protocol.MsgWorkspaceSnapshot:
		var f protocol.WorkspaceSnapshot
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.SaveSnapshot(conn, f)

	case protocol.MsgChat:
		var f protocol.Chat
		if !d.decode(conn, raw, &f) {
			return
		}
		ws.PostChat(conn, validate.ChatMessage(f.Message))

	case protocol.MsgKickUser:
		var f protocol.KickUser
		if !d.decode(conn, raw, &f) {
			return
		}
		kicked, errMsg := ws.Kick(conn, strings.TrimSpace(f.TargetUserID))
		if errMsg != "" {
			conn.Send(errorFrame(errMsg))
			return
		}
		if kicked != nil {
			kicked.Close(protocol.CloseKicked, "Removed from workspace")
		}

	case protocol.MsgElementDrag, protocol.MsgBlockFocus, protocol.MsgStackMove, protocol.MsgAction:
		// Relayed as-is, with the sender identity stamped over whatever
		// the client claimed.
		frame, err := protocol.Passthrough(raw, conn.UserID)
		if err != nil {
			conn.Send(errorFrame("Invalid message format"))
			return
		}
		ws.BroadcastRaw(conn.UserID, frame)

	default:
		conn.Send(errorFrame("Unknown message type"))
	}
}

// HandleDisconnect runs the leave path for a dropped connection and
// schedules the empty-workspace cleanup when the last member is gone.
func (d *Dispatcher) HandleDisconnect(conn *session.Conn) {
	if !conn.Authenticated() {
		return
	}
	ws := d.registry.Get(conn.WorkspaceID)
	if ws == nil {
		return
	}
	removed, empty := ws.Leave(conn)
	if removed && empty {
		d.registry.ScheduleCleanup(ws)
	}
}

func (d *Dispatcher) decode(conn *session.Conn, raw []byte, into any) bool {
	if err := json.Unmarshal(raw, into); err != nil {
		conn.Send(errorFrame("Invalid message format"))
		return false
	}
	return true
}

func (d *Dispatcher) handleAuth(conn *session.Conn, raw []byte) {
	var f protocol.AuthRequest
	if err := json.Unmarshal(raw, &f); err != nil {
		conn.Send(errorFrame("Invalid message format"))
		return
	}

	// The frame's workspace and userId fields cross-check the ticket only
	// when present; the claims are authoritative.
	workspaceID := strings.TrimSpace(f.Workspace)
	adm, err := d.verifier.Verify(f.Token, workspaceID, strings.TrimSpace(f.UserID))
	if err != nil {
		slog.Warn("admission rejected", "workspace", workspaceID, "error", err)
		metrics.AdmissionsTotal.WithLabelValues("rejected").Inc()
		d.reject(conn, ticket.Reason(err))
		return
	}

	username := validate.DisplayName(f.Username)
	if username == "" {
		username = validate.DisplayName(adm.Username)
	}
	if username == "" {
		username = adm.UserID
	}

	ws := d.registry.GetOrCreate(adm.WorkspaceID)
	replaced := ws.Join(conn, adm.UserID, username, adm.Role)
	metrics.AdmissionsTotal.WithLabelValues("accepted").Inc()

	if replaced != nil {
		replaced.Close(protocol.CloseReconnected, "Reconnected with same userId")
	}
}

func (d *Dispatcher) reject(conn *session.Conn, reason string) {
	conn.Send(errorFrame(reason))
	conn.Close(protocol.CloseAdmissionRejected, "Authentication failed")
}
