// Package client implements the Go client for a colabd workspace
// session: dial, ticket admission, typed frame reads and automatic
// reconnection with exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/blockwise/colabd/internal/colab/protocol"
)

const (
	readLimit    = 4 << 20
	writeTimeout = 10 * time.Second
)

// Terminal session errors. Run does not reconnect after these.
var (
	ErrReplaced = errors.New("replaced by a newer connection")
	ErrKicked   = errors.New("removed from workspace")
)

var errNotConnected = errors.New("not connected")

// AuthError reports a rejected admission.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "admission rejected: " + e.Reason
}

// Options configure a Client.
type Options struct {
	// URL is the socket endpoint, e.g. "ws://localhost:4000/ws".
	URL string

	// Ticket is the signed join ticket. TicketFunc overrides it when
	// set, which lets long-running clients mint a fresh ticket for each
	// attempt instead of replaying one past its expiry.
	Ticket     string
	TicketFunc func(ctx context.Context) (string, error)

	// Workspace and UserID are optional cross-checks against the ticket
	// claims. Username is the preferred display name.
	Workspace string
	UserID    string
	Username  string

	// HTTPClient overrides the dialing transport.
	HTTPClient *http.Client
}

// Frame is one frame received after admission.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the frame payload into a typed struct.
func (f Frame) Decode(into any) error {
	return json.Unmarshal(f.Raw, into)
}

// Client manages one member's connection to a workspace.
type Client struct {
	opts Options

	// OnWelcome is called after every successful admission with the
	// full workspace state. Reconnects call it again.
	OnWelcome func(w *Welcome)

	// OnFrame is called for every frame received after admission, in
	// arrival order, from the read goroutine.
	OnFrame func(f Frame)

	mu      sync.Mutex
	ws      *websocket.Conn
	welcome *Welcome
}

// New creates a client. Set OnWelcome and OnFrame before calling
// Connect or Run.
func New(opts Options) *Client {
	return &Client{opts: opts}
}

// Welcome returns the admission payload of the latest successful
// connect, or nil before the first one.
func (c *Client) Welcome() *Welcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.welcome
}

// Connect dials, authenticates and then delivers frames to OnFrame
// until the connection drops. It returns ErrReplaced, ErrKicked or an
// *AuthError when the server ended the session deliberately.
func (c *Client) Connect(ctx context.Context) error {
	ticket := c.opts.Ticket
	if c.opts.TicketFunc != nil {
		var err error
		ticket, err = c.opts.TicketFunc(ctx)
		if err != nil {
			return fmt.Errorf("mint ticket: %w", err)
		}
	}

	ws, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	ws.SetReadLimit(readLimit)

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.CloseNow()
	}()

	auth := struct {
		Type string `json:"type"`
		protocol.AuthRequest
	}{protocol.MsgAuth, protocol.AuthRequest{
		Token:     ticket,
		Workspace: c.opts.Workspace,
		UserID:    c.opts.UserID,
		Username:  c.opts.Username,
	}}
	if err := write(ctx, ws, auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	welcome, err := awaitWelcome(ctx, ws)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.welcome = welcome
	c.mu.Unlock()

	slog.Info("joined workspace", "workspace", welcome.WorkspaceID, "user", welcome.UserID)
	if c.OnWelcome != nil {
		c.OnWelcome(welcome)
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return classifyClose(err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("dropping malformed frame", "error", err)
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(Frame{Type: env.Type, Raw: data})
		}
	}
}

// awaitWelcome reads until the admission reply. A rejected admission
// surfaces as an error frame followed by a 4003 close; the frame text
// carries the precise reason, so it wins over the close reason.
func awaitWelcome(ctx context.Context, ws *websocket.Conn) (*Welcome, error) {
	var rejection string
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == protocol.CloseAdmissionRejected {
				if rejection == "" {
					rejection = closeReason(err)
				}
				return nil, &AuthError{Reason: rejection}
			}
			return nil, classifyClose(err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode admission reply: %w", err)
		}
		switch env.Type {
		case protocol.MsgAuthSuccess:
			welcome := &Welcome{}
			if err := json.Unmarshal(data, welcome); err != nil {
				return nil, fmt.Errorf("decode welcome: %w", err)
			}
			return welcome, nil
		case protocol.MsgError:
			var ef protocol.ErrorFrame
			_ = json.Unmarshal(data, &ef)
			rejection = ef.Message
		}
	}
}

// Close tears the connection down. Safe to call from any goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "")
}

// connectFn is a function that establishes a session. Used for
// dependency injection in tests.
type connectFn func(ctx context.Context) error

// Run wraps Connect with automatic reconnection using exponential
// backoff. Starts at 1s, doubles up to 60s, resets on a connection
// lasting longer than resetThreshold. It returns nil once ctx is
// cancelled and the terminal error when the server ended the session
// for good (replacement, kick, rejected ticket).
func (c *Client) Run(ctx context.Context) error {
	return c.run(ctx, c.Connect, newReconnectBackoff(), resetThreshold)
}

func (c *Client) run(ctx context.Context, connect connectFn, bo backoff.BackOff, threshold time.Duration) error {
	for {
		start := time.Now()
		err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if !retryable(err) {
			slog.Warn("session ended by server", "error", err)
			return err
		}

		// If the connection lasted long enough, reset backoff.
		if time.Since(start) >= threshold {
			bo.Reset()
		}

		interval := bo.NextBackOff()
		slog.Warn("disconnected from workspace, reconnecting...", "error", err, "backoff", interval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// retryable reports whether Run should dial again after err.
func retryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	return !errors.Is(err, ErrReplaced) && !errors.Is(err, ErrKicked)
}

func classifyClose(err error) error {
	switch websocket.CloseStatus(err) {
	case protocol.CloseReconnected:
		return ErrReplaced
	case protocol.CloseKicked:
		return ErrKicked
	case protocol.CloseAdmissionRejected:
		return &AuthError{Reason: closeReason(err)}
	default:
		return err
	}
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}

func write(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

// Send transmits a frame of the given type. The payload's fields are
// merged at the top level next to "type"; nil sends a bare frame. The
// mutex serializes writes with the typed helpers.
func (c *Client) Send(msgType string, payload any) error {
	frame := map[string]any{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", msgType, err)
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("marshal %s: %w", msgType, err)
		}
	}
	frame["type"] = msgType

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return errNotConnected
	}
	return write(context.Background(), c.ws, frame)
}

// RequestLock asks for the advisory lock on an element.
func (c *Client) RequestLock(elementID, elementType string) error {
	return c.Send(protocol.MsgRequestLock, protocol.RequestLock{
		ElementID:   elementID,
		ElementType: elementType,
	})
}

// ReleaseLock gives a held lock back, optionally broadcasting the
// element's final position.
func (c *Client) ReleaseLock(elementID string, finalPosition json.RawMessage) error {
	return c.Send(protocol.MsgReleaseLock, protocol.ReleaseLock{
		ElementID:     elementID,
		FinalPosition: finalPosition,
	})
}

// MoveBlock repositions a block. ifMatch "" skips the precondition;
// "*" matches any state.
func (c *Client) MoveBlock(blockID string, position json.RawMessage, ifMatch string) error {
	return c.Send(protocol.MsgBlockMove, protocol.BlockMove{
		BlockID:      blockID,
		Position:     position,
		Precondition: protocol.Precondition{IfMatch: ifMatch},
	})
}

// UpdateSprite rewrites a sprite's metrics.
func (c *Client) UpdateSprite(spriteID string, metrics map[string]any, ifMatch string) error {
	return c.Send(protocol.MsgSpriteUpdate, protocol.SpriteUpdate{
		SpriteID:     spriteID,
		Metrics:      metrics,
		Precondition: protocol.Precondition{IfMatch: ifMatch},
	})
}

// CreateElement inserts or replaces a shared element.
func (c *Client) CreateElement(elementID, elementType string, data map[string]any, ifMatch string) error {
	return c.Send(protocol.MsgCreateElement, protocol.CreateElement{
		ElementID:    elementID,
		ElementType:  elementType,
		ElementData:  data,
		Precondition: protocol.Precondition{IfMatch: ifMatch},
	})
}

// DeleteElement removes a shared element.
func (c *Client) DeleteElement(elementID, elementType string, ifMatch string) error {
	return c.Send(protocol.MsgDeleteElement, protocol.DeleteElement{
		ElementID:    elementID,
		ElementType:  elementType,
		Precondition: protocol.Precondition{IfMatch: ifMatch},
	})
}

// SaveSnapshot stores the serialized editor state for one sprite.
func (c *Client) SaveSnapshot(spriteID, snapshot, ifMatch string) error {
	return c.Send(protocol.MsgWorkspaceSnapshot, protocol.WorkspaceSnapshot{
		SpriteID:     spriteID,
		Snapshot:     snapshot,
		Precondition: protocol.Precondition{IfMatch: ifMatch},
	})
}

// Chat posts a message to the workspace.
func (c *Client) Chat(message string) error {
	return c.Send(protocol.MsgChat, protocol.Chat{Message: message})
}

// UpdateCoords moves the member's cursor.
func (c *Client) UpdateCoords(x, y float64) error {
	return c.Send(protocol.MsgUpdateCoords, protocol.UpdateCoords{
		Coords: protocol.Coords{X: x, Y: y},
	})
}

// UpdateUsername changes the member's display name.
func (c *Client) UpdateUsername(username string) error {
	return c.Send(protocol.MsgUpdateUsername, protocol.UpdateUsername{Username: username})
}

// RequestSharedState asks for a fresh state snapshot, answered with a
// shared_state frame.
func (c *Client) RequestSharedState() error {
	return c.Send(protocol.MsgRequestSharedState, nil)
}

// RequestTeacherRole asks for the elevated permission template tied to
// the member's role.
func (c *Client) RequestTeacherRole() error {
	return c.Send(protocol.MsgRequestTeacherRole, nil)
}

// SetGlobalPermission flips one key of the workspace globals.
func (c *Client) SetGlobalPermission(key string, value bool) error {
	return c.Send(protocol.MsgUpdateGlobalPermission, protocol.UpdateGlobalPermission{
		Key:   key,
		Value: value,
	})
}

// SetUserPermission flips one key of a member's override.
func (c *Client) SetUserPermission(userID, key string, value bool) error {
	return c.Send(protocol.MsgUpdateUserPermission, protocol.UpdateUserPermission{
		TargetUserID: userID,
		Key:          key,
		Value:        value,
	})
}

// ApplyPreset replaces the workspace globals with a named preset mode.
func (c *Client) ApplyPreset(mode string) error {
	return c.Send(protocol.MsgApplyPresetMode, protocol.ApplyPresetMode{Mode: mode})
}

// Kick removes another member from the workspace.
func (c *Client) Kick(userID string) error {
	return c.Send(protocol.MsgKickUser, protocol.KickUser{TargetUserID: userID})
}
