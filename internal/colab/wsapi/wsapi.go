// Package wsapi terminates the collaboration WebSocket: it upgrades /ws
// requests, reads client frames into the dispatcher and drains each
// connection's outbound queue back onto the socket.
package wsapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/blockwise/colabd/internal/colab/dispatch"
	"github.com/blockwise/colabd/internal/colab/session"
	"github.com/blockwise/colabd/internal/metrics"
)

const (
	// readLimit caps one inbound frame. Workspace snapshots dominate
	// frame size; the protocol-level rune cap keeps them under this.
	readLimit = 4 << 20

	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler serves the /ws endpoint. New connections are refused with 503
// once shutdownCh closes.
func Handler(dispatcher *dispatch.Dispatcher, shutdownCh <-chan struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shutdownCh != nil {
			select {
			case <-shutdownCh:
				http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
				return
			default:
			}
		}

		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// The editor frontend is served from a different origin
			// than the collaboration backend.
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			slog.Debug("ws: accept failed", "error", err)
			return
		}
		defer func() { _ = ws.CloseNow() }()
		ws.SetReadLimit(readLimit)

		metrics.WSConnectionsActive.Inc()
		defer metrics.WSConnectionsActive.Dec()

		serve(r.Context(), ws, dispatcher)
	})
}

// closeRequest is an application-level close initiated by the session
// layer (admission reject, reconnect takeover, kick, shutdown).
type closeRequest struct {
	code   websocket.StatusCode
	reason string
}

func serve(ctx context.Context, ws *websocket.Conn, dispatcher *dispatch.Dispatcher) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	closeCh := make(chan closeRequest, 1)
	conn := session.NewConn(func(code int, reason string) {
		closeCh <- closeRequest{websocket.StatusCode(code), reason}
	})
	defer dispatcher.HandleDisconnect(conn)

	// Write pump: drains the outbound queue, keeps the socket alive with
	// pings, and performs requested closes after flushing what is
	// already queued so error frames reach the client first.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer cancel()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-closeCh:
				flush(ctx, ws, conn)
				_ = ws.Close(req.code, req.reason)
				return
			case frame := <-conn.Outbound():
				if err := write(ctx, ws, frame); err != nil {
					return
				}
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
				err := ws.Ping(pingCtx)
				pingCancel()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			slog.Debug("ws: ignoring non-text frame", "conn", conn.ID)
			continue
		}
		dispatcher.HandleFrame(conn, data)
	}
	cancel()
	<-writeDone
}

func write(ctx context.Context, ws *websocket.Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, frame)
}

// flush best-effort drains frames queued before a close request.
func flush(ctx context.Context, ws *websocket.Conn, conn *session.Conn) {
	for {
		select {
		case frame := <-conn.Outbound():
			if err := write(ctx, ws, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
