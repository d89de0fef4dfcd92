package colab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockwise/colabd/internal/colab/config"
	"github.com/blockwise/colabd/internal/util/testutil"
)

const testSecret = "server-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Port:                      4000,
		Env:                       "development",
		JoinTokenSecret:           testSecret,
		EmptyWorkspaceRetentionMS: 1000,
		LogLevel:                  "info",
	}
}

func signTicket(t *testing.T, sub, workspaceID, jti string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         sub,
		"workspaceId": workspaceID,
		"jti":         jti,
		"aud":         "colab-backend",
		"exp":         time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func wsSend(t *testing.T, ws *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

func wsReceive(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0
	_, err := NewServer(cfg)
	require.Error(t, err)
}

func TestRoutes(t *testing.T) {
	s, err := NewServer(testConfig())
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "colabd_")

	resp, err = http.Get(srv.URL + "/workspace/ghost")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketJoinOverServer(t *testing.T) {
	s, err := NewServer(testConfig())
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	wsSend(t, ws, map[string]any{
		"type":      "auth",
		"token":     signTicket(t, "u1", "w1", "route-jti-1"),
		"workspace": "w1",
	})
	frame := wsReceive(t, ws)
	require.Equal(t, "auth_success", frame["type"])

	// Presence shows up on the HTTP side.
	resp, err := http.Get(srv.URL + "/workspace/w1")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"userId":"u1"`)
}

func TestServeGracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.Port = port
	s, err := NewServer(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	testutil.RequireEventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "server never came up")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	ws, _, err := websocket.Dial(dialCtx, fmt.Sprintf("ws://127.0.0.1:%d/ws", port), nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	wsSend(t, ws, map[string]any{
		"type":      "auth",
		"token":     signTicket(t, "u1", "w1", "shutdown-jti-1"),
		"workspace": "w1",
	})
	require.Equal(t, "auth_success", wsReceive(t, ws)["type"])

	cancel()

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	_, _, err = ws.Read(readCtx)
	require.Error(t, err)
	var closeErr websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.StatusGoingAway, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Reason)

	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}

	assert.Equal(t, 0, s.Registry().Count())
}
