package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockwise/colabd/internal/colab/permission"
	"github.com/blockwise/colabd/internal/colab/protocol"
	"github.com/blockwise/colabd/internal/colab/session"
)

func newTestServer(t *testing.T) (*session.Registry, *httptest.Server) {
	t.Helper()
	registry := session.NewRegistry(time.Minute)
	srv := httptest.NewServer(Handler(registry))
	t.Cleanup(srv.Close)
	return registry, srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func join(t *testing.T, ws *session.Workspace, userID string) *session.Conn {
	t.Helper()
	conn := session.NewConn(func(code int, reason string) {})
	require.Nil(t, ws.Join(conn, userID, userID, permission.RoleStudent))
	return conn
}

func TestHealth(t *testing.T) {
	registry, srv := newTestServer(t)
	registry.GetOrCreate("w1")
	registry.GetOrCreate("w2")

	resp, body := get(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var health struct {
		Status     string `json:"status"`
		Workspaces int    `json:"workspaces"`
		Timestamp  int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Workspaces)
	assert.InDelta(t, time.Now().UnixMilli(), health.Timestamp, float64(time.Minute.Milliseconds()))
}

func TestWorkspacePresence(t *testing.T) {
	registry, srv := newTestServer(t)
	ws := registry.GetOrCreate("w1")
	u1 := join(t, ws, "u1")
	join(t, ws, "u2")
	ws.UpdateCoords(u1, protocol.Coords{X: 3, Y: 4})

	resp, body := get(t, srv.URL+"/workspace/w1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		WorkspaceID string `json:"workspaceId"`
		Users       []struct {
			UserID string `json:"userId"`
			Coords struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coords"`
		} `json:"users"`
		UserCount int `json:"userCount"`
	}
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "w1", view.WorkspaceID)
	assert.Equal(t, 2, view.UserCount)
	require.Len(t, view.Users, 2)
	assert.Equal(t, "u1", view.Users[0].UserID)
	assert.Equal(t, 3.0, view.Users[0].Coords.X)
	assert.Equal(t, 4.0, view.Users[0].Coords.Y)
	assert.Equal(t, "u2", view.Users[1].UserID)
}

func TestWorkspaceNotFound(t *testing.T) {
	_, srv := newTestServer(t)

	resp, body := get(t, srv.URL+"/workspace/missing")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errBody struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "Workspace not found", errBody.Error)
}

func TestEmptyWorkspaceListsNoUsers(t *testing.T) {
	registry, srv := newTestServer(t)
	registry.GetOrCreate("idle")

	resp, body := get(t, srv.URL+"/workspace/idle")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"users":[]`)
	assert.Contains(t, string(body), `"userCount":0`)
}

func TestMethodNotAllowed(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/health", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
