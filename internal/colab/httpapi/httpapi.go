// Package httpapi serves the small JSON inspection surface next to the
// WebSocket endpoint: a health probe and a per-workspace presence view.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/blockwise/colabd/internal/colab/session"
)

type healthResponse struct {
	Status     string `json:"status"`
	Workspaces int    `json:"workspaces"`
	Timestamp  int64  `json:"timestamp"`
}

type workspaceResponse struct {
	WorkspaceID string               `json:"workspaceId"`
	Users       []session.MemberInfo `json:"users"`
	UserCount   int                  `json:"userCount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP API routes. Mount it under both /health and
// /workspace/; it matches on the full request path.
func Handler(registry *session.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:     "ok",
			Workspaces: registry.Count(),
			Timestamp:  time.Now().UnixMilli(),
		})
	})
	mux.HandleFunc("GET /workspace/{id}", func(w http.ResponseWriter, r *http.Request) {
		ws := registry.Get(r.PathValue("id"))
		if ws == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Workspace not found"})
			return
		}
		users := ws.Info()
		writeJSON(w, http.StatusOK, workspaceResponse{
			WorkspaceID: ws.ID(),
			Users:       users,
			UserCount:   len(users),
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
