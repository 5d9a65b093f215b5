package api

import (
	"net/http"
	"time"

	"TrackToVideo-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProjectProgressWebSocket pushes the project snapshot whenever status or
// progress changes, then closes once a terminal state is reached. The store
// is the source of truth; this just bridges it to a socket so clients do not
// have to poll over HTTP themselves.
func (h *Handler) ProjectProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	project, err := h.Store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		conn.WriteJSON(gin.H{"error": "project not found"})
		return
	}
	if err := conn.WriteJSON(project); err != nil {
		return
	}
	if isTerminal(project.Status) {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := project.Status
	prevProgress := project.Progress

	for range ticker.C {
		cur, err := h.Store.GetProject(c.Request.Context(), projectID)
		if err != nil {
			// Deleted mid-watch, or the store is gone; either way stop pushing.
			return
		}
		if cur.Status != prevStatus || cur.Progress != prevProgress {
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			prevStatus = cur.Status
			prevProgress = cur.Progress
		}
		if isTerminal(cur.Status) {
			return
		}
	}
}

func isTerminal(status string) bool {
	return status == models.StatusCompleted || status == models.StatusFailed
}
