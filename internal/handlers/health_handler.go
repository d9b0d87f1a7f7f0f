package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/premiumcollect/premiumcollect/internal/realtime"
)

// Pinger reports database reachability; nil means the service runs
// without a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LiveClients lists connected dashboard sessions.
type LiveClients interface {
	ConnectedClients() []realtime.ClientInfo
	SessionCount() int
}

// SystemHandler serves health and live-session endpoints.
type SystemHandler struct {
	db      Pinger
	clients LiveClients
	version string
	started time.Time
}

func NewSystemHandler(db Pinger, clients LiveClients, version string) *SystemHandler {
	return &SystemHandler{db: db, clients: clients, version: version, started: time.Now()}
}

// Health handles GET /api/health. It always answers 200 so a demo-mode
// process stays in rotation; the database field tells the truth.
func (h *SystemHandler) Health(c *gin.Context) {
	database := "connected"
	if h.db == nil {
		database = "unavailable"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			database = "unavailable"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"database":          database,
		"version":           h.version,
		"uptime_seconds":    int64(time.Since(h.started).Seconds()),
		"websocket_clients": h.clients.SessionCount(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

// WSClients handles GET /api/ws/clients
func (h *SystemHandler) WSClients(c *gin.Context) {
	clients := h.clients.ConnectedClients()
	c.JSON(http.StatusOK, gin.H{"data": clients, "count": len(clients)})
}
