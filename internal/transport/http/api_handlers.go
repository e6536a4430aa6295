package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/core"
)

// APIHandlers provides the small JSON surface next to the relay socket.
type APIHandlers struct {
	hub        *core.Hub
	iceServers []string
	log        *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, iceServers []string, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:        hub,
		iceServers: iceServers,
		log:        logger,
	}
}

// ICEServer mirrors the browser RTCIceServer shape.
type ICEServer struct {
	URLs []string `json:"urls"`
}

// ICEServersResponse is returned by GET /api/ice-servers.
type ICEServersResponse struct {
	ICEServers []ICEServer `json:"iceServers"`
}

// Health reports liveness.
// GET /health
func (h *APIHandlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// ICEServers returns the configured ICE servers so browser participants use
// the same list as native ones.
// GET /api/ice-servers
func (h *APIHandlers) ICEServers(c *gin.Context) {
	resp := ICEServersResponse{ICEServers: make([]ICEServer, 0, len(h.iceServers))}
	for _, url := range h.iceServers {
		resp.ICEServers = append(resp.ICEServers, ICEServer{URLs: []string{url}})
	}
	c.JSON(http.StatusOK, resp)
}

// Stats returns hub counters.
// GET /api/stats
func (h *APIHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}
