package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/poll-broadcaster/backend/internal/ws"
)

// WebSocketHandler attaches the operator UI to the event channel.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Attach handles GET /api/ws - upgrades to the operator websocket channel.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	// Upgrade errors are already written to the response by the upgrader.
	_ = h.wsHandler.HandleConnection(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Attach)
}
