package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/ipmbridge/internal/bridge"
	"github.com/remote-agent-terminal/ipmbridge/internal/ws"
)

// WebSocketHandler attaches panels to live sessions.
type WebSocketHandler struct {
	service   *bridge.Service
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(service *bridge.Service, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		service:   service,
		wsHandler: wsHandler,
	}
}

// Attach handles WS /api/sessions/:key/attach - attaches a panel to a
// live session.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	key := c.Param("key")
	if _, ok := h.service.Get(key); !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+key+" not found")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, key); err != nil {
		if !c.Writer.Written() {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+key+" is closing")
		}
		return
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:key/attach", h.Attach)
}
