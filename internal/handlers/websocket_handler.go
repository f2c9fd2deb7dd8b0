package handlers

import (
	"github.com/gin-gonic/gin"

	"escrow-backend/internal/services"
)

// WebSocketHandler subscribes a client to the ledger event feed
type WebSocketHandler struct {
	push *services.WebSocketPushService
}

// NewWebSocketHandler creates a new WebSocketHandler instance
func NewWebSocketHandler(push *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{push: push}
}

// SubscribeHandler upgrades the connection and streams events. An optional
// ?user=0x... query filters the feed to one address.
// GET /api/ws/events
func (h *WebSocketHandler) SubscribeHandler(c *gin.Context) {
	h.push.HandleConnection(c.Writer, c.Request, c.Query("user"))
}
