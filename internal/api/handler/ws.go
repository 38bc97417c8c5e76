package handler

import (
	"channels/backend/internal/chathub"
	"channels/backend/internal/formatter"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the caller, upgrades the connection and hands
// it to the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID, userName, err := h.identity(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Hub, userID, formatter.SanitizeName(userName), h.log)
	select {
	case h.Hub.RegisterCh <- client:
	case <-c.Request.Context().Done():
		conn.Close()
		return
	}
	client.Run()
}
