package chathub

import (
	"channels/backend/internal/models"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// WebSocketClient implements Client over a gorilla connection.
type WebSocketClient struct {
	Conn *websocket.Conn
	Hub  *ManagerService

	id  string
	log *zap.Logger

	mux      sync.RWMutex
	userID   string
	userName string
	closed   bool
	send     chan []byte
}

func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, userID, userName string, log *zap.Logger) *WebSocketClient {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	return &WebSocketClient{
		Conn:     conn,
		Hub:      hub,
		id:       id,
		log:      log.With(zap.String("conn_id", id)),
		userID:   userID,
		userName: userName,
		send:     make(chan []byte, sendBuffer),
	}
}

func (c *WebSocketClient) ID() string { return c.id }

func (c *WebSocketClient) UserID() string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.userID
}

func (c *WebSocketClient) UserName() string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.userName
}

func (c *WebSocketClient) SetUser(userID, userName string) {
	c.mux.Lock()
	c.userID, c.userName = userID, userName
	c.mux.Unlock()
}

// Send queues evt for the write pump. It reports false when the client is
// closed or its buffer is full.
func (c *WebSocketClient) Send(evt models.ServerEvent) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn("encode event failed", zap.String("event", evt.Event), zap.Error(err))
		return false
	}
	c.mux.RLock()
	defer c.mux.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket. Safe to call twice.
func (c *WebSocketClient) Close() {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}

		var evt models.ClientEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.Event == "" {
			c.Send(models.ServerEvent{Event: models.EventError, Data: models.ErrorEvent{
				Error:   "invalid_frame",
				Details: "expected {\"event\": ..., \"data\": ...}",
			}})
			continue
		}
		c.Hub.Dispatch(c, evt)
	}
}

// writePump writes one frame per event and pings the peer.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
