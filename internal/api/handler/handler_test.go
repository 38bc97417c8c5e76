package handler

import (
	"channels/backend/internal/chathub"
	"channels/backend/internal/config"
	"channels/backend/internal/metrics"
	"channels/backend/internal/models"
	"channels/backend/internal/queue"
	"channels/backend/internal/storage"
	"channels/backend/internal/storage/storagetest"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T) (*Handler, *storage.Service) {
	t.Helper()
	store := storagetest.NewService(t)
	q := queue.NewMemoryQueue(config.QueueConfig{Name: "test"}, zap.NewNop())
	reg := prometheus.NewRegistry()
	hub := chathub.NewManagerService(chathub.Deps{
		Storage: store,
		Queue:   q,
		Metrics: metrics.New(reg),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	h := NewHandler(hub, store, q, Options{JWTSecret: testSecret, JWTTTL: time.Hour, Gatherer: reg})
	return h, store
}

func get(t *testing.T, r http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth_OK(t *testing.T) {
	h, _ := newTestHandler(t)

	w := get(t, h.Router(), "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "up", body["database"])
	assert.EqualValues(t, 0, body["sockets"])
	q := body["queue"].(map[string]any)
	assert.Equal(t, queue.ModeMemory, q["mode"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	h, store := newTestHandler(t)
	sqlDB, err := store.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := get(t, h.Router(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"down"`)
}

func TestIssueToken_ByName(t *testing.T) {
	h, store := newTestHandler(t)

	w := get(t, h.Router(), "/token?userName=alice")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Token    string `json:"token"`
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.UserName)

	var u models.User
	require.NoError(t, store.DB.First(&u, "name = ?", "alice").Error)
	assert.Equal(t, u.ID, body.UserID)

	id, name, err := parseJWT([]byte(testSecret), body.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	assert.Equal(t, "alice", name)

	_, _, err = parseJWT([]byte("other"), body.Token)
	assert.Error(t, err)
}

func TestIssueToken_Anonymous(t *testing.T) {
	h, _ := newTestHandler(t)

	w := get(t, h.Router(), "/token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"`)
}

func TestServeWebSocket_RequiresIdentity(t *testing.T) {
	h, _ := newTestHandler(t)

	w := get(t, h.Router(), "/ws")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(t, h.Router(), "/ws?token=garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServeWebSocket_Connects(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	token, err := generateJWT([]byte(testSecret), "alice", "Alice", time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	for evt.Event != models.EventUserConnected {
		require.NoError(t, conn.ReadJSON(&evt))
	}
	assert.Equal(t, "alice", evt.Data["userId"])
	assert.Equal(t, 1, h.Hub.ClientCount())

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "nope", "data": map[string]any{}}))
	for evt.Event != models.EventError {
		require.NoError(t, conn.ReadJSON(&evt))
	}
	assert.Equal(t, "unknown event", evt.Data["details"])

	w := get(t, h.Router(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_connected_sockets 1")
}
