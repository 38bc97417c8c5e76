package handler

import (
	"channels/backend/internal/models"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// Health reports database reachability, queue counters and connection counts.
// It answers 503 when the database ping fails.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code, database := "ok", http.StatusOK, "up"
	if err := h.Storage.Ping(ctx); err != nil {
		status, code, database = "degraded", http.StatusServiceUnavailable, "down"
		h.log.Warn("health: database ping failed")
	}

	q := gin.H{"mode": "none"}
	if h.Queue != nil {
		if st, err := h.Queue.Stats(ctx); err == nil {
			q = gin.H{
				"mode":      st.Mode,
				"waiting":   st.Waiting,
				"active":    st.Active,
				"delayed":   st.Delayed,
				"completed": st.Completed,
				"failed":    st.Failed,
			}
		} else {
			q = gin.H{"mode": h.Queue.Mode(), "error": err.Error()}
		}
	}

	c.JSON(code, gin.H{
		"status":      status,
		"database":    database,
		"queue":       q,
		"sockets":     h.Hub.ClientCount(),
		"onlineUsers": h.Hub.Presence.Count(),
		"startedAt":   humanize.Time(h.startedAt),
		"uptime":      int64(time.Since(h.startedAt).Seconds()),
	})
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
