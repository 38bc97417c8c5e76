package handler

import (
	"channels/backend/internal/chathub"
	"channels/backend/internal/queue"
	"channels/backend/internal/storage"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nrednav/cuid2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type Options struct {
	JWTSecret string
	JWTTTL    time.Duration
	Gatherer  prometheus.Gatherer
	Log       *zap.Logger
}

// Handler serves the HTTP surface around the realtime hub.
type Handler struct {
	Hub     *chathub.ManagerService
	Storage storage.Storage
	Queue   queue.Queue

	secret    []byte
	ttl       time.Duration
	gatherer  prometheus.Gatherer
	log       *zap.Logger
	startedAt time.Time
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, q queue.Queue, opts Options) *Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.JWTTTL <= 0 {
		opts.JWTTTL = 24 * time.Hour
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		Hub:       hub,
		Storage:   s,
		Queue:     q,
		secret:    []byte(opts.JWTSecret),
		ttl:       opts.JWTTTL,
		gatherer:  opts.Gatherer,
		log:       opts.Log.Named("http"),
		startedAt: time.Now(),
	}
}

// Router registers every route on a fresh gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestID(), h.accessLog())

	r.GET("/health", h.Health)
	r.GET("/token", h.IssueToken)
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	return r
}

func (h *Handler) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = cuid2.Generate()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" {
			return
		}
		level := h.log.Debug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = h.log.Warn
		}
		level("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}
