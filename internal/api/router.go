// router.go - Route table and middleware

package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestIDKey = "request_id"

// NewRouter builds the gin engine. A nil gatherer leaves /metrics unregistered.
func NewRouter(h *Handler, allowedOrigins string, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestIDMiddleware(), AccessLog(h.logger), CORSMiddleware(allowedOrigins))

	router.GET("/", func(c *gin.Context) { c.String(200, "ok") })
	router.GET("/health", h.Health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/validate-image", h.ValidateImageHandler)
	v1.POST("/extract-id", h.ExtractIDHandler)
	v1.POST("/extract-id/batch", h.ExtractBatchHandler)
	v1.GET("/performance", h.PerformanceHandler)
	v1.DELETE("/performance", h.ResetPerformanceHandler)
	return router
}

// CORSMiddleware answers preflight requests and sets the allowed origin.
func CORSMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CorrelationHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", CorrelationHeader)
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware adopts the caller's correlation id or mints one and echoes it back.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(CorrelationHeader, id)
		c.Next()
	}
}

// RequestID returns the id set by RequestIDMiddleware.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog writes one slog line per request.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http.request",
			"request_id", RequestID(c),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
