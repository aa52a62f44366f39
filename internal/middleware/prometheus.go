package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaychat/chatserver/internal/adminmetrics"
)

// PrometheusMiddleware records HTTP request duration and count for the admin API.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath() // route pattern, not actual path (avoids cardinality explosion)
		if path == "" {
			path = "unknown"
		}
		adminmetrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		adminmetrics.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
