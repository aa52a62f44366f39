// Package adminapi is the admin HTTP surface (§4.11): health, readiness,
// Prometheus metrics, a statistics snapshot, and an optional monitor
// WebSocket feed. It is a composition root in the teacher's own style
// (RouterDeps + NewRouter, middleware stack, gin.RouterGroup routes),
// generalized from the teacher's authenticated, tenant-scoped API router
// to this spec's small unauthenticated operator surface — deliberately
// never imported by the chat core itself.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/relaychat/chatserver/internal/chatmodel"
	"github.com/relaychat/chatserver/internal/middleware"
	"github.com/relaychat/chatserver/internal/monitor"
)

// StatsProvider is the narrow collaborator the stats endpoint consults;
// satisfied by *server.Server.
type StatsProvider interface {
	Stats(startedAt time.Time) chatmodel.StatsSnapshot
}

// RouterDeps holds all dependencies needed by the admin router.
type RouterDeps struct {
	Log         *logrus.Logger
	Stats       StatsProvider
	StartedAt   time.Time
	Hub         *monitor.Hub
	CORSOrigins []string
	Version     string
	EnableWS    bool

	// Ready reports whether the chat acceptor is bound and not mid-shutdown.
	// Nil means always-ready, for tests with no acceptor to query.
	Ready func() bool
}

const (
	maxBodySize = 1 << 20 // 1 MB; admin requests carry no payload bodies
	rateLimit   = 20
	rateBurst   = 40
)

func setupMiddleware(ctx context.Context, r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.NewRateLimiter(ctx, rateLimit, rateBurst).Handler())
	r.Use(middleware.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerRoutes(r *gin.Engine, deps *RouterDeps) {
	health := NewHealthHandler(deps.StartedAt, deps.Version, deps.Ready)
	stats := NewStatsHandler(deps.Stats, deps.StartedAt)

	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)
	r.GET("/stats", stats.GetStats)

	if deps.EnableWS && deps.Hub != nil {
		r.GET("/monitor/ws", monitorWSHandler(deps.Log, deps.Hub, deps.CORSOrigins))
	}
}

// NewRouter creates and configures the Gin engine for the admin surface.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(ctx, r, deps)
	registerRoutes(r, deps)
	return r
}

func ginLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		if rid, exists := c.Get(middleware.RequestIDKey); exists {
			fields["request_id"] = rid
		}
		log.WithFields(fields).Info("admin request")
	}
}
