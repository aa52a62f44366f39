package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves the liveness and readiness endpoints. Unlike the
// teacher's database/embeddings checks, this server has no external
// dependencies to probe: liveness degrades to "the process is running",
// and readiness reflects whether the chat acceptor is actually bound and
// not mid-shutdown, reported honestly rather than padded with checks
// that don't apply here.
type HealthHandler struct {
	startTime time.Time
	version   string
	ready     func() bool
}

// NewHealthHandler creates a HealthHandler. ready reports whether the
// chat acceptor is bound and not mid-shutdown; a nil ready is treated as
// always-ready (used by tests that don't wire a real acceptor).
func NewHealthHandler(startTime time.Time, version string, ready func() bool) *HealthHandler {
	return &HealthHandler{startTime: startTime, version: version, ready: ready}
}

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Liveness handles GET /healthz.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Readiness handles GET /readyz. It reports the acceptor as not ready
// with a 503 until the listener is bound, and again once shutdown begins.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ready := h.ready == nil || h.ready()

	status := "ready"
	acceptor := "ok"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		acceptor = "not_bound"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, readinessResponse{
		Status: status,
		Checks: map[string]string{
			"acceptor": acceptor,
		},
	})
}
