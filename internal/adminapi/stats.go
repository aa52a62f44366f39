package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsHandler serves the chat-core statistics snapshot: the well-defined
// replacement for the source's broken get_statistics accessor.
type StatsHandler struct {
	provider  StatsProvider
	startedAt time.Time
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(provider StatsProvider, startedAt time.Time) *StatsHandler {
	return &StatsHandler{provider: provider, startedAt: startedAt}
}

// GetStats handles GET /stats.
func (h *StatsHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.provider.Stats(h.startedAt))
}
