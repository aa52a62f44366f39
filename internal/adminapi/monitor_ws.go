package adminapi

import (
	"context"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/relaychat/chatserver/internal/monitor"
)

// monitorWSHandler upgrades GET /monitor/ws to a read-only WebSocket feed
// of join/leave/rename events, adapted from the teacher's wsHandler with
// the tenant/API-key plumbing removed.
func monitorWSHandler(log *logrus.Logger, hub *monitor.Hub, corsOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:       corsOrigins,
			CompressionMode:      websocket.CompressionContextTakeover,
			CompressionThreshold: 128,
		})
		if err != nil {
			log.WithError(err).Error("monitor websocket accept failed")
			return
		}

		client := monitor.NewClient(hub, conn)
		hub.Register(client)

		wsCtx, wsCancel := context.WithCancel(c.Request.Context())
		defer wsCancel()

		go client.WritePump(wsCtx)
		client.ReadPump(wsCtx)
	}
}
