// Package monitor implements the read-only operations feed (§4.12): a
// coder/websocket hub broadcasting join/leave/rename notifications to an
// ops dashboard. Adapted from the teacher's internal/ws.Hub/Client, with
// the per-tenant broadcast map collapsed to one global stream (this feed
// has no tenants) and the TenantValidator/API-key-refresh machinery
// dropped (the monitor feed carries no sensitive content and needs no
// per-connection auth).
package monitor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaychat/chatserver/internal/adminmetrics"
)

const (
	broadcastBuffer = 256
	registerBuffer  = 64
	maxClients      = 200
	drainTimeout    = 3 * time.Second
)

// Hub manages active monitor-feed WebSocket clients and broadcasts
// operational events. All client map mutations happen exclusively in the
// Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	shutdown   chan struct{}
	done       chan struct{}
	count      atomic.Int64
	log        *logrus.Logger
	seq        *sequence
	buffer     *eventBuffer
}

// NewHub creates a new Hub instance.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		broadcast:  make(chan []byte, broadcastBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
		seq:        &sequence{},
		buffer:     newEventBuffer(defaultBufferMaxLen, defaultBufferMaxAge),
	}
}

// Run starts the hub event loop. It should be run as a goroutine and
// exits when Shutdown is called or ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.buffer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.drainClients()
			return
		case <-h.shutdown:
			h.drainClients()
			return

		case client := <-h.register:
			if len(h.clients) >= maxClients {
				h.log.Warn("monitor global connection limit reached, dropping client")
				client.closeSend()
				continue
			}
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.log.WithField("total", len(h.clients)).Info("monitor client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.count.Store(int64(len(h.clients)))
			h.log.WithField("total", len(h.clients)).Info("monitor client unregistered")

		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					client.closeSend()
					delete(h.clients, client)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	default:
		h.log.Warn("monitor register channel full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
	}
}

// ClientCount returns the number of connected monitor clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// BroadcastEvent assigns a sequence id, stores it in the replay buffer,
// and fans it out to every connected monitor client.
func (h *Hub) BroadcastEvent(eventType EventType, data json.RawMessage) {
	evt := Event{
		Type: eventType,
		ID:   h.seq.next(),
		Data: data,
		Time: time.Now(),
	}

	msg, err := json.Marshal(evt)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal monitor event")
		return
	}

	h.buffer.Append(&evt)
	adminmetrics.MonitorEventsTotal.Inc()

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("monitor broadcast channel full, dropping event")
	}
}

// Shutdown initiates a graceful drain: notifies every client, waits for
// their write pumps to flush, then closes all connections.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done
}

func (h *Hub) drainClients() {
	if len(h.clients) == 0 {
		return
	}

	h.log.WithField("clients", len(h.clients)).Info("draining monitor clients")

	shutdownMsg := []byte(`{"type":"shutdown"}`)
	for client := range h.clients {
		select {
		case client.send <- shutdownMsg:
		default:
		}
	}

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true
		for client := range h.clients {
			if len(client.send) > 0 {
				allDrained = false
				break
			}
		}
		if allDrained {
			break
		}
		select {
		case <-deadline:
			h.log.Warn("monitor drain timeout, closing remaining clients")
			goto closeAll
		case <-ticker.C:
		}
	}

closeAll:
	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.count.Store(0)
}

// ReplayEvents sends buffered events since lastEventID to client. Returns
// false if the requested id is too old to replay from the buffer.
func (h *Hub) ReplayEvents(client *Client, lastEventID uint64) bool {
	oldest := h.buffer.OldestID()
	if oldest > 0 && lastEventID > 0 && lastEventID+1 < oldest {
		return false
	}

	for _, evt := range h.buffer.Since(lastEventID) {
		msg, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		select {
		case client.send <- msg:
		default:
			return true
		}
	}
	return true
}
