// Package server implements the connection acceptor and process lifecycle
// (C8): a listening socket whose accept loop admits connections through
// the registry and connection limiter, a periodic reaper, and coordinated
// graceful shutdown. The listen/accept/shutdown shape is grounded on the
// teacher pack's HTTP lifecycle pattern (signal.NotifyContext plus a
// bounded shutdown deadline), generalized from http.Server.Shutdown to a
// raw net.Listener and coordinated with golang.org/x/sync/errgroup, the
// same dependency the docker-compose pack uses for multi-goroutine
// coordination.
package server

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relaychat/chatserver/internal/broker"
	"github.com/relaychat/chatserver/internal/chatmodel"
	"github.com/relaychat/chatserver/internal/config"
	"github.com/relaychat/chatserver/internal/connlimit"
	"github.com/relaychat/chatserver/internal/metrics"
	"github.com/relaychat/chatserver/internal/monitor"
	"github.com/relaychat/chatserver/internal/registry"
	"github.com/relaychat/chatserver/internal/session"
)

// reapInterval is how often the background reaper sweeps idle sessions
// and stale connection-limiter state. The reaper does not touch the
// message rate limiter, which sweeps its own buckets lazily on access.
const reapInterval = 30 * time.Second

// Server owns the listening socket and the background reaper; it is the
// composition point for the registry, broker, and rate/connection
// limiters.
type Server struct {
	cfg *config.Config
	log *logrus.Logger

	reg *registry.Registry
	brk *broker.Broker
	cl  *connlimit.Limiter
	mon *monitor.Hub

	listener net.Listener
	ready    atomic.Bool
}

// New wires a Server over already-constructed collaborators. mon may be
// nil when the monitor feed is disabled.
func New(cfg *config.Config, log *logrus.Logger, reg *registry.Registry, brk *broker.Broker, cl *connlimit.Limiter, mon *monitor.Hub) *Server {
	return &Server{cfg: cfg, log: log, reg: reg, brk: brk, cl: cl, mon: mon}
}

// Run listens on cfg.Addr(), accepts connections until ctx is canceled,
// and blocks until the accept loop and reaper both exit. It returns the
// first non-shutdown error encountered, if any.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.WithField("addr", s.cfg.Addr()).Info("chat server listening")
	s.ready.Store(true)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gctx)
	})

	g.Go(func() error {
		s.reapLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.ready.Store(false)
		return s.listener.Close()
	})

	return g.Wait()
}

// Ready reports whether the acceptor is bound and not mid-shutdown, for
// the admin readiness probe.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		ip = conn.RemoteAddr().String()
	}
	address := conn.RemoteAddr().String()

	readTimeout := time.Duration(s.cfg.ConnectionTimeoutSeconds) * time.Second

	sess := session.New(conn, "", s.reg, s.brk, s.log, readTimeout, s.cfg.MaxUsernameLength, s.cfg.StrictValidation)

	client, err := s.reg.Add(sess, address, ip, "")
	if err != nil {
		reason := "admission_refused"
		if refusal, ok := err.(*connlimit.RefusalError); ok {
			reason = string(refusal.Category)
		}
		metrics.ConnectionsRejectedTotal.WithLabelValues(reason).Inc()
		s.log.WithFields(logrus.Fields{"ip": ip, "reason": reason}).Info("connection refused")
		_ = conn.Close()
		return
	}

	sess.SetConnID(client.ConnectionID)
	if s.mon != nil {
		sess.SetMonitor(s.mon)
	}
	metrics.ConnectionsAcceptedTotal.Inc()
	metrics.ConnectionsActive.Inc()
	s.log.WithFields(logrus.Fields{"ip": ip, "username": client.User.Username, "conn_id": client.ConnectionID}).Info("connection admitted")

	go sess.WritePump()

	s.brk.SendWelcome(client.ConnectionID)
	s.brk.BroadcastServerMessage(client.User.Username+" has joined the chat", client.ConnectionID, nil)
	s.brk.BroadcastUserList()
	if s.mon != nil {
		if data, err := json.Marshal(map[string]string{"conn_id": client.ConnectionID, "username": client.User.Username}); err == nil {
			s.mon.BroadcastEvent(monitor.EventJoin, data)
		}
	}

	sess.Run()

	metrics.ConnectionsActive.Dec()
}

// reapLoop periodically evicts idle sessions and prunes stale
// connection-limiter state until ctx is canceled.
func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idleThreshold := time.Duration(s.cfg.IdleTimeoutMinutes) * time.Minute
			reaped := s.reg.CleanupInactive(idleThreshold)
			if len(reaped) > 0 {
				s.log.WithField("count", len(reaped)).Info("reaped idle sessions")
				s.brk.BroadcastUserList()
			}
			s.cl.CleanupIdle()
		}
	}
}

// Stats assembles an admin-facing snapshot of the chat core's counters.
func (s *Server) Stats(startedAt time.Time) chatmodel.StatsSnapshot {
	active, totalAccepted, totalRejected, renameCount := s.reg.Counts()
	delivered, droppedRateLimit, droppedValidation := s.brk.Counts()
	return chatmodel.StatsSnapshot{
		ActiveConnections:         active,
		TotalConnectionsAccepted:  totalAccepted,
		TotalConnectionsRejected:  totalRejected,
		MessagesDelivered:         int(delivered),
		MessagesDroppedRateLimit:  int(droppedRateLimit),
		MessagesDroppedValidation: int(droppedValidation),
		RenameCount:               renameCount,
		UptimeSeconds:             time.Since(startedAt).Seconds(),
	}
}
