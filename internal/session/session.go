// Package session implements the per-client session state machine (C7):
// a goroutine pair (reader + writer) over one net.Conn that dispatches
// frames to the broker/registry and handles disconnect and cleanup. The
// ReadPump/WritePump split and idempotent-close guard are adapted from the
// teacher's internal/ws.Client, generalized from a coder/websocket.Conn to
// a raw net.Conn and the NEW/ACTIVE/CLOSING/CLOSED states of §4.7.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaychat/chatserver/internal/broker"
	"github.com/relaychat/chatserver/internal/chatmodel"
	"github.com/relaychat/chatserver/internal/metrics"
	"github.com/relaychat/chatserver/internal/monitor"
	"github.com/relaychat/chatserver/internal/registry"
	"github.com/relaychat/chatserver/internal/validate"
	"github.com/relaychat/chatserver/internal/wire"
)

// State is one of NEW, ACTIVE, CLOSING, CLOSED.
type State int32

const (
	StateNew State = iota
	StateActive
	StateClosing
	StateClosed
)

const sendBuffer = 64

// Broker is the narrow collaborator the session dispatches validated
// frames to; satisfied by *broker.Broker.
type Broker interface {
	ProcessMessage(senderConnID, content string, msgType chatmodel.MessageType, recipientConnID string) (broker.DeliveryResult, error)
	BroadcastServerMessage(content string, exclude string, includeOnly map[string]bool)
	BroadcastUserList()
	SendWelcome(connID string)
}

// Registry is the narrow collaborator for lifecycle and identity.
type Registry interface {
	Remove(connID string) bool
	UpdateUsername(connID, newUsername string) (ok bool, oldUsername string)
	UpdateActivity(connID string)
	Get(connID string) (*registry.ClientSession, bool)
}

// Monitor is the narrow collaborator that receives operational
// notifications; satisfied by *monitor.Hub. Optional — a nil Monitor
// simply means the ops feed isn't wired up.
type Monitor interface {
	BroadcastEvent(eventType monitor.EventType, data json.RawMessage)
}

// Session is one connected peer's reader/writer pair and state.
type Session struct {
	conn   net.Conn
	connID string

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	reg Registry
	brk Broker
	mon Monitor
	log *logrus.Logger

	readTimeout       time.Duration
	maxUsernameLength int
	strict            bool

	state int32 // atomic-ish; only mutated from the read loop goroutine
}

// New creates a Session for an already-admitted connection. The caller is
// expected to have already called registry.Add and broker.SendWelcome /
// BroadcastUserList before invoking Run, per the NEW->ACTIVE transition in
// §4.7.
func New(conn net.Conn, connID string, reg Registry, brk Broker, log *logrus.Logger, readTimeout time.Duration, maxUsernameLength int, strict bool) *Session {
	return &Session{
		conn:              conn,
		connID:            connID,
		send:              make(chan []byte, sendBuffer),
		closed:            make(chan struct{}),
		reg:               reg,
		brk:               brk,
		log:               log,
		readTimeout:       readTimeout,
		maxUsernameLength: maxUsernameLength,
		strict:            strict,
		state:             int32(StateActive),
	}
}

// SetMonitor wires the optional ops-feed notifier after construction, so
// the acceptor can decide whether the monitor feed is enabled at all.
func (s *Session) SetMonitor(mon Monitor) { s.mon = mon }

func (s *Session) notify(eventType monitor.EventType, fields map[string]string) {
	if s.mon == nil {
		return
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return
	}
	s.mon.BroadcastEvent(eventType, data)
}

// SetConnID assigns the connection-id after registry.Add has allocated one,
// resolving the chicken-and-egg of needing a Sender to admit a connection
// before its id exists.
func (s *Session) SetConnID(id string) { s.connID = id }

// Send serializes a write onto the per-session send queue; satisfies
// registry.Sender. A full queue is treated as a failed delivery for that
// peer, not a disconnect — its own reader will observe the break later if
// the peer is actually gone.
func (s *Session) Send(tag, payload string) error {
	select {
	case s.send <- wire.Encode(tag, payload):
		return nil
	default:
		return errors.New("session: send buffer full")
	}
}

// Close idempotently closes the socket and the writer's channel.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// WritePump drains the send queue to the socket until closed. It should
// run as its own goroutine; writes may be enqueued from any goroutine
// (the broker fans out from the sender's own reader goroutine).
func (s *Session) WritePump() {
	for {
		select {
		case <-s.closed:
			return
		case buf, ok := <-s.send:
			if !ok {
				return
			}
			if _, err := s.conn.Write(buf); err != nil {
				return
			}
		}
	}
}

// Run is the ACTIVE-state read loop: it reads frames via the wire codec,
// dispatches them, and on any terminal condition transitions through
// CLOSING to CLOSED, performing the cleanup sequence from §4.7.
func (s *Session) Run() {
	defer s.teardown()

	dec := wire.NewDecoder(s.conn)

	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		rec, malformed, err := dec.ReadRecord()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// A read timeout is not a disconnect; the reader resumes.
				continue
			}
			// Peer FIN or unrecoverable transport error: -> CLOSING.
			return
		}

		if malformed {
			continue
		}

		if s.dispatch(rec) {
			// Strict-mode validation failure: -> CLOSING.
			return
		}
		s.reg.UpdateActivity(s.connID)
	}
}

// dispatch handles one decoded frame and reports whether the session
// should transition to CLOSING.
func (s *Session) dispatch(rec wire.Record) (closeSession bool) {
	switch rec.Tag {
	case wire.TagMsg:
		s.handleChat(rec.Payload)
	case wire.TagCmdUser:
		return s.handleCmdUser(rec.Payload)
	default:
		s.log.WithField("tag", rec.Tag).Debug("dropping unrecognized frame tag")
	}
	return false
}

func (s *Session) handleChat(payload string) {
	// The client may prepend "<username>: " cosmetically; the server
	// always re-derives the sender from the registry, never from this
	// payload, per the pinned open-question resolution.
	content := stripCosmeticPrefix(payload)

	_, err := s.brk.ProcessMessage(s.connID, content, chatmodel.MessageChat, "")
	if err != nil {
		// Rate-limit and validation failures are locally recovered: drop
		// the frame, log, and remain ACTIVE.
		s.log.WithError(err).Debug("chat frame dropped")
	}
}

func (s *Session) handleCmdUser(payload string) (closeSession bool) {
	res := validate.Username(payload, s.maxUsernameLength)
	if !res.OK {
		if s.strict {
			s.log.WithField("errors", res.Errors).Warn("strict-mode username validation failed, closing session")
			return true
		}
		s.log.WithField("errors", res.Errors).Debug("username change rejected")
		return false
	}

	ok, old := s.reg.UpdateUsername(s.connID, res.Sanitized)
	if !ok {
		return false
	}
	newName := res.Sanitized
	if client, found := s.reg.Get(s.connID); found {
		newName = client.User.Username
	}
	if old == newName {
		return false
	}

	s.brk.BroadcastServerMessage(fmt.Sprintf("%s is now known as %s", old, newName), "", nil)
	s.brk.BroadcastUserList()
	metrics.RenamesTotal.Inc()
	s.notify(monitor.EventRename, map[string]string{"old": old, "new": newName})
	return false
}

// teardown performs the CLOSING->CLOSED sequence: unregister, broadcast
// departure, and close the socket exactly once.
func (s *Session) teardown() {
	username := ""
	if client, ok := s.reg.Get(s.connID); ok {
		username = client.User.Username
	}

	s.reg.Remove(s.connID)
	s.brk.BroadcastServerMessage("a peer has left", s.connID, nil)
	s.brk.BroadcastUserList()
	s.notify(monitor.EventLeave, map[string]string{"conn_id": s.connID, "username": username})
	_ = s.Close()
}

func stripCosmeticPrefix(payload string) string {
	idx := indexColonSpace(payload)
	if idx < 0 {
		return payload
	}
	return payload[idx+2:]
}

func indexColonSpace(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ':' && s[i+1] == ' ' {
			return i
		}
	}
	return -1
}
