// Package registry implements the client registry (C5): the authoritative
// connection-id -> session map with reverse indexes by socket and
// username, username-conflict resolution, and the bounded shared CHAT
// history. Map-consistency-as-a-transaction is enforced with a single
// coarse mutex, the same shape the teacher uses for its own map-protecting
// locks (e.g. the rate limiter's bucket map), since the hub's
// single-owning-goroutine pattern doesn't fit a synchronous add/remove API.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaychat/chatserver/internal/chatmodel"
)

// Sender is the narrow write primitive a session exposes to the registry
// and broker; it must serialize its own writes (mutex or writer-goroutine
// backed), per the per-socket write serialization design note.
type Sender interface {
	Send(tag, payload string) error
	Close() error
}

// ConnectionLimiter is the collaborator consulted on admission and
// notified on release; satisfied by *connlimit.Limiter.
type ConnectionLimiter interface {
	TryAdmit(ip, connID string) error
	Release(ip, connID string)
}

// ClientSession is the registry's primary record: the session's identity,
// its exclusively-owned write handle, and bookkeeping.
type ClientSession struct {
	ConnectionID string
	IP           string
	Sender       Sender
	User         chatmodel.User
}

// maxConflictIterations bounds the conflict-resolution search before
// falling back to a microsecond-suffixed name to guarantee termination.
const maxConflictIterations = 1000

// Registry is the process-wide singleton owning the three consistency-
// linked maps plus the bounded CHAT history.
type Registry struct {
	mu sync.Mutex

	connections map[string]*ClientSession
	bySocket    map[Sender]string
	byUsername  map[string]string

	history    []chatmodel.Message
	historyCap int

	connLimiter ConnectionLimiter

	now func() time.Time

	// counters, surfaced via Stats
	totalAccepted int
	totalRejected int
	renameCount   int
}

// New creates an empty Registry bounding history at historyCap (hard-capped
// by the caller's configuration validation).
func New(connLimiter ConnectionLimiter, historyCap int) *Registry {
	return &Registry{
		connections: make(map[string]*ClientSession),
		bySocket:    make(map[Sender]string),
		byUsername:  make(map[string]string),
		historyCap:  historyCap,
		connLimiter: connLimiter,
		now:         time.Now,
	}
}

// ErrDuplicateSocket is returned when Add is called twice for the same
// Sender without an intervening Remove.
var ErrDuplicateSocket = fmt.Errorf("registry: socket already registered")

// Add admits a new session: consults the connection limiter, allocates a
// connection-id, resolves a username conflict, and inserts into all three
// maps atomically.
func (r *Registry) Add(sender Sender, address, ip, desiredUsername string) (*ClientSession, error) {
	connID := uuid.NewString()

	if err := r.connLimiter.TryAdmit(ip, connID); err != nil {
		r.mu.Lock()
		r.totalRejected++
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySocket[sender]; exists {
		r.connLimiter.Release(ip, connID)
		return nil, ErrDuplicateSocket
	}

	if desiredUsername == "" {
		desiredUsername = "User_" + address
	}

	effective := r.resolveConflictLocked(desiredUsername, "")

	now := r.now()
	session := &ClientSession{
		ConnectionID: connID,
		IP:           ip,
		Sender:       sender,
		User: chatmodel.User{
			Username:       effective,
			Address:        address,
			ConnectionTime: now,
			LastActivity:   now,
		},
	}

	r.connections[connID] = session
	r.bySocket[sender] = connID
	r.byUsername[effective] = connID
	r.totalAccepted++

	return session, nil
}

// Remove atomically evicts connID from all three maps, returning false if
// it was already absent (idempotent).
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	session, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.connections, connID)
	delete(r.bySocket, session.Sender)
	delete(r.byUsername, session.User.Username)
	r.mu.Unlock()

	r.connLimiter.Release(session.IP, connID)
	return true
}

// UpdateUsername resolves a conflict (excluding the requesting session's
// current name, so idempotent renames are no-ops) and updates byUsername
// and the embedded User transactionally.
func (r *Registry) UpdateUsername(connID, newUsername string) (ok bool, oldUsername string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.connections[connID]
	if !exists {
		return false, ""
	}

	old := session.User.Username
	effective := r.resolveConflictLocked(newUsername, old)

	if effective == old {
		session.User.LastActivity = r.now()
		return true, old
	}

	delete(r.byUsername, old)
	r.byUsername[effective] = connID
	session.User.Username = effective
	session.User.LastActivity = r.now()
	r.renameCount++

	return true, old
}

// resolveConflictLocked implements the conflict-resolution algorithm:
// base, base_2, base_3, ... capped at maxConflictIterations, falling back
// to a microsecond-suffixed name. The caller's own current name (excluding)
// is never treated as a conflict.
func (r *Registry) resolveConflictLocked(desired, excluding string) string {
	if desired == excluding {
		return desired
	}

	if owner, taken := r.byUsername[desired]; !taken || r.connections[owner].User.Username == excluding {
		return desired
	}

	for i := 2; i <= maxConflictIterations; i++ {
		candidate := fmt.Sprintf("%s_%d", desired, i)
		if candidate == excluding {
			return candidate
		}
		if _, taken := r.byUsername[candidate]; !taken {
			return candidate
		}
	}

	return fmt.Sprintf("%s_%d", desired, r.now().UnixMicro())
}

// UpdateActivity touches last_activity for connID.
func (r *Registry) UpdateActivity(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.connections[connID]; ok {
		session.User.LastActivity = r.now()
	}
}

// IncrementMessageCount bumps the session's monotonic message counter.
func (r *Registry) IncrementMessageCount(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.connections[connID]; ok {
		session.User.MessageCount++
	}
}

// UserEntry is one row of a user-list snapshot.
type UserEntry struct {
	Username string
	Address  string
}

// UserList returns a snapshot of all sessions' (username, address) taken
// under the lock; no iterator escapes the lock.
func (r *Registry) UserList() []UserEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]UserEntry, 0, len(r.connections))
	for _, session := range r.connections {
		out = append(out, UserEntry{Username: session.User.Username, Address: session.User.Address})
	}
	return out
}

// UserListString renders the snapshot as "u1(a1),u2(a2),...".
func UserListString(entries []UserEntry) string {
	var out string
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s(%s)", e.Username, e.Address)
	}
	return out
}

// Snapshot returns every currently-registered session, taken under the
// lock, for the broker to fan out to after releasing the lock.
func (r *Registry) Snapshot() []*ClientSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ClientSession, 0, len(r.connections))
	for _, session := range r.connections {
		out = append(out, session)
	}
	return out
}

// Get returns the session for connID, if present.
func (r *Registry) Get(connID string) (*ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.connections[connID]
	return session, ok
}

// AddToHistory appends a CHAT message, evicting from the front past
// capacity. Non-CHAT messages are silently ignored, per invariant 3.
func (r *Registry) AddToHistory(msg chatmodel.Message) {
	if msg.Type != chatmodel.MessageChat {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, msg)
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}
}

// History returns up to the last n CHAT messages, oldest first.
func (r *Registry) History(n int) []chatmodel.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.history) {
		n = len(r.history)
	}
	start := len(r.history) - n
	out := make([]chatmodel.Message, n)
	copy(out, r.history[start:])
	return out
}

// CleanupInactive closes and removes sessions idle past threshold,
// tolerating concurrent termination (idempotent removal). It returns the
// connection-ids it reaped.
func (r *Registry) CleanupInactive(threshold time.Duration) []string {
	now := r.now()

	r.mu.Lock()
	var stale []*ClientSession
	for _, session := range r.connections {
		if now.Sub(session.User.LastActivity) > threshold {
			stale = append(stale, session)
		}
	}
	r.mu.Unlock()

	var reaped []string
	for _, session := range stale {
		if r.Remove(session.ConnectionID) {
			_ = session.Sender.Close()
			reaped = append(reaped, session.ConnectionID)
		}
	}
	return reaped
}

// Counts returns (active, totalAccepted, totalRejected, renameCount) for
// the admin /stats surface.
func (r *Registry) Counts() (active, totalAccepted, totalRejected, renameCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections), r.totalAccepted, r.totalRejected, r.renameCount
}
