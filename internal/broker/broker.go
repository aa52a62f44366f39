// Package broker implements the message broker (C6): routes validated
// messages to recipients, broadcasts with filters, integrates the rate
// limiter and validator, and maintains bounded history. The fan-out loop
// and backpressure-drop policy are adapted from the teacher's
// internal/ws.Hub broadcast loop, collapsed from a channel-owned map to a
// direct registry-snapshot-then-iterate per the locking discipline in
// spec.md §5 (release the registry lock before iterating recipients).
package broker

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/relaychat/chatserver/internal/chatmodel"
	"github.com/relaychat/chatserver/internal/registry"
	"github.com/relaychat/chatserver/internal/validate"
)

// welcomeReplayLimit bounds how many CHAT messages send_welcome replays.
const welcomeReplayLimit = 20

// ErrSenderMissing is a fatal error: the sender's session is gone.
var ErrSenderMissing = errors.New("broker: sender session not found")

// ErrRateLimited is raised when the sender's own bucket refuses the frame.
var ErrRateLimited = errors.New("broker: sender rate limited")

// ErrValidation wraps a failed validation result.
type ErrValidation struct {
	Errors []string
}

func (e *ErrValidation) Error() string { return "broker: validation failed" }

// RateLimiter is the narrow collaborator the broker consumes; satisfied by
// *ratelimit.Limiter.
type RateLimiter interface {
	Consume(principal string, n float64) bool
	Peek(principal string) float64
}

// DeliveryResult reports the outcome of processing one message.
type DeliveryResult struct {
	Success            bool
	DeliveredCount     int
	FailedCount        int
	Errors             []string
	RateLimitedClients []string
}

// Broker wires the registry, rate limiter, and validator together.
type Broker struct {
	registry      *registry.Registry
	rateLimiter   RateLimiter
	maxMessageLen int
	now           func() time.Time

	onDelivered func()
	onDroppedRateLimit func()
	onDroppedValidation func()

	delivered         atomic.Int64
	droppedRateLimit  atomic.Int64
	droppedValidation atomic.Int64
}

// Options configures optional delivery-count callbacks used by the admin
// stats surface; all are optional.
type Options struct {
	OnDelivered         func()
	OnDroppedRateLimit  func()
	OnDroppedValidation func()
}

// New creates a Broker over reg using rl for per-sender rate decisions.
func New(reg *registry.Registry, rl RateLimiter, maxMessageLen int, opts Options) *Broker {
	return &Broker{
		registry:            reg,
		rateLimiter:         rl,
		maxMessageLen:       maxMessageLen,
		now:                 time.Now,
		onDelivered:         opts.OnDelivered,
		onDroppedRateLimit:  opts.OnDroppedRateLimit,
		onDroppedValidation: opts.OnDroppedValidation,
	}
}

func (b *Broker) fire(cb func()) {
	if cb != nil {
		cb()
	}
}

// ProcessMessage validates, rate-limits, and fans out a CHAT (or other
// variant-typed) message from senderConnID, per §4.6.
func (b *Broker) ProcessMessage(senderConnID, content string, msgType chatmodel.MessageType, recipientConnID string) (DeliveryResult, error) {
	sender, ok := b.registry.Get(senderConnID)
	if !ok {
		return DeliveryResult{}, ErrSenderMissing
	}

	if !b.rateLimiter.Consume(senderConnID, 1) {
		b.droppedRateLimit.Add(1)
		b.fire(b.onDroppedRateLimit)
		return DeliveryResult{}, ErrRateLimited
	}

	res := validate.Message(content, b.maxMessageLen)
	if !res.OK {
		b.droppedValidation.Add(1)
		b.fire(b.onDroppedValidation)
		return DeliveryResult{}, &ErrValidation{Errors: res.Errors}
	}

	msg := chatmodel.Message{
		Content:   res.Sanitized,
		Sender:    sender.User.Username,
		Timestamp: b.now(),
		Type:      msgType,
		Recipient: recipientConnID,
	}

	if msgType == chatmodel.MessageChat {
		b.registry.AddToHistory(msg)
	}

	var result DeliveryResult

	if recipientConnID != "" {
		recipient, ok := b.registry.Get(recipientConnID)
		if !ok {
			result.Errors = append(result.Errors, "recipient not found")
			result.FailedCount++
		} else if b.rateLimiter.Peek(recipientConnID) < 1 {
			result.RateLimitedClients = append(result.RateLimitedClients, recipient.User.Username)
		} else if err := recipient.Sender.Send("MSG", sender.User.Username+": "+msg.Content); err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.FailedCount++
		} else {
			result.DeliveredCount++
		}
	} else {
		for _, peer := range b.registry.Snapshot() {
			if peer.ConnectionID == senderConnID {
				continue
			}
			// Broadcasts consult but do not consume recipient buckets.
			if b.rateLimiter.Peek(peer.ConnectionID) < 1 {
				result.RateLimitedClients = append(result.RateLimitedClients, peer.User.Username)
				continue
			}
			if err := peer.Sender.Send("MSG", sender.User.Username+": "+msg.Content); err != nil {
				result.Errors = append(result.Errors, err.Error())
				result.FailedCount++
				continue
			}
			result.DeliveredCount++
		}
	}

	result.Success = result.FailedCount == 0
	if result.DeliveredCount > 0 {
		b.delivered.Add(int64(result.DeliveredCount))
		b.fire(b.onDelivered)
	}

	b.registry.IncrementMessageCount(senderConnID)
	b.registry.UpdateActivity(senderConnID)

	return result, nil
}

// Counts returns cumulative delivered and dropped message counts, for the
// admin stats snapshot.
func (b *Broker) Counts() (delivered, droppedRateLimit, droppedValidation int64) {
	return b.delivered.Load(), b.droppedRateLimit.Load(), b.droppedValidation.Load()
}

// BroadcastServerMessage sends a SERVER-typed message to all sessions
// except exclude (if set), or only to includeOnly (if non-empty). It does
// not consult the validator or rate limiter and never enters history.
func (b *Broker) BroadcastServerMessage(content string, exclude string, includeOnly map[string]bool) {
	for _, peer := range b.registry.Snapshot() {
		if peer.ConnectionID == exclude {
			continue
		}
		if includeOnly != nil && !includeOnly[peer.ConnectionID] {
			continue
		}
		_ = peer.Sender.Send("SRV", content)
	}
}

// BroadcastUserList sends the authoritative ULIST snapshot to every
// session.
func (b *Broker) BroadcastUserList() {
	entries := b.registry.UserList()
	csv := registry.UserListString(entries)
	for _, peer := range b.registry.Snapshot() {
		_ = peer.Sender.Send("ULIST", csv)
	}
}

// SendWelcome delivers a welcome SERVER message to connID, then replays at
// most the last 20 CHAT messages from history.
func (b *Broker) SendWelcome(connID string) {
	session, ok := b.registry.Get(connID)
	if !ok {
		return
	}

	_ = session.Sender.Send("SRV", "Welcome to the chat, "+session.User.Username+"!")

	for _, msg := range b.registry.History(welcomeReplayLimit) {
		_ = session.Sender.Send("MSG", msg.Sender+": "+msg.Content)
	}
}
