// Package chatmodel defines the shared data model: User, Message, and the
// well-defined statistics snapshot that replaces the source's broken
// get_statistics accessor.
package chatmodel

import "time"

// MessageType is a closed enum; Message is treated as a sum/variant rather
// than an open record, per the "dynamic typing -> tagged variants" design
// note.
type MessageType string

const (
	MessageChat        MessageType = "CHAT"
	MessageServer      MessageType = "SERVER"
	MessageUserList    MessageType = "USER_LIST"
	MessageCommand     MessageType = "COMMAND"
	MessageUserCommand MessageType = "USER_COMMAND"
)

// User is the registry's view of a connected peer's identity and activity.
type User struct {
	Username        string
	Address         string
	ConnectionTime  time.Time
	LastActivity    time.Time
	MessageCount    int
}

// Message is a single routed record, post-sanitization.
type Message struct {
	Content     string
	Sender      string
	Timestamp   time.Time
	Type        MessageType
	Recipient   string // empty when not a direct message
}

// StatsSnapshot is the well-defined replacement for the source's
// unreferenced, broken get_statistics: a plain, fully-populated record
// with no attribute ever left unset.
type StatsSnapshot struct {
	ActiveConnections            int
	TotalConnectionsAccepted     int
	TotalConnectionsRejected     int
	MessagesDelivered            int
	MessagesDroppedRateLimit     int
	MessagesDroppedValidation    int
	RenameCount                  int
	UptimeSeconds                float64
}
