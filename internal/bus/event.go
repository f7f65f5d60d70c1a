package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Presentation subscribes by namespace
// prefix ("chat.", "message.", "sync.", "session.").
const (
	KindChatUpdated    = "chat.updated"
	KindChatRemoved    = "chat.removed"
	KindMessageSynced  = "message.synced"
	KindMessageSending = "message.sending"
	KindMessageSent    = "message.sent"
	KindMessageFailed  = "message.send_failed"
	KindStarredUpdated = "message.starred_updated"
	KindSyncReady      = "sync.ready"
	KindSyncStopped    = "sync.stopped"
	KindStatusChanged  = "session.status_changed"
	KindSessionExpired = "session.expired"
)
