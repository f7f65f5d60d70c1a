package remote

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is the contract the sync core requires from the hosted realtime
// database. Paths are slash-separated ("chats/abc123"). Values are JSON.
// All writes are eventually consistent; there is no multi-path atomicity.
type Store interface {
	// Subscribe attaches a listener to path. The listener receives the
	// full current value at the path immediately and again on every
	// subsequent change (never a diff). Callbacks for one subscription
	// are delivered serially, never overlapping.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Handle, error)

	// ReadOnce fetches the current value at path. A nil RawMessage means
	// the path is absent.
	ReadOnce(ctx context.Context, path string) (json.RawMessage, error)

	// Write replaces the value at path.
	Write(ctx context.Context, path string, value any) error

	// Update merges the given fields into the value at path without
	// touching sibling fields.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Remove deletes the value at path. Removing an absent path succeeds.
	Remove(ctx context.Context, path string) error

	// Append adds value under a server-generated key at the collection
	// path and returns that key.
	Append(ctx context.Context, path string, value any) (string, error)

	// QueryByPrefix returns the children of path whose childKey field
	// starts with prefix, as a JSON object keyed by child id. A nil
	// RawMessage means no matches.
	QueryByPrefix(ctx context.Context, path, childKey, prefix string) (json.RawMessage, error)
}

// Snapshot is the full current value at a subscribed path. Data is nil
// when the path is absent.
type Snapshot struct {
	Path string
	Data json.RawMessage
}

// Exists reports whether the snapshot carries a value.
func (s Snapshot) Exists() bool {
	return len(s.Data) > 0 && string(s.Data) != "null"
}

// Handle identifies an active subscription. Cancel is idempotent.
type Handle interface {
	Cancel()
}

// Remote path schema. Kept in one place so the engine, actions and tests
// agree on the layout.
func UserPath(userID string) string        { return "users/" + userID }
func UsersPath() string                    { return "users" }
func PushTokensPath(userID string) string  { return "users/" + userID + "/pushTokens" }
func ChatPath(chatID string) string        { return "chats/" + chatID }
func ChatsPath() string                    { return "chats" }
func UserChatsPath(userID string) string   { return "userChats/" + userID }
func MessagesPath(chatID string) string    { return "messages/" + chatID }
func StarredIndexPath(userID string) string { return "userStarredMessages/" + userID }
func StarredMarkPath(userID, chatID, messageID string) string {
	return fmt.Sprintf("userStarredMessages/%s/%s/%s", userID, chatID, messageID)
}
