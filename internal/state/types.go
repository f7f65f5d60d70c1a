package state

import (
	"strings"
	"time"
)

// User represents a registered person. The remote record lives at
// users/{userId}; FirstLast is the lowercase searchable form and is kept
// in sync with the name fields on every profile update.
type User struct {
	ID             string            `json:"userId"`
	FirstName      string            `json:"firstName"`
	LastName       string            `json:"lastName"`
	FirstLast      string            `json:"firstLast"`
	Email          string            `json:"email"`
	About          string            `json:"about,omitempty"`
	ProfilePicture string            `json:"profilePicture,omitempty"`
	SignUpDate     time.Time         `json:"signUpDate,omitzero"`
	PushTokens     map[string]string `json:"pushTokens,omitempty"`
}

// DisplayName returns the user's human-readable name.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeName returns the lowercase searchable form of a name pair.
func NormalizeName(first, last string) string {
	return strings.ToLower(strings.TrimSpace(first + " " + last))
}

// Chat represents a conversation, 1:1 or group. The record is stored
// denormalized at chats/{chatId}; ID is the snapshot key, not a field
// of the remote record.
type Chat struct {
	ID                string    `json:"-"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt,omitzero"`
	UpdatedBy         string    `json:"updatedBy"`
	UpdatedAt         time.Time `json:"updatedAt,omitzero"`
	Users             []string  `json:"users"`
	IsGroupChat       bool      `json:"isGroupChat,omitempty"`
	ChatName          string    `json:"chatName,omitempty"`
	ChatImage         string    `json:"chatImage,omitempty"`
	LatestMessageText string    `json:"latestMessageText,omitempty"`
}

// HasMember reports whether userID is in the chat's member list.
func (c Chat) HasMember(userID string) bool {
	for _, id := range c.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// KindInfo marks a system-info message describing a chat lifecycle
// event (participant added/removed) rather than user-authored content.
const KindInfo = "info"

// Message is a single unit of conversation content. ID is the snapshot
// key within messages/{chatId}.
type Message struct {
	ID       string    `json:"-"`
	SentBy   string    `json:"sentBy"`
	SentAt   time.Time `json:"sentAt,omitzero"`
	Text     string    `json:"text"`
	ImageURL string    `json:"imageUrl,omitempty"`
	ReplyTo  string    `json:"replyTo,omitempty"`
	Kind     string    `json:"type,omitempty"`
}

// IsInfo reports whether the message is a system-info message.
func (m Message) IsInfo() bool {
	return m.Kind == KindInfo
}

// StarredMark is a user's bookmark of a message. Presence of the record
// at userStarredMessages/{userId}/{chatId}/{messageId} is the flag.
type StarredMark struct {
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	StarredAt time.Time `json:"starredAt,omitzero"`
}
