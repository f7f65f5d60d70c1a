package state

import "sync"

// Store holds the normalized in-memory model: User, Chat, Message and
// StarredMark maps keyed by id. It is the single source of truth read
// by presentation. All mutation is whole-record replace-by-key; records
// always come from the remote source of truth except local optimistic
// profile patches, which a later snapshot for the same key overwrites.
type Store struct {
	mu       sync.RWMutex
	users    map[string]User
	chats    map[string]Chat
	messages map[string]map[string]Message
	starred  map[string]map[string]StarredMark
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.users = make(map[string]User)
	s.chats = make(map[string]Chat)
	s.messages = make(map[string]map[string]Message)
	s.starred = make(map[string]map[string]StarredMark)
}

// PutUser replaces the record for u.ID.
func (s *Store) PutUser(u User) {
	if u.ID == "" {
		return
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

// PutUsers replaces the records for every user in the batch.
func (s *Store) PutUsers(users []User) {
	s.mu.Lock()
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		s.users[u.ID] = u
	}
	s.mu.Unlock()
}

// User returns the cached record for id.
func (s *Store) User(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// PutChat replaces the full denormalized record for c.ID.
func (s *Store) PutChat(c Chat) {
	if c.ID == "" {
		return
	}
	s.mu.Lock()
	s.chats[c.ID] = c
	s.mu.Unlock()
}

// Chat returns the cached record for id.
func (s *Store) Chat(id string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	return c, ok
}

// RemoveChat drops a chat and its messages and starred marks. Used when
// the membership index no longer references the chat.
func (s *Store) RemoveChat(id string) {
	s.mu.Lock()
	delete(s.chats, id)
	delete(s.messages, id)
	delete(s.starred, id)
	s.mu.Unlock()
}

// ReplaceMessages replaces the full message set for a chat with the
// latest snapshot. Message IDs must already be set on the records.
func (s *Store) ReplaceMessages(chatID string, msgs map[string]Message) {
	if chatID == "" {
		return
	}
	copied := make(map[string]Message, len(msgs))
	for id, m := range msgs {
		m.ID = id
		copied[id] = m
	}
	s.mu.Lock()
	s.messages[chatID] = copied
	s.mu.Unlock()
}

// Message returns a single message by chat and id.
func (s *Store) Message(chatID, messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[chatID][messageID]
	return m, ok
}

// ReplaceStarred replaces the full starred index for the session user.
// The outer key is chat id, the inner key message id.
func (s *Store) ReplaceStarred(marks map[string]map[string]StarredMark) {
	copied := make(map[string]map[string]StarredMark, len(marks))
	for chatID, byMsg := range marks {
		inner := make(map[string]StarredMark, len(byMsg))
		for msgID, mark := range byMsg {
			mark.ChatID = chatID
			mark.MessageID = msgID
			inner[msgID] = mark
		}
		copied[chatID] = inner
	}
	s.mu.Lock()
	s.starred = copied
	s.mu.Unlock()
}

// IsStarred reports whether the session user has starred the message.
func (s *Store) IsStarred(chatID, messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.starred[chatID][messageID]
	return ok
}

// Clear wipes all local state. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
}
