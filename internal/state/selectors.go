package state

import (
	"sort"
	"strings"
)

// Chats returns all chats sorted by UpdatedAt descending.
func (s *Store) Chats() []Chat {
	s.mu.RLock()
	chats := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		chats = append(chats, c)
	}
	s.mu.RUnlock()

	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
	return chats
}

// Messages returns the message thread for a chat ordered by send time
// ascending, ties broken by insertion key. Send times are not globally
// monotonic (concurrent senders), which is why the key tiebreak matters.
func (s *Store) Messages(chatID string) []Message {
	s.mu.RLock()
	byID := s.messages[chatID]
	msgs := make([]Message, 0, len(byID))
	for _, m := range byID {
		msgs = append(msgs, m)
	}
	s.mu.RUnlock()

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

// Reply resolves a message's replyTo reference within the same chat.
// The result is a flat lookup, never a recursively embedded record.
func (s *Store) Reply(chatID string, m Message) (Message, bool) {
	if m.ReplyTo == "" {
		return Message{}, false
	}
	return s.Message(chatID, m.ReplyTo)
}

// Starred aggregates all starred marks across chats into a flat
// sequence, most recently starred first.
func (s *Store) Starred() []StarredMark {
	s.mu.RLock()
	var marks []StarredMark
	for _, byMsg := range s.starred {
		for _, mark := range byMsg {
			marks = append(marks, mark)
		}
	}
	s.mu.RUnlock()

	sort.Slice(marks, func(i, j int) bool {
		if !marks[i].StarredAt.Equal(marks[j].StarredAt) {
			return marks[i].StarredAt.After(marks[j].StarredAt)
		}
		if marks[i].ChatID != marks[j].ChatID {
			return marks[i].ChatID < marks[j].ChatID
		}
		return marks[i].MessageID < marks[j].MessageID
	})
	return marks
}

// ChatTitle resolves the display title of a chat for the given viewer.
// Group chats use their chat name; 1:1 chats use the other member's
// name. Members with no cached profile are skipped rather than failing
// the whole resolution.
func (s *Store) ChatTitle(chat Chat, viewerID string) string {
	if chat.IsGroupChat {
		return chat.ChatName
	}
	var names []string
	s.mu.RLock()
	for _, uid := range chat.Users {
		if uid == viewerID {
			continue
		}
		u, ok := s.users[uid]
		if !ok {
			continue
		}
		names = append(names, u.DisplayName())
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return strings.Join(names, ", ")
}
