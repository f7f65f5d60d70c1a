package state

import (
	"testing"
	"time"
)

func ts(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func TestPutChatLastSnapshotWins(t *testing.T) {
	s := NewStore()

	s.PutChat(Chat{ID: "c1", LatestMessageText: "first", UpdatedAt: ts(1)})
	s.PutChat(Chat{ID: "c1", LatestMessageText: "second", UpdatedAt: ts(2)})
	s.PutChat(Chat{ID: "c1", LatestMessageText: "third", UpdatedAt: ts(3)})

	c, ok := s.Chat("c1")
	if !ok {
		t.Fatal("chat not found")
	}
	if c.LatestMessageText != "third" {
		t.Errorf("LatestMessageText = %q, want third (last delivered snapshot)", c.LatestMessageText)
	}
}

func TestPutChatReplacesWholeRecord(t *testing.T) {
	s := NewStore()

	s.PutChat(Chat{ID: "c1", ChatName: "old name", Users: []string{"a", "b", "c"}, IsGroupChat: true})
	// A later snapshot without a chat name clears it: replace, not merge.
	s.PutChat(Chat{ID: "c1", Users: []string{"a", "b"}, IsGroupChat: true})

	c, _ := s.Chat("c1")
	if c.ChatName != "" {
		t.Errorf("ChatName = %q, want empty after whole-record replacement", c.ChatName)
	}
	if len(c.Users) != 2 {
		t.Errorf("Users = %v, want 2 members", c.Users)
	}
}

func TestChatsSortedByUpdatedAtDescending(t *testing.T) {
	s := NewStore()
	s.PutChat(Chat{ID: "t1", UpdatedAt: ts(1)})
	s.PutChat(Chat{ID: "t3", UpdatedAt: ts(3)})
	s.PutChat(Chat{ID: "t2", UpdatedAt: ts(2)})

	chats := s.Chats()
	want := []string{"t3", "t2", "t1"}
	if len(chats) != len(want) {
		t.Fatalf("got %d chats, want %d", len(chats), len(want))
	}
	for i, id := range want {
		if chats[i].ID != id {
			t.Errorf("chats[%d].ID = %q, want %q", i, chats[i].ID, id)
		}
	}
}

func TestMessagesOrderedBySentAtThenKey(t *testing.T) {
	s := NewStore()
	s.ReplaceMessages("c1", map[string]Message{
		"mB": {SentBy: "u1", SentAt: ts(5), Text: "tie-b"},
		"mA": {SentBy: "u2", SentAt: ts(5), Text: "tie-a"},
		"m0": {SentBy: "u1", SentAt: ts(1), Text: "oldest"},
		"m9": {SentBy: "u2", SentAt: ts(9), Text: "newest"},
	})

	msgs := s.Messages("c1")
	want := []string{"m0", "mA", "mB", "m9"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, id)
		}
	}
}

func TestReplaceMessagesIsFullSetReplacement(t *testing.T) {
	s := NewStore()
	s.ReplaceMessages("c1", map[string]Message{
		"m1": {Text: "one", SentAt: ts(1)},
		"m2": {Text: "two", SentAt: ts(2)},
	})
	// Next snapshot no longer contains m1.
	s.ReplaceMessages("c1", map[string]Message{
		"m2": {Text: "two", SentAt: ts(2)},
	})

	if _, ok := s.Message("c1", "m1"); ok {
		t.Error("m1 still present after snapshot that dropped it")
	}
	if len(s.Messages("c1")) != 1 {
		t.Errorf("got %d messages, want 1", len(s.Messages("c1")))
	}
}

func TestReplyResolution(t *testing.T) {
	s := NewStore()
	s.ReplaceMessages("c1", map[string]Message{
		"m1": {Text: "original", SentAt: ts(1)},
		"m2": {Text: "answer", SentAt: ts(2), ReplyTo: "m1"},
		"m3": {Text: "dangling", SentAt: ts(3), ReplyTo: "gone"},
	})

	m2, _ := s.Message("c1", "m2")
	orig, ok := s.Reply("c1", m2)
	if !ok {
		t.Fatal("reply target not resolved")
	}
	if orig.Text != "original" {
		t.Errorf("reply text = %q, want original", orig.Text)
	}

	// A dangling replyTo is skipped, not an error.
	m3, _ := s.Message("c1", "m3")
	if _, ok := s.Reply("c1", m3); ok {
		t.Error("dangling replyTo should not resolve")
	}

	// No replyTo at all.
	m1, _ := s.Message("c1", "m1")
	if _, ok := s.Reply("c1", m1); ok {
		t.Error("message without replyTo should not resolve")
	}
}

func TestStarredAggregation(t *testing.T) {
	s := NewStore()
	s.ReplaceStarred(map[string]map[string]StarredMark{
		"c1": {
			"m1": {StarredAt: ts(1)},
			"m2": {StarredAt: ts(3)},
		},
		"c2": {
			"m9": {StarredAt: ts(2)},
		},
	})

	marks := s.Starred()
	if len(marks) != 3 {
		t.Fatalf("got %d marks, want 3", len(marks))
	}
	// Most recently starred first; ids filled in from the index keys.
	if marks[0].ChatID != "c1" || marks[0].MessageID != "m2" {
		t.Errorf("marks[0] = %s/%s, want c1/m2", marks[0].ChatID, marks[0].MessageID)
	}
	if marks[2].MessageID != "m1" {
		t.Errorf("marks[2] = %s, want m1", marks[2].MessageID)
	}

	if !s.IsStarred("c1", "m1") {
		t.Error("c1/m1 should be starred")
	}
	if s.IsStarred("c1", "gone") {
		t.Error("c1/gone should not be starred")
	}
}

func TestUserPatchThenSnapshotWins(t *testing.T) {
	s := NewStore()

	// Snapshot arrives first.
	s.PutUser(User{ID: "u1", FirstName: "Ana", LastName: "Silva", About: "hello"})

	// Local optimistic patch after a profile update action.
	u, _ := s.User("u1")
	u.About = "updated locally"
	s.PutUser(u)

	got, _ := s.User("u1")
	if got.About != "updated locally" {
		t.Errorf("About = %q, want local patch applied", got.About)
	}

	// A later full snapshot for the same key wins, idempotently.
	snapshot := User{ID: "u1", FirstName: "Ana", LastName: "Silva", About: "from server"}
	s.PutUser(snapshot)
	s.PutUser(snapshot)

	got, _ = s.User("u1")
	if got.About != "from server" {
		t.Errorf("About = %q, want later snapshot to win", got.About)
	}
}

func TestRemoveChatPrunesEverything(t *testing.T) {
	s := NewStore()
	s.PutChat(Chat{ID: "c1", UpdatedAt: ts(1)})
	s.ReplaceMessages("c1", map[string]Message{"m1": {Text: "x"}})
	s.ReplaceStarred(map[string]map[string]StarredMark{"c1": {"m1": {StarredAt: ts(1)}}})

	s.RemoveChat("c1")

	if _, ok := s.Chat("c1"); ok {
		t.Error("chat still present after RemoveChat")
	}
	if len(s.Messages("c1")) != 0 {
		t.Error("messages still present after RemoveChat")
	}
	if s.IsStarred("c1", "m1") {
		t.Error("starred mark still present after RemoveChat")
	}
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.PutUser(User{ID: "u1"})
	s.PutChat(Chat{ID: "c1"})
	s.ReplaceMessages("c1", map[string]Message{"m1": {Text: "x"}})

	s.Clear()

	if len(s.Chats()) != 0 {
		t.Error("chats remain after Clear")
	}
	if _, ok := s.User("u1"); ok {
		t.Error("users remain after Clear")
	}
	if len(s.Messages("c1")) != 0 {
		t.Error("messages remain after Clear")
	}
}
