package state

import "testing"

func TestChatTitleGroupChat(t *testing.T) {
	s := NewStore()
	chat := Chat{ID: "c1", IsGroupChat: true, ChatName: "weekend plans", Users: []string{"a", "b", "c"}}

	if got := s.ChatTitle(chat, "a"); got != "weekend plans" {
		t.Errorf("ChatTitle = %q, want weekend plans", got)
	}
}

func TestChatTitleDirectChat(t *testing.T) {
	s := NewStore()
	s.PutUser(User{ID: "a", FirstName: "Ana", LastName: "Silva"})
	s.PutUser(User{ID: "b", FirstName: "Bruno", LastName: "Dias"})
	chat := Chat{ID: "c1", Users: []string{"a", "b"}}

	if got := s.ChatTitle(chat, "a"); got != "Bruno Dias" {
		t.Errorf("ChatTitle for a = %q, want Bruno Dias", got)
	}
	if got := s.ChatTitle(chat, "b"); got != "Ana Silva" {
		t.Errorf("ChatTitle for b = %q, want Ana Silva", got)
	}
}

func TestChatTitleSkipsUnresolvedUsers(t *testing.T) {
	s := NewStore()
	s.PutUser(User{ID: "b", FirstName: "Bruno", LastName: "Dias"})
	// "ghost" has no profile record; the view skips it instead of failing.
	chat := Chat{ID: "c1", IsGroupChat: false, Users: []string{"a", "b", "ghost"}}

	if got := s.ChatTitle(chat, "a"); got != "Bruno Dias" {
		t.Errorf("ChatTitle = %q, want Bruno Dias (ghost skipped)", got)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		first, last, want string
	}{
		{"Ana", "Silva", "ana silva"},
		{"BRUNO", "DIAS", "bruno dias"},
		{"", "Solo", "solo"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.first, tt.last); got != tt.want {
			t.Errorf("NormalizeName(%q, %q) = %q, want %q", tt.first, tt.last, got, tt.want)
		}
	}
}
