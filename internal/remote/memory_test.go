package remote

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryWriteAndReadOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, "users/u1", map[string]any{"firstName": "Ana"}); err != nil {
		t.Fatal(err)
	}

	data, err := m.ReadOnce(ctx, "users/u1")
	if err != nil {
		t.Fatal(err)
	}
	var user map[string]any
	if err := json.Unmarshal(data, &user); err != nil {
		t.Fatal(err)
	}
	if user["firstName"] != "Ana" {
		t.Errorf("firstName = %v, want Ana", user["firstName"])
	}
}

func TestMemoryReadOnceAbsent(t *testing.T) {
	m := NewMemory()
	data, err := m.ReadOnce(context.Background(), "users/missing")
	if err != nil {
		t.Fatal(err)
	}
	if data != nil {
		t.Errorf("ReadOnce(absent) = %s, want nil", data)
	}
}

func TestMemorySubscribeDeliversInitialAndChanges(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, "chats/c1", map[string]any{"latestMessageText": "hi"}); err != nil {
		t.Fatal(err)
	}

	var snaps []Snapshot
	h, err := m.Subscribe(ctx, "chats/c1", func(s Snapshot) {
		snaps = append(snaps, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Cancel()

	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots after attach, want 1 (initial full value)", len(snaps))
	}
	if !snaps[0].Exists() {
		t.Error("initial snapshot should carry the current value")
	}

	if err := m.Update(ctx, "chats/c1", map[string]any{"latestMessageText": "bye"}); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots after update, want 2", len(snaps))
	}
	var chat map[string]any
	if err := json.Unmarshal(snaps[1].Data, &chat); err != nil {
		t.Fatal(err)
	}
	if chat["latestMessageText"] != "bye" {
		t.Errorf("latestMessageText = %v, want bye (full current value)", chat["latestMessageText"])
	}
}

func TestMemorySubscribeAbsentPath(t *testing.T) {
	m := NewMemory()

	var snaps []Snapshot
	h, err := m.Subscribe(context.Background(), "userChats/u1", func(s Snapshot) {
		snaps = append(snaps, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Cancel()

	// Absent is not an error: an initial empty snapshot is delivered.
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	if snaps[0].Exists() {
		t.Error("snapshot for absent path should not exist")
	}
}

func TestMemoryDescendantWriteNotifiesSubscriber(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	count := 0
	h, _ := m.Subscribe(ctx, "messages/c1", func(Snapshot) { count++ })
	defer h.Cancel()

	if err := m.Write(ctx, "messages/c1/m1", map[string]any{"text": "hello"}); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("got %d callbacks, want 2 (initial + descendant write)", count)
	}

	// Unrelated path must not notify.
	if err := m.Write(ctx, "messages/c2/m1", map[string]any{"text": "other"}); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("got %d callbacks after unrelated write, want 2", count)
	}
}

func TestMemoryCancelIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	count := 0
	h, _ := m.Subscribe(ctx, "chats/c1", func(Snapshot) { count++ })
	h.Cancel()
	h.Cancel() // second cancel is a no-op

	if err := m.Write(ctx, "chats/c1", map[string]any{"chatName": "x"}); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("got %d callbacks, want 1 (only the initial one)", count)
	}
}

func TestMemoryAppendGeneratesKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	k1, err := m.Append(ctx, "messages/c1", map[string]any{"text": "one"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := m.Append(ctx, "messages/c1", map[string]any{"text": "two"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 == "" || k2 == "" || k1 == k2 {
		t.Errorf("keys = %q, %q: want distinct non-empty keys", k1, k2)
	}

	data, err := m.ReadOnce(ctx, "messages/c1")
	if err != nil {
		t.Fatal(err)
	}
	var msgs map[string]map[string]any
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestMemoryUpdateMergesFields(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, "chats/c1", map[string]any{"chatName": "team", "latestMessageText": "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Update(ctx, "chats/c1", map[string]any{"latestMessageText": "bye"}); err != nil {
		t.Fatal(err)
	}

	data, _ := m.ReadOnce(ctx, "chats/c1")
	var chat map[string]any
	if err := json.Unmarshal(data, &chat); err != nil {
		t.Fatal(err)
	}
	if chat["chatName"] != "team" {
		t.Errorf("chatName = %v, want team (sibling field untouched)", chat["chatName"])
	}
	if chat["latestMessageText"] != "bye" {
		t.Errorf("latestMessageText = %v, want bye", chat["latestMessageText"])
	}
}

func TestMemoryRemoveAbsentSucceeds(t *testing.T) {
	m := NewMemory()
	if err := m.Remove(context.Background(), "chats/ghost"); err != nil {
		t.Errorf("Remove(absent) error = %v, want nil", err)
	}
}

func TestMemoryQueryByPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	users := map[string]map[string]any{
		"u1": {"firstLast": "ana silva"},
		"u2": {"firstLast": "ana costa"},
		"u3": {"firstLast": "bruno dias"},
	}
	for id, u := range users {
		if err := m.Write(ctx, "users/"+id, u); err != nil {
			t.Fatal(err)
		}
	}

	data, err := m.QueryByPrefix(ctx, "users", "firstLast", "ana")
	if err != nil {
		t.Fatal(err)
	}
	var matches map[string]map[string]any
	if err := json.Unmarshal(data, &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("got %d matches, want 2", len(matches))
	}
	if _, ok := matches["u3"]; ok {
		t.Error("u3 should not match prefix 'ana'")
	}

	empty, err := m.QueryByPrefix(ctx, "users", "firstLast", "zzz")
	if err != nil {
		t.Fatal(err)
	}
	if empty != nil {
		t.Errorf("no-match query = %s, want nil", empty)
	}
}
