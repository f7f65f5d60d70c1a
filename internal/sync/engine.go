package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/matheus3301/pingme/internal/bus"
	"github.com/matheus3301/pingme/internal/cache"
	"github.com/matheus3301/pingme/internal/remote"
	"github.com/matheus3301/pingme/internal/state"
	"github.com/matheus3301/pingme/internal/status"
	"go.uber.org/zap"
)

// Engine keeps the in-memory state store mirroring the remote database
// for one signed-in user. It subscribes to the user's membership index
// and fans out per-chat subscriptions from it. The membership index is
// the single authority on which chats the user belongs to: chats it
// stops referencing are unsubscribed and pruned locally.
type Engine struct {
	remote  remote.Store
	state   *state.Store
	cache   *cache.DB // nil disables write-through
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu      sync.Mutex
	live    bool
	ready   bool
	userID  string
	ctx     context.Context
	cancel  context.CancelFunc
	index   remote.Handle
	starred remote.Handle
	self    remote.Handle
	chats   map[string]*chatSubs
	pending map[string]struct{}
	seen    map[string]struct{}
}

type chatSubs struct {
	chat     remote.Handle
	messages remote.Handle
}

// NewEngine creates a stopped engine.
func NewEngine(rs remote.Store, st *state.Store, db *cache.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Engine {
	return &Engine{
		remote:  rs,
		state:   st,
		cache:   db,
		bus:     b,
		machine: m,
		logger:  logger,
	}
}

// Start begins syncing for userID. It transitions the session to
// Syncing and to Ready once the initial membership index and every chat
// it references have been applied. An empty index is Ready immediately.
func (e *Engine) Start(ctx context.Context, userID string) error {
	e.mu.Lock()
	if e.live {
		e.mu.Unlock()
		return fmt.Errorf("sync engine already started")
	}
	e.live = true
	e.ready = false
	e.userID = userID
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.chats = make(map[string]*chatSubs)
	e.pending = make(map[string]struct{})
	e.seen = make(map[string]struct{})
	e.mu.Unlock()

	if err := e.machine.Transition(status.Syncing); err != nil {
		e.logger.Warn("unexpected session state at sync start", zap.Error(err))
	}

	self, err := e.remote.Subscribe(e.ctx, remote.UserPath(userID), e.onSelf)
	if err != nil {
		e.Stop()
		return fmt.Errorf("subscribe user: %w", err)
	}
	starred, err := e.remote.Subscribe(e.ctx, remote.StarredIndexPath(userID), e.onStarred)
	if err != nil {
		self.Cancel()
		e.Stop()
		return fmt.Errorf("subscribe starred index: %w", err)
	}
	index, err := e.remote.Subscribe(e.ctx, remote.UserChatsPath(userID), e.onMembership)
	if err != nil {
		self.Cancel()
		starred.Cancel()
		e.Stop()
		return fmt.Errorf("subscribe membership index: %w", err)
	}

	e.mu.Lock()
	if !e.live {
		e.mu.Unlock()
		self.Cancel()
		starred.Cancel()
		index.Cancel()
		return nil
	}
	e.self = self
	e.starred = starred
	e.index = index
	e.mu.Unlock()

	e.logger.Info("sync started", zap.String("user_id", userID))
	return nil
}

// Stop tears down every subscription and leaves local state in place.
// Idempotent, and safe to call before Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.live {
		e.mu.Unlock()
		return
	}
	e.live = false
	e.cancel()
	handles := []remote.Handle{e.index, e.starred, e.self}
	for _, cs := range e.chats {
		handles = append(handles, cs.chat, cs.messages)
	}
	e.index, e.starred, e.self = nil, nil, nil
	e.chats = nil
	e.pending = nil
	e.mu.Unlock()

	for _, h := range handles {
		if h != nil {
			h.Cancel()
		}
	}
	e.bus.Emit(bus.KindSyncStopped, nil)
	e.logger.Info("sync stopped")
}

// onMembership applies a snapshot of userChats/{uid}: an object of
// pushKey -> chatID pointers. Chats newly referenced get chat and
// message subscriptions; chats no longer referenced are unsubscribed
// and pruned from local state.
func (e *Engine) onMembership(snap remote.Snapshot) {
	pointers := make(map[string]string)
	if snap.Exists() {
		if err := json.Unmarshal(snap.Data, &pointers); err != nil {
			e.logger.Error("bad membership index snapshot", zap.Error(err))
			return
		}
	}
	want := make(map[string]struct{}, len(pointers))
	for _, chatID := range pointers {
		if chatID != "" {
			want[chatID] = struct{}{}
		}
	}

	e.mu.Lock()
	if !e.live {
		e.mu.Unlock()
		return
	}
	var added []string
	for chatID := range want {
		if _, ok := e.chats[chatID]; !ok {
			e.chats[chatID] = &chatSubs{}
			added = append(added, chatID)
		}
	}
	var dropped []*chatSubs
	var removed []string
	for chatID, cs := range e.chats {
		if _, ok := want[chatID]; !ok {
			dropped = append(dropped, cs)
			removed = append(removed, chatID)
			delete(e.chats, chatID)
			// A chat removed before its first snapshot arrived must not
			// keep gating readiness.
			delete(e.pending, remote.ChatPath(chatID))
			delete(e.pending, remote.MessagesPath(chatID))
		}
	}
	if !e.ready {
		for _, chatID := range added {
			e.pending[remote.ChatPath(chatID)] = struct{}{}
			e.pending[remote.MessagesPath(chatID)] = struct{}{}
		}
	}
	ctx := e.ctx
	e.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)

	for _, cs := range dropped {
		if cs.chat != nil {
			cs.chat.Cancel()
		}
		if cs.messages != nil {
			cs.messages.Cancel()
		}
	}
	for _, chatID := range removed {
		e.state.RemoveChat(chatID)
		if e.cache != nil {
			if err := e.cache.DeleteChat(chatID); err != nil {
				e.logger.Error("prune cached chat", zap.Error(err), zap.String("chat_id", chatID))
			}
		}
		e.bus.Emit(bus.KindChatRemoved, chatID)
		e.logger.Info("chat membership removed", zap.String("chat_id", chatID))
	}

	for _, chatID := range added {
		e.subscribeChat(ctx, chatID)
	}

	// First snapshot with no chats: nothing further to wait for.
	e.mu.Lock()
	done := !e.ready && len(e.pending) == 0
	e.mu.Unlock()
	if done {
		e.markReady()
	}
}

func (e *Engine) subscribeChat(ctx context.Context, chatID string) {
	id := chatID
	chatH, err := e.remote.Subscribe(ctx, remote.ChatPath(id), func(snap remote.Snapshot) {
		e.onChat(id, snap)
	})
	if err != nil {
		e.logger.Error("subscribe chat", zap.Error(err), zap.String("chat_id", id))
		e.settle(remote.ChatPath(id))
		e.settle(remote.MessagesPath(id))
		return
	}
	msgH, err := e.remote.Subscribe(ctx, remote.MessagesPath(id), func(snap remote.Snapshot) {
		e.onMessages(id, snap)
	})
	if err != nil {
		chatH.Cancel()
		e.logger.Error("subscribe messages", zap.Error(err), zap.String("chat_id", id))
		e.settle(remote.ChatPath(id))
		e.settle(remote.MessagesPath(id))
		return
	}

	e.mu.Lock()
	cs, ok := e.chats[id]
	if !ok || !e.live {
		e.mu.Unlock()
		chatH.Cancel()
		msgH.Cancel()
		return
	}
	cs.chat = chatH
	cs.messages = msgH
	e.mu.Unlock()
}

func (e *Engine) onChat(chatID string, snap remote.Snapshot) {
	if !e.tracking(chatID) {
		return
	}
	defer e.settle(remote.ChatPath(chatID))

	if !snap.Exists() {
		// Removal is driven by the membership index, not the record.
		return
	}
	var c state.Chat
	if err := json.Unmarshal(snap.Data, &c); err != nil {
		e.logger.Error("bad chat snapshot", zap.Error(err), zap.String("chat_id", chatID))
		return
	}
	c.ID = chatID

	e.state.PutChat(c)
	if e.cache != nil {
		if err := e.cache.UpsertChat(&c); err != nil {
			e.logger.Error("cache chat", zap.Error(err), zap.String("chat_id", chatID))
		}
	}
	e.loadMembers(c.Users)
	e.bus.Emit(bus.KindChatUpdated, chatID)
}

func (e *Engine) onMessages(chatID string, snap remote.Snapshot) {
	if !e.tracking(chatID) {
		return
	}
	defer e.settle(remote.MessagesPath(chatID))

	byID := make(map[string]state.Message)
	if snap.Exists() {
		if err := json.Unmarshal(snap.Data, &byID); err != nil {
			e.logger.Error("bad messages snapshot", zap.Error(err), zap.String("chat_id", chatID))
			return
		}
	}
	e.state.ReplaceMessages(chatID, byID)
	if e.cache != nil {
		msgs := make([]state.Message, 0, len(byID))
		for id, m := range byID {
			m.ID = id
			msgs = append(msgs, m)
		}
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
		if err := e.cache.ReplaceChatMessages(chatID, msgs); err != nil {
			e.logger.Error("cache messages", zap.Error(err), zap.String("chat_id", chatID))
		}
	}
	e.bus.Emit(bus.KindMessageSynced, chatID)
}

func (e *Engine) onStarred(snap remote.Snapshot) {
	if !e.alive() {
		return
	}
	marks := make(map[string]map[string]state.StarredMark)
	if snap.Exists() {
		if err := json.Unmarshal(snap.Data, &marks); err != nil {
			e.logger.Error("bad starred index snapshot", zap.Error(err))
			return
		}
	}
	e.state.ReplaceStarred(marks)
	if e.cache != nil {
		var flat []state.StarredMark
		for chatID, byMsg := range marks {
			for msgID, mark := range byMsg {
				mark.ChatID = chatID
				mark.MessageID = msgID
				flat = append(flat, mark)
			}
		}
		if err := e.cache.ReplaceStarred(flat); err != nil {
			e.logger.Error("cache starred index", zap.Error(err))
		}
	}
	e.bus.Emit(bus.KindStarredUpdated, e.userID)
}

func (e *Engine) onSelf(snap remote.Snapshot) {
	if !e.alive() || !snap.Exists() {
		return
	}
	var u state.User
	if err := json.Unmarshal(snap.Data, &u); err != nil {
		e.logger.Error("bad user snapshot", zap.Error(err))
		return
	}
	if u.ID == "" {
		u.ID = e.userID
	}
	e.state.PutUser(u)
	if e.cache != nil {
		if err := e.cache.UpsertUser(&u); err != nil {
			e.logger.Error("cache user", zap.Error(err))
		}
	}
}

// loadMembers fetches user records for chat members not seen yet. Each
// member is read once per session; profile changes for the signed-in
// user come through the self subscription instead.
func (e *Engine) loadMembers(memberIDs []string) {
	var missing []string
	e.mu.Lock()
	if !e.live {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	for _, id := range memberIDs {
		if id == "" {
			continue
		}
		if _, ok := e.seen[id]; ok {
			continue
		}
		e.seen[id] = struct{}{}
		missing = append(missing, id)
	}
	e.mu.Unlock()

	for _, id := range missing {
		data, err := e.remote.ReadOnce(ctx, remote.UserPath(id))
		if err != nil {
			e.logger.Error("load chat member", zap.Error(err), zap.String("user_id", id))
			continue
		}
		if len(data) == 0 || string(data) == "null" {
			continue
		}
		var u state.User
		if err := json.Unmarshal(data, &u); err != nil {
			e.logger.Error("bad member record", zap.Error(err), zap.String("user_id", id))
			continue
		}
		if u.ID == "" {
			u.ID = id
		}
		if !e.alive() {
			return
		}
		e.state.PutUser(u)
		if e.cache != nil {
			if err := e.cache.UpsertUser(&u); err != nil {
				e.logger.Error("cache member", zap.Error(err), zap.String("user_id", id))
			}
		}
	}
}

// tracking reports whether the chat still has a live subscription.
// Late callbacks racing a membership removal or Stop are dropped here.
func (e *Engine) tracking(chatID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return false
	}
	_, ok := e.chats[chatID]
	return ok
}

func (e *Engine) alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// settle clears one awaited initial snapshot and flips the session to
// Ready when the last one lands.
func (e *Engine) settle(path string) {
	e.mu.Lock()
	if e.ready || !e.live {
		e.mu.Unlock()
		return
	}
	delete(e.pending, path)
	done := len(e.pending) == 0
	e.mu.Unlock()
	if done {
		e.markReady()
	}
}

func (e *Engine) markReady() {
	e.mu.Lock()
	if e.ready || !e.live {
		e.mu.Unlock()
		return
	}
	e.ready = true
	e.mu.Unlock()

	if err := e.machine.Transition(status.Ready); err != nil {
		e.logger.Warn("unexpected session state at sync ready", zap.Error(err))
	}
	e.bus.Emit(bus.KindSyncReady, e.userID)
	e.logger.Info("initial sync complete")
}
