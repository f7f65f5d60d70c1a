package actions

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/matheus3301/pingme/internal/bus"
	"github.com/matheus3301/pingme/internal/media"
	"github.com/matheus3301/pingme/internal/push"
	"github.com/matheus3301/pingme/internal/remote"
	"github.com/matheus3301/pingme/internal/state"
	"go.uber.org/zap"
)

// imageSentinel is the text stored on image messages and shown in chat
// previews, where the image itself cannot render.
const imageSentinel = "Image"

// SentMessage reports a completed send.
type SentMessage struct {
	ChatID    string
	MessageID string
}

// CreateChat creates a chat between creatorID and memberIDs and
// registers it in every member's membership index. The chat record is
// written first; a crash between the writes leaves an unreferenced
// chat record, never a dangling index pointer.
func (a *Actions) CreateChat(ctx context.Context, creatorID string, memberIDs []string, groupName string) (string, error) {
	users := dedupe(append([]string{creatorID}, memberIDs...))
	if len(users) < 2 {
		return "", fmt.Errorf("create chat: need at least two members")
	}

	now := a.now()
	chat := state.Chat{
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedBy: creatorID,
		UpdatedAt: now,
		Users:     users,
	}
	if groupName != "" {
		chat.IsGroupChat = true
		chat.ChatName = groupName
	}

	chatID, err := a.remote.Append(ctx, remote.ChatsPath(), chat)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	for _, uid := range users {
		if _, err := a.remote.Append(ctx, remote.UserChatsPath(uid), chatID); err != nil {
			return "", fmt.Errorf("register chat for %s: %w", uid, err)
		}
	}

	a.logger.Info("chat created",
		zap.String("chat_id", chatID), zap.Int("members", len(users)), zap.Bool("group", chat.IsGroupChat))
	return chatID, nil
}

// SendMessage appends a text message and updates the chat preview.
// replyTo may be empty. Other members get a best-effort push.
func (a *Actions) SendMessage(ctx context.Context, chatID, senderID, text, replyTo string) (SentMessage, error) {
	msg := state.Message{
		SentBy:  senderID,
		SentAt:  a.now(),
		Text:    text,
		ReplyTo: replyTo,
	}
	return a.send(ctx, chatID, msg, true)
}

// SendImage uploads the image and appends a message carrying its URL.
func (a *Actions) SendImage(ctx context.Context, chatID, senderID string, image io.Reader, replyTo string) (SentMessage, error) {
	if a.uploader == nil {
		return SentMessage{}, fmt.Errorf("send image: no uploader configured")
	}
	url, err := a.uploader.Upload(ctx, media.FolderChatImages, image)
	if err != nil {
		return SentMessage{}, fmt.Errorf("send image: %w", err)
	}
	msg := state.Message{
		SentBy:   senderID,
		SentAt:   a.now(),
		Text:     imageSentinel,
		ImageURL: url,
		ReplyTo:  replyTo,
	}
	return a.send(ctx, chatID, msg, true)
}

// send is the single writer of the chat preview fields: every message
// append, user or system, flows through here so latestMessageText,
// updatedAt and updatedBy always describe the newest message.
func (a *Actions) send(ctx context.Context, chatID string, msg state.Message, notify bool) (SentMessage, error) {
	a.bus.Emit(bus.KindMessageSending, chatID)

	msgID, err := a.remote.Append(ctx, remote.MessagesPath(chatID), msg)
	if err != nil {
		a.bus.Emit(bus.KindMessageFailed, chatID)
		return SentMessage{}, fmt.Errorf("send message: %w", err)
	}

	err = a.remote.Update(ctx, remote.ChatPath(chatID), map[string]any{
		"updatedAt":         msg.SentAt,
		"updatedBy":         msg.SentBy,
		"latestMessageText": msg.Text,
	})
	if err != nil {
		a.bus.Emit(bus.KindMessageFailed, chatID)
		return SentMessage{}, fmt.Errorf("update chat preview: %w", err)
	}

	sent := SentMessage{ChatID: chatID, MessageID: msgID}
	a.bus.Emit(bus.KindMessageSent, sent)

	if notify {
		a.notifyMembers(ctx, chatID, msg)
	}
	return sent, nil
}

// notifyMembers pushes the message to every other member's devices.
// Failures are logged, never returned: the message is already sent.
func (a *Actions) notifyMembers(ctx context.Context, chatID string, msg state.Message) {
	if a.notifier == nil {
		return
	}
	chat, ok := a.state.Chat(chatID)
	if !ok {
		return
	}
	var tokens []string
	for _, uid := range chat.Users {
		if uid == msg.SentBy {
			continue
		}
		u, ok := a.state.User(uid)
		if !ok {
			continue
		}
		for _, tok := range u.PushTokens {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return
	}
	sort.Strings(tokens)

	title := a.displayName(msg.SentBy)
	if chat.IsGroupChat && chat.ChatName != "" {
		title = chat.ChatName
	}
	err := a.notifier.Send(ctx, tokens, push.Notification{
		Title: title,
		Body:  msg.Text,
		Data:  map[string]string{"chatId": chatID},
	})
	if err != nil {
		a.logger.Warn("push fan-out failed", zap.Error(err), zap.String("chat_id", chatID))
	}
}

// StarToggle stars the message for userID, or unstars it if already
// starred. The remote mark is the authority, not the local mirror.
func (a *Actions) StarToggle(ctx context.Context, userID, chatID, messageID string) error {
	path := remote.StarredMarkPath(userID, chatID, messageID)
	existing, err := a.remote.ReadOnce(ctx, path)
	if err != nil {
		return fmt.Errorf("star toggle: %w", err)
	}
	if len(existing) > 0 && string(existing) != "null" {
		if err := a.remote.Remove(ctx, path); err != nil {
			return fmt.Errorf("unstar: %w", err)
		}
		return nil
	}
	mark := state.StarredMark{ChatID: chatID, MessageID: messageID, StarredAt: a.now()}
	if err := a.remote.Write(ctx, path, mark); err != nil {
		return fmt.Errorf("star: %w", err)
	}
	return nil
}

// UpdateChatMetadata renames a group chat or changes its image and
// stamps the update. Empty fields are left untouched.
func (a *Actions) UpdateChatMetadata(ctx context.Context, chatID, actorID, chatName, chatImage string) error {
	fields := map[string]any{
		"updatedAt": a.now(),
		"updatedBy": actorID,
	}
	if chatName != "" {
		fields["chatName"] = chatName
	}
	if chatImage != "" {
		fields["chatImage"] = chatImage
	}
	if err := a.remote.Update(ctx, remote.ChatPath(chatID), fields); err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return nil
}

// AddParticipants adds users to a group chat, registers the chat in
// their membership index and records a system message per addition.
func (a *Actions) AddParticipants(ctx context.Context, chatID, actorID string, userIDs []string) error {
	chat, ok := a.state.Chat(chatID)
	if !ok {
		return fmt.Errorf("add participants: unknown chat %s", chatID)
	}

	var added []string
	for _, uid := range dedupe(userIDs) {
		if !chat.HasMember(uid) {
			added = append(added, uid)
		}
	}
	if len(added) == 0 {
		return nil
	}

	users := append(append([]string{}, chat.Users...), added...)
	err := a.remote.Update(ctx, remote.ChatPath(chatID), map[string]any{
		"users":     users,
		"updatedAt": a.now(),
		"updatedBy": actorID,
	})
	if err != nil {
		return fmt.Errorf("add participants: %w", err)
	}
	for _, uid := range added {
		if _, err := a.remote.Append(ctx, remote.UserChatsPath(uid), chatID); err != nil {
			return fmt.Errorf("register chat for %s: %w", uid, err)
		}
	}

	for _, uid := range added {
		text := fmt.Sprintf("%s added %s", a.displayName(actorID), a.displayName(uid))
		if err := a.sendInfo(ctx, chatID, actorID, text); err != nil {
			return err
		}
	}
	return nil
}

// RemoveParticipant removes userID from a group chat, deletes the
// chat's pointer from their membership index and records a system
// message. An actor removing themself reads as leaving.
func (a *Actions) RemoveParticipant(ctx context.Context, chatID, actorID, userID string) error {
	chat, ok := a.state.Chat(chatID)
	if !ok {
		return fmt.Errorf("remove participant: unknown chat %s", chatID)
	}
	if !chat.HasMember(userID) {
		return nil
	}

	users := make([]string, 0, len(chat.Users))
	for _, uid := range chat.Users {
		if uid != userID {
			users = append(users, uid)
		}
	}
	err := a.remote.Update(ctx, remote.ChatPath(chatID), map[string]any{
		"users":     users,
		"updatedAt": a.now(),
		"updatedBy": actorID,
	})
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if err := a.unlinkMembership(ctx, userID, chatID); err != nil {
		return err
	}

	text := fmt.Sprintf("%s removed %s", a.displayName(actorID), a.displayName(userID))
	if actorID == userID {
		text = fmt.Sprintf("%s left the chat", a.displayName(actorID))
	}
	return a.sendInfo(ctx, chatID, actorID, text)
}

// unlinkMembership deletes the index pointer referencing chatID from
// userID's membership index.
func (a *Actions) unlinkMembership(ctx context.Context, userID, chatID string) error {
	data, err := a.remote.ReadOnce(ctx, remote.UserChatsPath(userID))
	if err != nil {
		return fmt.Errorf("read membership index: %w", err)
	}
	pointers, err := decodeObject[string](data)
	if err != nil {
		return fmt.Errorf("read membership index: %w", err)
	}
	for key, id := range pointers {
		if id == chatID {
			if err := a.remote.Remove(ctx, remote.UserChatsPath(userID)+"/"+key); err != nil {
				return fmt.Errorf("unlink membership: %w", err)
			}
		}
	}
	return nil
}

func (a *Actions) sendInfo(ctx context.Context, chatID, actorID, text string) error {
	msg := state.Message{
		SentBy: actorID,
		SentAt: a.now(),
		Text:   text,
		Kind:   state.KindInfo,
	}
	if _, err := a.send(ctx, chatID, msg, false); err != nil {
		return err
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
