package cache

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/matheus3301/pingme/internal/state"
)

// UpsertUser inserts or updates a user record (idempotent on id).
func (db *DB) UpsertUser(u *state.User) error {
	tokens, err := json.Marshal(u.PushTokens)
	if err != nil {
		return err
	}
	if u.PushTokens == nil {
		tokens = []byte("{}")
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO users (id, first_name, last_name, first_last, email, about, profile_picture, sign_up_date, push_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			first_last = excluded.first_last,
			email = excluded.email,
			about = excluded.about,
			profile_picture = excluded.profile_picture,
			sign_up_date = excluded.sign_up_date,
			push_tokens = excluded.push_tokens,
			updated_at = excluded.updated_at`,
		u.ID, u.FirstName, u.LastName, u.FirstLast, u.Email, u.About, u.ProfilePicture,
		unixMilli(u.SignUpDate), string(tokens), now)
	return err
}

// UpsertChat inserts or updates a chat record (idempotent on id).
func (db *DB) UpsertChat(c *state.Chat) error {
	members, err := json.Marshal(c.Users)
	if err != nil {
		return err
	}
	if c.Users == nil {
		members = []byte("[]")
	}
	_, err = db.Exec(`
		INSERT INTO chats (id, created_by, created_at, updated_by, updated_at, members, is_group, chat_name, chat_image, latest_message_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_by = excluded.created_by,
			created_at = excluded.created_at,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at,
			members = excluded.members,
			is_group = excluded.is_group,
			chat_name = excluded.chat_name,
			chat_image = excluded.chat_image,
			latest_message_text = excluded.latest_message_text`,
		c.ID, c.CreatedBy, unixMilli(c.CreatedAt), c.UpdatedBy, unixMilli(c.UpdatedAt),
		string(members), c.IsGroupChat, c.ChatName, c.ChatImage, c.LatestMessageText)
	return err
}

// DeleteChat removes a chat and its messages and starred marks.
func (db *DB) DeleteChat(chatID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM starred WHERE chat_id = ?`,
		`DELETE FROM messages WHERE chat_id = ?`,
		`DELETE FROM chats WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, chatID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceChatMessages swaps the full message set of a chat in one
// transaction. Remote message snapshots are whole-set, so a plain
// upsert would leave deleted messages behind.
func (db *DB) ReplaceChatMessages(chatID string, msgs []state.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	for _, m := range msgs {
		_, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, sent_by, sent_at, body, image_url, reply_to, kind)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			chatID, m.ID, m.SentBy, unixMilli(m.SentAt), m.Text, m.ImageURL, m.ReplyTo, m.Kind)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceStarred swaps the user's full starred index.
func (db *DB) ReplaceStarred(marks []state.StarredMark) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM starred`); err != nil {
		return err
	}
	for _, s := range marks {
		_, err := tx.Exec(`
			INSERT INTO starred (chat_id, msg_id, starred_at)
			VALUES (?, ?, ?)`,
			s.ChatID, s.MessageID, unixMilli(s.StarredAt))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Snapshot is the full cached state, loaded at startup to warm the
// in-memory store before the first remote snapshot arrives.
type Snapshot struct {
	Users    []state.User
	Chats    []state.Chat
	Messages map[string][]state.Message
	Starred  []state.StarredMark
}

// Load reads the whole cache.
func (db *DB) Load() (*Snapshot, error) {
	snap := &Snapshot{Messages: make(map[string][]state.Message)}

	rows, err := db.Query(`
		SELECT id, first_name, last_name, first_last, email, about, profile_picture, sign_up_date, push_tokens
		FROM users`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var u state.User
		var signUp int64
		var tokens string
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.FirstLast, &u.Email, &u.About, &u.ProfilePicture, &signUp, &tokens); err != nil {
			_ = rows.Close()
			return nil, err
		}
		u.SignUpDate = fromUnixMilli(signUp)
		if tokens != "" && tokens != "{}" {
			if err := json.Unmarshal([]byte(tokens), &u.PushTokens); err != nil {
				_ = rows.Close()
				return nil, err
			}
		}
		snap.Users = append(snap.Users, u)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.Query(`
		SELECT id, created_by, created_at, updated_by, updated_at, members, is_group, chat_name, chat_image, latest_message_text
		FROM chats`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c state.Chat
		var createdAt, updatedAt int64
		var members string
		if err := rows.Scan(&c.ID, &c.CreatedBy, &createdAt, &c.UpdatedBy, &updatedAt, &members, &c.IsGroupChat, &c.ChatName, &c.ChatImage, &c.LatestMessageText); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.CreatedAt = fromUnixMilli(createdAt)
		c.UpdatedAt = fromUnixMilli(updatedAt)
		if err := json.Unmarshal([]byte(members), &c.Users); err != nil {
			_ = rows.Close()
			return nil, err
		}
		snap.Chats = append(snap.Chats, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.Query(`
		SELECT chat_id, msg_id, sent_by, sent_at, body, image_url, reply_to, kind
		FROM messages
		ORDER BY chat_id, sent_at`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var chatID string
		var m state.Message
		var sentAt int64
		if err := rows.Scan(&chatID, &m.ID, &m.SentBy, &sentAt, &m.Text, &m.ImageURL, &m.ReplyTo, &m.Kind); err != nil {
			_ = rows.Close()
			return nil, err
		}
		m.SentAt = fromUnixMilli(sentAt)
		snap.Messages[chatID] = append(snap.Messages[chatID], m)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.Query(`SELECT chat_id, msg_id, starred_at FROM starred`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s state.StarredMark
		var starredAt int64
		if err := rows.Scan(&s.ChatID, &s.MessageID, &starredAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		s.StarredAt = fromUnixMilli(starredAt)
		snap.Starred = append(snap.Starred, s)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return snap, nil
}

// Wipe removes all cached state. Called on logout so the next account
// on this machine never sees another user's data.
func (db *DB) Wipe() error {
	for _, q := range []string{
		`DELETE FROM starred`,
		`DELETE FROM messages`,
		`DELETE FROM chats`,
		`DELETE FROM users`,
	} {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	_ = rows.Close()
	return err
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
