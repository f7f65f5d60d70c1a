package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/pingme/internal/remote"
	"github.com/matheus3301/pingme/internal/state"
)

// SearchUsers finds users whose normalized name starts with query.
// Matching is case-insensitive; results are cached locally so chat
// titles resolve without another fetch.
func (a *Actions) SearchUsers(ctx context.Context, query string) ([]state.User, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	data, err := a.remote.QueryByPrefix(ctx, remote.UsersPath(), "firstLast", query)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	byID, err := decodeObject[state.User](data)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	users := make([]state.User, 0, len(byID))
	for id, u := range byID {
		if u.ID == "" {
			u.ID = id
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].FirstLast < users[j].FirstLast })

	a.state.PutUsers(users)
	return users, nil
}

// ProfileUpdate carries the editable profile fields. Nil pointers mean
// "leave unchanged"; an empty string clears the field.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	About     *string
	Picture   *string
}

// UpdateProfile patches the user's record and keeps the searchable
// firstLast field in sync with the name. The local record is patched
// optimistically; the next snapshot for the user confirms it.
func (a *Actions) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) error {
	current, _ := a.state.User(userID)
	current.ID = userID

	fields := make(map[string]any)
	if upd.FirstName != nil {
		current.FirstName = *upd.FirstName
		fields["firstName"] = current.FirstName
	}
	if upd.LastName != nil {
		current.LastName = *upd.LastName
		fields["lastName"] = current.LastName
	}
	if upd.FirstName != nil || upd.LastName != nil {
		current.FirstLast = state.NormalizeName(current.FirstName, current.LastName)
		fields["firstLast"] = current.FirstLast
	}
	if upd.About != nil {
		current.About = *upd.About
		fields["about"] = current.About
	}
	if upd.Picture != nil {
		current.ProfilePicture = *upd.Picture
		fields["profilePicture"] = current.ProfilePicture
	}
	if len(fields) == 0 {
		return nil
	}

	if err := a.remote.Update(ctx, remote.UserPath(userID), fields); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	a.state.PutUser(current)
	return nil
}

// StorePushToken registers a device token for the user. Registering a
// token the user already has is a no-op.
func (a *Actions) StorePushToken(ctx context.Context, userID, token string) error {
	if token == "" {
		return nil
	}
	tokens, err := a.readPushTokens(ctx, userID)
	if err != nil {
		return err
	}
	for _, existing := range tokens {
		if existing == token {
			return nil
		}
	}
	key := uuid.New().String()
	err = a.remote.Update(ctx, remote.PushTokensPath(userID), map[string]any{key: token})
	if err != nil {
		return fmt.Errorf("store push token: %w", err)
	}
	return nil
}

// RemovePushToken deregisters a device token, typically on sign-out.
func (a *Actions) RemovePushToken(ctx context.Context, userID, token string) error {
	tokens, err := a.readPushTokens(ctx, userID)
	if err != nil {
		return err
	}
	for key, existing := range tokens {
		if existing == token {
			if err := a.remote.Remove(ctx, remote.PushTokensPath(userID)+"/"+key); err != nil {
				return fmt.Errorf("remove push token: %w", err)
			}
		}
	}
	return nil
}

func (a *Actions) readPushTokens(ctx context.Context, userID string) (map[string]string, error) {
	data, err := a.remote.ReadOnce(ctx, remote.PushTokensPath(userID))
	if err != nil {
		return nil, fmt.Errorf("read push tokens: %w", err)
	}
	return decodeObject[string](data)
}

// decodeObject decodes a JSON object of T keyed by id. Absent input
// yields an empty map.
func decodeObject[T any](data json.RawMessage) (map[string]T, error) {
	out := make(map[string]T)
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
