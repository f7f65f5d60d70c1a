package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Credentials is the persisted authentication state for a session.
// The core reads it once at startup to decide whether to begin syncing
// and clears it on logout.
type Credentials struct {
	Token  string    `json:"token"`
	UserID string    `json:"userId"`
	Expiry time.Time `json:"expiry"`
}

// Expired reports whether the token expiry has passed.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.Expiry.After(now)
}

// SaveCredentials writes credentials to the session directory.
func SaveCredentials(sessionName string, c *Credentials) error {
	if err := EnsureDir(sessionName); err != nil {
		return fmt.Errorf("ensure session dir: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	return os.WriteFile(CredentialsPath(sessionName), data, 0600)
}

// LoadCredentials reads persisted credentials. Returns nil if none are stored.
func LoadCredentials(sessionName string) (*Credentials, error) {
	data, err := os.ReadFile(CredentialsPath(sessionName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &c, nil
}

// ClearCredentials removes persisted credentials. Missing file is not an error.
func ClearCredentials(sessionName string) error {
	err := os.Remove(CredentialsPath(sessionName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
