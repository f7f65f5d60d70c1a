// Package actions implements the user-initiated write operations:
// creating chats, sending messages, starring, membership changes and
// profile updates. Every write goes to the remote database first; local
// state catches up through the sync subscriptions. The only local
// mutations here are optimistic patches a later snapshot overwrites.
package actions

import (
	"context"
	"time"

	"github.com/matheus3301/pingme/internal/bus"
	"github.com/matheus3301/pingme/internal/media"
	"github.com/matheus3301/pingme/internal/push"
	"github.com/matheus3301/pingme/internal/remote"
	"github.com/matheus3301/pingme/internal/state"
	"go.uber.org/zap"
)

// Notifier fans a push notification out to device tokens.
type Notifier interface {
	Send(ctx context.Context, tokens []string, n push.Notification) error
}

// Actions carries the dependencies of all write operations.
type Actions struct {
	remote   remote.Store
	state    *state.Store
	bus      *bus.Bus
	notifier Notifier
	uploader media.Uploader
	logger   *zap.Logger
	now      func() time.Time
}

// New creates the action set. notifier and uploader may be nil, which
// disables push fan-out and image sending respectively.
func New(rs remote.Store, st *state.Store, b *bus.Bus, n Notifier, up media.Uploader, logger *zap.Logger) *Actions {
	return &Actions{
		remote:   rs,
		state:    st,
		bus:      b,
		notifier: n,
		uploader: up,
		logger:   logger,
		now:      time.Now,
	}
}

// displayName resolves a user id to a human-readable name, falling back
// to the id when the record is not cached.
func (a *Actions) displayName(userID string) string {
	if u, ok := a.state.User(userID); ok {
		if name := u.DisplayName(); name != "" {
			return name
		}
	}
	return userID
}
