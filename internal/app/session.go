package app

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/matheus3301/pingme/internal/actions"
	"github.com/matheus3301/pingme/internal/auth"
	"github.com/matheus3301/pingme/internal/bus"
	"github.com/matheus3301/pingme/internal/cache"
	"github.com/matheus3301/pingme/internal/remote"
	"github.com/matheus3301/pingme/internal/session"
	"github.com/matheus3301/pingme/internal/state"
	"github.com/matheus3301/pingme/internal/status"
	intsync "github.com/matheus3301/pingme/internal/sync"
	"go.uber.org/zap"
)

// TokenSource holds the current database auth token. The REST store
// reads it per request, so a sign-in or refresh takes effect without
// rebuilding the client.
type TokenSource struct {
	mu  stdsync.RWMutex
	tok string
}

// Get returns the current token, empty when signed out.
func (t *TokenSource) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tok
}

func (t *TokenSource) set(tok string) {
	t.mu.Lock()
	t.tok = tok
	t.mu.Unlock()
}

// Session owns the authentication lifecycle: resuming stored
// credentials at startup, sign-up, sign-in, sign-out and the automatic
// sign-out when the token expires. It is the only component that starts
// and stops the sync engine.
type Session struct {
	name        string
	auth        auth.Authenticator
	remote      remote.Store
	engine      *intsync.Engine
	state       *state.Store
	cache       *cache.DB
	machine     *status.Machine
	bus         *bus.Bus
	tokens      *TokenSource
	actions     *actions.Actions
	deviceToken string
	logger      *zap.Logger
	now         func() time.Time

	mu    stdsync.Mutex
	creds *session.Credentials
	timer *time.Timer
}

// NewSession wires the session lifecycle. cache may be nil. deviceToken
// is this device's push token, registered at login and removed at
// logout; empty disables push registration.
func NewSession(name string, a auth.Authenticator, rs remote.Store, engine *intsync.Engine, st *state.Store, db *cache.DB, m *status.Machine, b *bus.Bus, tokens *TokenSource, acts *actions.Actions, deviceToken string, logger *zap.Logger) *Session {
	return &Session{
		name:        name,
		auth:        a,
		remote:      rs,
		engine:      engine,
		state:       st,
		cache:       db,
		machine:     m,
		bus:         b,
		tokens:      tokens,
		actions:     acts,
		deviceToken: deviceToken,
		logger:      logger,
		now:         time.Now,
	}
}

// UserID returns the signed-in user's id, empty when signed out.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.UserID
}

// Resume restores the session from stored credentials. Expired or
// missing credentials land in AuthRequired; valid ones warm-load the
// cached snapshot and start syncing.
func (s *Session) Resume(ctx context.Context) error {
	creds, err := session.LoadCredentials(s.name)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil || creds.Expired(s.now()) {
		if creds != nil {
			s.logger.Info("stored credentials expired")
			_ = session.ClearCredentials(s.name)
		}
		return s.machine.Transition(status.AuthRequired)
	}

	s.warmLoad()
	return s.begin(ctx, creds)
}

// SignUp registers an account, creates the user's profile record and
// starts syncing.
func (s *Session) SignUp(ctx context.Context, firstName, lastName, email, password string) error {
	res, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	creds := &session.Credentials{UserID: res.UserID, Token: res.Token, Expiry: res.ExpiresAt}
	s.tokens.set(res.Token)

	user := state.User{
		ID:         res.UserID,
		FirstName:  firstName,
		LastName:   lastName,
		FirstLast:  state.NormalizeName(firstName, lastName),
		Email:      email,
		SignUpDate: s.now(),
	}
	if err := s.remote.Write(ctx, remote.UserPath(res.UserID), user); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}

	if err := session.SaveCredentials(s.name, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return s.begin(ctx, creds)
}

// SignIn authenticates and starts syncing.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	res, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	creds := &session.Credentials{UserID: res.UserID, Token: res.Token, Expiry: res.ExpiresAt}
	if err := session.SaveCredentials(s.name, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return s.begin(ctx, creds)
}

// SignOut stops syncing and discards credentials and all local state.
func (s *Session) SignOut() error {
	s.mu.Lock()
	creds := s.creds
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.creds = nil
	s.mu.Unlock()

	// Deregister this device while the token is still valid.
	if creds != nil && s.actions != nil && s.deviceToken != "" {
		if err := s.actions.RemovePushToken(context.Background(), creds.UserID, s.deviceToken); err != nil {
			s.logger.Warn("deregister push token", zap.Error(err))
		}
	}

	s.engine.Stop()
	s.tokens.set("")
	s.state.Clear()
	if s.cache != nil {
		if err := s.cache.Wipe(); err != nil {
			s.logger.Error("wipe cache", zap.Error(err))
		}
	}
	if err := session.ClearCredentials(s.name); err != nil {
		s.logger.Error("clear credentials", zap.Error(err))
	}
	s.logger.Info("signed out")
	return s.machine.Transition(status.AuthRequired)
}

// Close stops the sync engine without touching credentials, so the
// next start resumes where this one left off.
func (s *Session) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.engine.Stop()
}

func (s *Session) begin(ctx context.Context, creds *session.Credentials) error {
	s.tokens.set(creds.Token)
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	s.scheduleExpiry(creds.Expiry)

	if err := s.engine.Start(ctx, creds.UserID); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	// Best effort: a failed registration only costs notifications.
	if s.actions != nil && s.deviceToken != "" {
		if err := s.actions.StorePushToken(ctx, creds.UserID, s.deviceToken); err != nil {
			s.logger.Warn("register push token", zap.Error(err))
		}
	}

	s.logger.Info("session active", zap.String("user_id", creds.UserID))
	return nil
}

// scheduleExpiry arms a timer that signs the session out the moment
// the token expires.
func (s *Session) scheduleExpiry(expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	d := expiry.Sub(s.now())
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, s.expire)
}

func (s *Session) expire() {
	s.logger.Info("session token expired, signing out")
	s.bus.Emit(bus.KindSessionExpired, s.UserID())
	if err := s.SignOut(); err != nil {
		s.logger.Error("sign out after expiry", zap.Error(err))
	}
}

// warmLoad seeds the in-memory state from the snapshot cache so a
// returning user sees their chats before the first remote snapshot.
func (s *Session) warmLoad() {
	if s.cache == nil {
		return
	}
	snap, err := s.cache.Load()
	if err != nil {
		s.logger.Error("load snapshot cache", zap.Error(err))
		return
	}
	s.state.PutUsers(snap.Users)
	for _, c := range snap.Chats {
		s.state.PutChat(c)
	}
	for chatID, msgs := range snap.Messages {
		byID := make(map[string]state.Message, len(msgs))
		for _, m := range msgs {
			byID[m.ID] = m
		}
		s.state.ReplaceMessages(chatID, byID)
	}
	marks := make(map[string]map[string]state.StarredMark)
	for _, mark := range snap.Starred {
		if marks[mark.ChatID] == nil {
			marks[mark.ChatID] = make(map[string]state.StarredMark)
		}
		marks[mark.ChatID][mark.MessageID] = mark
	}
	s.state.ReplaceStarred(marks)
	s.logger.Info("warm-loaded snapshot cache",
		zap.Int("users", len(snap.Users)), zap.Int("chats", len(snap.Chats)))
}
