// Package auth exchanges email/password credentials for session tokens
// with the hosted identity service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Sentinel errors surfaced to the user verbatim.
var (
	ErrEmailInUse       = errors.New("This email is already in use")
	ErrWrongCredentials = errors.New("The username or password was incorrect")
)

// Result is a successful credential exchange.
type Result struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Authenticator exchanges credentials for tokens.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (Result, error)
	SignIn(ctx context.Context, email, password string) (Result, error)
}

// Client is an Authenticator over the identity service's REST API.
type Client struct {
	hc     *resty.Client
	apiKey string
	now    func() time.Time
}

// NewClient creates an auth client. apiKey identifies the application
// to the identity service.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		hc:     resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(15 * time.Second),
		apiKey: apiKey,
		now:    time.Now,
	}
}

type tokenResponse struct {
	IDToken   string `json:"idToken"`
	LocalID   string `json:"localId"`
	ExpiresIn string `json:"expiresIn"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp registers a new account.
func (c *Client) SignUp(ctx context.Context, email, password string) (Result, error) {
	return c.exchange(ctx, "/v1/accounts:signUp", email, password)
}

// SignIn authenticates an existing account.
func (c *Client) SignIn(ctx context.Context, email, password string) (Result, error) {
	return c.exchange(ctx, "/v1/accounts:signInWithPassword", email, password)
}

func (c *Client) exchange(ctx context.Context, endpoint, email, password string) (Result, error) {
	resp, err := c.hc.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBody(map[string]any{
			"email":             email,
			"password":          password,
			"returnSecureToken": true,
		}).
		Post(endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("auth request: %w", err)
	}

	var out tokenResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Result{}, fmt.Errorf("auth request: decode response: %w", err)
	}
	if resp.IsError() || out.Error.Message != "" {
		if mapped := mapAuthError(out.Error.Message); mapped != nil {
			return Result{}, mapped
		}
		return Result{}, fmt.Errorf("auth request: status %d: %s", resp.StatusCode(), out.Error.Message)
	}
	if out.IDToken == "" || out.LocalID == "" {
		return Result{}, fmt.Errorf("auth request: incomplete response")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return Result{
		UserID:    out.LocalID,
		Token:     out.IDToken,
		ExpiresAt: c.now().Add(ttl),
	}, nil
}

// mapAuthError translates service error codes the user can act on.
// Unknown codes fall through to a generic error.
func mapAuthError(code string) error {
	switch {
	case code == "EMAIL_EXISTS":
		return ErrEmailInUse
	case code == "EMAIL_NOT_FOUND",
		code == "INVALID_PASSWORD",
		strings.HasPrefix(code, "INVALID_LOGIN_CREDENTIALS"):
		return ErrWrongCredentials
	default:
		return nil
	}
}
