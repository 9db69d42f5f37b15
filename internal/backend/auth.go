package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthEventKind names an auth state transition.
type AuthEventKind string

const (
	AuthSignedIn       AuthEventKind = "signed_in"
	AuthTokenRefreshed AuthEventKind = "token_refreshed"
	AuthSignedOut      AuthEventKind = "signed_out"
)

// AuthEvent is delivered to OnAuthChange listeners.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// User is the authenticated account as returned by the auth endpoint.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session holds the tokens of a signed-in user.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         User      `json:"user"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

// UserID returns the session's user identifier, reading the token subject
// when the user object is absent.
func (s *Session) UserID() string {
	if s.User.ID != "" {
		return s.User.ID
	}
	claims, err := ParseClaims(s.AccessToken)
	if err != nil {
		return ""
	}
	return claims.Subject
}

// Claims are the access token claims the client relies on.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ParseClaims decodes an access token without verifying its signature.
// The backend verifies tokens; the client only reads subject and expiry.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}
	return claims, nil
}

// Expired reports whether the token's exp claim is before now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

// OnAuthChange registers fn to be called on every auth state transition.
func (c *Client) OnAuthChange(fn func(AuthEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// SetSession installs a previously stored session and notifies listeners
// as a sign-in.
func (c *Client) SetSession(s *Session) {
	c.setSession(s, AuthSignedIn)
}

func (c *Client) setSession(s *Session, kind AuthEventKind) {
	c.mu.Lock()
	c.session = s
	listeners := append([]func(AuthEvent){}, c.listeners...)
	c.mu.Unlock()

	ev := AuthEvent{Kind: kind, Session: s}
	for _, fn := range listeners {
		fn(ev)
	}
}

// SignIn exchanges an email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password",
		map[string]string{"email": email, "password": password}, &s)
	if err != nil {
		return nil, fmt.Errorf("signing in %s: %w", email, err)
	}
	s.ObtainedAt = time.Now()
	c.setSession(&s, AuthSignedIn)
	return &s, nil
}

// Refresh exchanges the current refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	current := c.Session()
	if current == nil || current.RefreshToken == "" {
		return nil, &AuthError{Message: "no refresh token"}
	}

	var s Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token",
		map[string]string{"refresh_token": current.RefreshToken}, &s)
	if err != nil {
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	s.ObtainedAt = time.Now()
	c.setSession(&s, AuthTokenRefreshed)
	return &s, nil
}

// SignOut revokes the session on the backend (best effort) and clears it
// locally.
func (c *Client) SignOut(ctx context.Context) error {
	var err error
	if c.Session() != nil {
		err = c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil)
		if IsAuthError(err) {
			err = nil
		}
	}
	c.setSession(nil, AuthSignedOut)
	if err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	return nil
}

// refreshLeeway is how close to expiry an access token may get before
// CheckAuth refreshes it. It is longer than the default health interval so
// a token is replaced before it lapses.
const refreshLeeway = 10 * time.Minute

// CheckAuth reports whether the current session is valid. A token that is
// expired or within refreshLeeway of expiring is refreshed first when a
// refresh token is available, which notifies OnAuthChange listeners.
// Rejections are reported as (false, nil); transport failures are returned
// as errors.
func (c *Client) CheckAuth(ctx context.Context) (bool, error) {
	s := c.Session()
	if s == nil || s.AccessToken == "" {
		return false, nil
	}

	now := time.Now()
	claims, err := ParseClaims(s.AccessToken)
	if err == nil && claims.Expired(now.Add(refreshLeeway)) {
		expired := claims.Expired(now)
		switch {
		case s.RefreshToken != "":
			_, err := c.Refresh(ctx)
			if IsAuthError(err) {
				return false, nil
			}
			if err != nil && expired {
				return false, err
			}
			// A failed refresh of a still valid token is retried on the
			// next check.
		case expired:
			return false, nil
		}
	}

	var u User
	err = c.do(ctx, http.MethodGet, "/auth/v1/user", nil, &u)
	if IsAuthError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return true, nil
}

// ErrNoSession is returned by operations that need a signed-in user.
var ErrNoSession = errors.New("no session")
