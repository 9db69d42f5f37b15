package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: sub + "@example.com",
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestClient_Probe(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    bool
		wantAuth   bool
	}{
		{name: "ok", statusCode: http.StatusOK, body: `[{"id":1}]`},
		{name: "server error", statusCode: http.StatusBadGateway, body: `{"message":"upstream"}`, wantErr: true},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, body: `{"message":"JWT expired"}`, wantErr: true, wantAuth: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
				assert.Equal(t, "id", r.URL.Query().Get("select"))
				assert.Equal(t, "1", r.URL.Query().Get("limit"))
				assert.Equal(t, "anon", r.Header.Get("apikey"))
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL+"/", "anon")
			rtt, err := c.Probe(context.Background(), "profiles")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantAuth, IsAuthError(err))
				return
			}
			require.NoError(t, err)
			assert.Greater(t, rtt, time.Duration(0))
		})
	}
}

func TestClient_SignInNotifiesListeners(t *testing.T) {
	access := signToken(t, "user-123", time.Now().Add(time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "owner@example.com", body["email"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  access,
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"user":          map[string]string{"id": "user-123", "email": "owner@example.com"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon")

	var mu sync.Mutex
	var events []AuthEvent
	c.OnAuthChange(func(ev AuthEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	s, err := c.SignIn(context.Background(), "owner@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "user-123", s.UserID())
	assert.Equal(t, access, c.Session().AccessToken)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, AuthSignedIn, events[0].Kind)
}

func TestClient_SignInRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon")
	_, err := c.SignIn(context.Background(), "owner@example.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")
	assert.Nil(t, c.Session())
}

func TestClient_CheckAuth(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte(`{"id":"user-123"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon")
	ctx := context.Background()

	ok, err := c.CheckAuth(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "no session")

	c.SetSession(&Session{AccessToken: signToken(t, "user-123", time.Now().Add(-time.Minute))})
	ok, err = c.CheckAuth(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "expired token")

	c.SetSession(&Session{AccessToken: signToken(t, "user-123", time.Now().Add(time.Hour))})
	status = http.StatusOK
	ok, err = c.CheckAuth(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	status = http.StatusUnauthorized
	ok, err = c.CheckAuth(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	status = http.StatusInternalServerError
	_, err = c.CheckAuth(ctx)
	assert.Error(t, err)
}

func TestClient_SignOutClearsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/logout", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon")
	c.SetSession(&Session{AccessToken: "a", RefreshToken: "r"})

	var last AuthEvent
	c.OnAuthChange(func(ev AuthEvent) { last = ev })

	require.NoError(t, c.SignOut(context.Background()))
	assert.Nil(t, c.Session())
	assert.Equal(t, AuthSignedOut, last.Kind)
}

func TestSession_UserIDFromToken(t *testing.T) {
	s := &Session{AccessToken: signToken(t, "sub-from-token", time.Now().Add(time.Hour))}
	assert.Equal(t, "sub-from-token", s.UserID())
}

func TestClient_CheckAuthRefreshesExpiringToken(t *testing.T) {
	fresh := signToken(t, "user-123", time.Now().Add(time.Hour))

	tests := []struct {
		name        string
		access      string
		refreshBody string
		refreshCode int
		wantOK      bool
		wantErr     bool
		wantToken   string
		wantEvents  int
	}{
		{
			name:        "expired token is refreshed",
			access:      signToken(t, "user-123", time.Now().Add(-time.Minute)),
			refreshCode: http.StatusOK,
			refreshBody: `{"access_token":"` + fresh + `","refresh_token":"rt-2"}`,
			wantOK:      true,
			wantToken:   fresh,
			wantEvents:  1,
		},
		{
			name:        "token close to expiry is refreshed",
			access:      signToken(t, "user-123", time.Now().Add(time.Minute)),
			refreshCode: http.StatusOK,
			refreshBody: `{"access_token":"` + fresh + `","refresh_token":"rt-2"}`,
			wantOK:      true,
			wantToken:   fresh,
			wantEvents:  1,
		},
		{
			name:        "rejected refresh signs out",
			access:      signToken(t, "user-123", time.Now().Add(-time.Minute)),
			refreshCode: http.StatusBadRequest,
			refreshBody: `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`,
			wantOK:      false,
		},
		{
			name:        "unreachable refresh of expired token",
			access:      signToken(t, "user-123", time.Now().Add(-time.Minute)),
			refreshCode: http.StatusBadGateway,
			refreshBody: `{"message":"upstream"}`,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var refreshes int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/auth/v1/token":
					assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
					var body map[string]string
					require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
					assert.Equal(t, "rt", body["refresh_token"])
					refreshes++
					w.WriteHeader(tt.refreshCode)
					w.Write([]byte(tt.refreshBody))
				case "/auth/v1/user":
					w.Write([]byte(`{"id":"user-123"}`))
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			}))
			defer server.Close()

			c := NewClient(server.URL, "anon")
			c.SetSession(&Session{AccessToken: tt.access, RefreshToken: "rt"})

			var events []AuthEvent
			c.OnAuthChange(func(ev AuthEvent) { events = append(events, ev) })

			ok, err := c.CheckAuth(context.Background())
			assert.Equal(t, 1, refreshes)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			require.Len(t, events, tt.wantEvents)
			if tt.wantEvents > 0 {
				assert.Equal(t, AuthTokenRefreshed, events[0].Kind)
				assert.Equal(t, tt.wantToken, c.Session().AccessToken)
				assert.Equal(t, "rt-2", c.Session().RefreshToken)
			}
		})
	}
}
