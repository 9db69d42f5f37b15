// Package backend talks to the hosted backend project over HTTP: the REST
// endpoint used for health probes and the auth endpoint that issues and
// validates user sessions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// AuthError indicates that the backend rejected the session (HTTP 401/403
// or an invalid_grant on the token endpoint) or that no session is
// available.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("auth error: %s", e.Message)
	}
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// errorResponse is the error body returned by the REST and auth endpoints.
type errorResponse struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r errorResponse) text() string {
	for _, s := range []string{r.Message, r.Msg, r.ErrorDescription, r.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Client is a thin HTTP client for the backend project. It sends the
// project API key on every request and the user's access token when a
// session is set. HTTP 429 responses are retried with exponential backoff.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int

	mu        sync.RWMutex
	session   *Session
	listeners []func(AuthEvent)
}

// NewClient creates a new backend client for the project at baseURL
// (e.g., https://abc.supabase.co) using the public anon key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxRetries: 3,
	}
}

// BaseURL returns the project root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIKey returns the project API key.
func (c *Client) APIKey() string {
	return c.apiKey
}

// accessToken returns the current session's access token, or the API key
// when no session is set.
func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil && c.session.AccessToken != "" {
		return c.session.AccessToken
	}
	return c.apiKey
}

// do is the core HTTP method that builds the request, handles auth,
// rate limiting with exponential backoff, and JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + path

	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if data != nil {
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.accessToken())
		req.Header.Set("Accept", "application/json")
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden {
			var errResp errorResponse
			_ = json.Unmarshal(respBody, &errResp)
			msg := errResp.text()
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return &AuthError{Status: resp.StatusCode, Message: msg}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errResp errorResponse
			if json.Unmarshal(respBody, &errResp) == nil && errResp.Error == "invalid_grant" {
				return &AuthError{Status: resp.StatusCode, Message: errResp.text()}
			}
			if errResp.text() != "" {
				return fmt.Errorf(
					"backend error (%d) on %s %s: %s",
					resp.StatusCode, method, path, errResp.text(),
				)
			}
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, string(respBody),
			)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf(
				"unmarshaling response from %s %s: %w",
				method, path, err,
			)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Probe performs a lightweight read against table and returns the round
// trip time. Only success and latency matter; the rows are discarded.
func (c *Client) Probe(ctx context.Context, table string) (time.Duration, error) {
	start := time.Now()
	path := "/rest/v1/" + table + "?select=id&limit=1"
	if err := c.do(ctx, http.MethodGet, path, nil, nil); err != nil {
		return 0, fmt.Errorf("probing %s: %w", table, err)
	}
	return time.Since(start), nil
}
