// Package sor is the authenticated REST client to the remote system of
// record. It follows the same small hand-rolled HTTP client shape the
// teacher uses for its external REST integrations (internal/ai's
// anthropicClient, internal/email's resendClient): a *http.Client with an
// explicit timeout, a size-limited body read, and typed sentinel errors
// instead of panics.
//
// Grounded on the original implementation's salesforce/client.rs for the
// wire shapes (password+security-token form login, Bearer auth on every
// subsequent call).
package sor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxBodyBytes caps how much of a response body is read into memory,
// mirroring the teacher's io.LimitReader(resp.Body, 1<<20) pattern.
const maxBodyBytes = 1 << 20

// Config holds the connection parameters read from the "salesforce"
// block of the JSON config file (see SPEC_FULL.md §6).
type Config struct {
	URI          string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	SecToken     string
	APIVersion   string
}

// LoginData is the token response returned by a successful Connect; the
// control plane's /info route reports its AccessToken and InstanceURL.
type LoginData struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	ID          string `json:"id"`
	TokenType   string `json:"token_type"`
	IssuedAt    string `json:"issued_at"`
	Signature   string `json:"signature"`
}

// AuthError is returned by Connect when the login POST returns a non-2xx
// status. It is fatal at startup (see §7).
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("sor: auth failed: status %d: %s", e.Status, e.Body)
}

// HTTPError is returned by Get/Patch/Post when SOR responds with a
// non-2xx status. Surfaced verbatim to the calling worker.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("sor: http %d: %s", e.Status, e.Body)
}

// TransportError wraps a network-level failure (DNS, connection reset,
// timeout) against SOR.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("sor: transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Client is a one-shot-login REST client to SOR. Re-connecting within a
// process lifetime is not required; callers share one Client across
// goroutines, guarded by mu for the login data.
type Client struct {
	httpClient *http.Client

	mu    sync.RWMutex
	login *LoginData
}

// New returns a Client with the given timeout. A nil timeout argument of
// 0 disables the deadline, same as the zero value of http.Client.
func New(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Connect performs the password + security-token OAuth-style form POST
// and stores the resulting token. Fails with *AuthError on a non-2xx
// response, or *TransportError on a network failure.
func (c *Client) Connect(ctx context.Context, cfg Config) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("username", cfg.Username)
	form.Set("password", cfg.Password+cfg.SecToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URI, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sor: build connect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("sor: read connect response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var ld LoginData
	if err := json.Unmarshal(body, &ld); err != nil {
		return fmt.Errorf("sor: parse login response: %w", err)
	}

	c.mu.Lock()
	c.login = &ld
	c.mu.Unlock()
	return nil
}

// GetLoginData returns the stored login data and whether Connect has
// succeeded yet.
func (c *Client) GetLoginData() (LoginData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.login == nil {
		return LoginData{}, false
	}
	return *c.login, true
}

// Get issues an authenticated GET. buildURI receives the instance URL and
// returns the full request URL.
func (c *Client) Get(ctx context.Context, buildURI func(instanceURL string) string) (string, error) {
	return c.call(ctx, http.MethodGet, buildURI, nil)
}

// Patch issues an authenticated PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, buildURI func(instanceURL string) string, data []byte) (string, error) {
	return c.call(ctx, http.MethodPatch, buildURI, data)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, buildURI func(instanceURL string) string, data []byte) (string, error) {
	return c.call(ctx, http.MethodPost, buildURI, data)
}

func (c *Client) call(ctx context.Context, method string, buildURI func(string) string, data []byte) (string, error) {
	c.mu.RLock()
	login := c.login
	c.mu.RUnlock()
	if login == nil {
		return "", fmt.Errorf("sor: not connected")
	}

	uri := buildURI(login.InstanceURL)

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return "", fmt.Errorf("sor: build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("sor: read %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return string(respBody), nil
}
