// Package idp encapsulates outbound HTTP calls to the identity provider.
// The provider's session and user objects are treated as opaque beyond the
// fields the relay needs; session lifecycle stays on the provider side.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/huddleapps/relay-auth/internal/domain"
)

// User is the subset of the provider's user object the relay cares about.
type User struct {
	ID    string `json:"id"`
	Aud   string `json:"aud"`
	Email string `json:"email"`
}

// Session models the provider's session object: the credential pair, its
// expiry in epoch seconds, and the owning user.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Bundle converts the session into the cacheable credential unit.
func (s *Session) Bundle() domain.TokenBundle {
	expiresAt := s.ExpiresAt
	if expiresAt == 0 {
		expiresAt = time.Now().Unix() + s.ExpiresIn
	}
	return domain.TokenBundle{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

// Client defines the provider operations the orchestrator depends on.
type Client interface {
	ExchangeCode(ctx context.Context, code string) (*Session, error)
	SessionFromTokens(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	FetchUser(ctx context.Context, accessToken string) (*User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// ProviderError carries the provider's rejection message. Not retryable.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider rejected request: status=%d %s", e.Status, e.Message)
}

const (
	maxRetries     = 3
	retryBaseDelay = 200 * time.Millisecond
)

// HTTPClient is the default HTTP implementation.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default provider client.
func NewHTTPClient(baseURL, apiKey string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
	}
}

// ExchangeCode swaps an authorization code for a session.
func (c *HTTPClient) ExchangeCode(ctx context.Context, code string) (*Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, domain.ErrMissingCode
	}
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	return c.tokenRequest(ctx, data)
}

// RefreshSession obtains a fresh session from a refresh token.
func (c *HTTPClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, data)
}

// SessionFromTokens establishes a session by presenting a cached credential
// pair. The provider validates the access token; the pair is returned as
// the session credentials alongside the resolved user.
func (c *HTTPClient) SessionFromTokens(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	user, err := c.FetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         *user,
	}, nil
}

// FetchUser resolves the user behind an access token.
func (c *HTTPClient) FetchUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	err := c.withRetry(ctx, func() error {
		body, err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &user); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut invalidates the provider-side session for the access token.
func (c *HTTPClient) SignOut(ctx context.Context, accessToken string) error {
	return c.withRetry(ctx, func() error {
		_, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil)
		return err
	})
}

func (c *HTTPClient) tokenRequest(ctx context.Context, data url.Values) (*Session, error) {
	var session Session
	err := c.withRetry(ctx, func() error {
		endpoint := c.baseURL + "/auth/v1/token?" + url.Values{"grant_type": {data.Get("grant_type")}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
		if err != nil {
			return fmt.Errorf("build token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		c.applyAPIKey(req)

		body, err := c.send(req)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &session); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if session.AccessToken == "" {
		return nil, &ProviderError{Status: http.StatusOK, Message: "session missing access token"}
	}
	return &session, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")
	c.applyAPIKey(req)
	return c.send(req)
}

func (c *HTTPClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrExternalService, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider status=%d", domain.ErrExternalService, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, &ProviderError{Status: resp.StatusCode, Message: providerMessage(body)}
	}
	return body, nil
}

func (c *HTTPClient) applyAPIKey(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
}

// withRetry runs fn up to maxRetries times with doubling backoff. Only
// transient external-service failures retry; provider rejections surface
// immediately.
func (c *HTTPClient) withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, domain.ErrExternalService) {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func providerMessage(body []byte) string {
	var payload struct {
		Message     string `json:"message"`
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, msg := range []string{payload.Message, payload.Description, payload.Error} {
			if strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	return "request failed"
}
