// Package service orchestrates the three OAuth handshake flows over the
// token cache: the browser redirect flow, the embedded deep-link flow, and
// the returning-user lookup keyed only by application user id. All
// correlation between requests happens through the cache; nothing is shared
// in-process.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/huddleapps/relay-auth/internal/adapter/idp"
	"github.com/huddleapps/relay-auth/internal/correlation"
	"github.com/huddleapps/relay-auth/internal/domain"
	"github.com/huddleapps/relay-auth/internal/store"
)

// Handshake coordinates flows across the cache, the identity provider, and
// the deep-link bridge.
type Handshake struct {
	store    *store.TokenStore
	provider idp.Client
	bridge   *DeepLinkBridge
	tokenTTL time.Duration
	logger   *zap.Logger
}

// NewHandshake wires the orchestrator.
func NewHandshake(tokenStore *store.TokenStore, provider idp.Client, bridge *DeepLinkBridge, tokenTTL time.Duration, logger *zap.Logger) *Handshake {
	if tokenTTL <= 0 {
		tokenTTL = store.DefaultTTL
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Handshake{
		store:    tokenStore,
		provider: provider,
		bridge:   bridge,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// NewState issues a correlation state for a fresh OAuth attempt.
func (h *Handshake) NewState() (string, error) {
	return correlation.Generate()
}

// HandleOAuthCallback runs the web flow: exchange the authorization code for
// a provider session. The caller redirects on the outcome; a missing code
// never reaches the provider.
func (h *Handshake) HandleOAuthCallback(ctx context.Context, code string) (*idp.Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, domain.ErrMissingCode
	}
	session, err := h.provider.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Error("code exchange failed", zap.Error(err))
		return nil, err
	}
	h.logger.Info("oauth session established", zap.String("aud", session.User.Aud))
	return session, nil
}

// EmbeddedLaunchInput carries the fields the embedded client extracted from
// the provider's redirect fragment.
type EmbeddedLaunchInput struct {
	State         string
	AccessToken   string
	RefreshToken  string
	ProviderToken string
}

// CompleteEmbeddedLaunch runs the embedded flow: persist the credential pair
// under the state, then request a deep link back into the host. Persistence
// must succeed before the host is contacted; a missing credential pair fails
// immediately without touching the host. An empty deep link is not an error
// — the client falls back to a manual open.
func (h *Handshake) CompleteEmbeddedLaunch(ctx context.Context, in EmbeddedLaunchInput) (string, error) {
	if strings.TrimSpace(in.AccessToken) == "" || strings.TrimSpace(in.RefreshToken) == "" {
		return "", domain.ErrMissingCredentials
	}
	if !correlation.Valid(in.State) {
		return "", fmt.Errorf("%w: malformed state", domain.ErrInvalidInput)
	}

	bundle := domain.TokenBundle{
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		ExpiresAt:    time.Now().Add(h.tokenTTL).Unix(),
	}
	if err := h.store.Put(ctx, in.State, bundle); err != nil {
		return "", fmt.Errorf("persist launch credentials: %w", err)
	}
	h.logger.Info("embedded launch credentials cached", zap.String("state", in.State))

	payload, err := BuildActionPayload(in.State, ActionMarkerToken)
	if err != nil {
		return "", err
	}
	return h.bridge.RequestDeepLink(ctx, in.ProviderToken, payload), nil
}

// ResolveByState returns the cached bundle for a correlation state.
func (h *Handshake) ResolveByState(ctx context.Context, state string) (domain.TokenBundle, error) {
	if !correlation.Valid(state) {
		return domain.TokenBundle{}, fmt.Errorf("%w: malformed state", domain.ErrInvalidInput)
	}
	return h.store.Get(ctx, state)
}

// ResolveByUser runs the Team-Chat flow: rediscover the state through the
// latest-state index, then resolve the bundle. A user with no recorded state
// has never completed an OAuth attempt; that is surfaced distinctly so the
// caller prompts re-authentication instead of retrying.
func (h *Handshake) ResolveByUser(ctx context.Context, userID string) (domain.TokenBundle, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.TokenBundle{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	state, err := h.store.GetLatestState(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TokenBundle{}, domain.ErrUserNotAuthenticated
		}
		return domain.TokenBundle{}, err
	}
	return h.store.Get(ctx, state)
}

// RecordHostContext persists the user -> latest state indirection delivered
// through the host context header. Best effort by design: the index and the
// bundle are never required to be consistent at the same instant.
func (h *Handshake) RecordHostContext(ctx context.Context, userID, state string) error {
	return h.store.PutLatestState(ctx, userID, state)
}

// HydrateSession establishes a provider session from a cached bundle. When
// the provider rejects a stale access token and a refresh token survives,
// hydration retries once with a refreshed session and writes the new pair
// back under the state.
func (h *Handshake) HydrateSession(ctx context.Context, state string, bundle domain.TokenBundle) (*idp.Session, error) {
	if bundle.RefreshToken == "" {
		return nil, domain.ErrMissingCredentials
	}
	if bundle.AccessToken != "" {
		session, err := h.provider.SessionFromTokens(ctx, bundle.AccessToken, bundle.RefreshToken)
		if err == nil {
			return session, nil
		}
		var rejection *idp.ProviderError
		if !errors.As(err, &rejection) {
			return nil, err
		}
		h.logger.Warn("access token rejected, refreshing session",
			zap.String("state", state), zap.Int("status", rejection.Status))
	}

	session, err := h.provider.RefreshSession(ctx, bundle.RefreshToken)
	if err != nil {
		return nil, err
	}
	refreshed := session.Bundle()
	if err := h.store.Update(ctx, state, map[string]any{
		"accessToken":  refreshed.AccessToken,
		"refreshToken": refreshed.RefreshToken,
		"expiresAt":    refreshed.ExpiresAt,
	}); err != nil {
		// Session is valid either way; the stale record simply expires.
		h.logger.Warn("failed to persist refreshed session", zap.String("state", state), zap.Error(err))
	}
	return session, nil
}

// Logout clears the access token for a state while preserving the refresh
// token and expiry, then signs the session out at the provider. Provider
// sign-out is best effort; the cache is the authority on exposure.
func (h *Handshake) Logout(ctx context.Context, state string) error {
	bundle, err := h.store.Get(ctx, state)
	if err != nil {
		return err
	}
	if err := h.store.ClearAccessToken(ctx, state); err != nil {
		return err
	}
	if bundle.AccessToken != "" {
		if err := h.provider.SignOut(ctx, bundle.AccessToken); err != nil {
			h.logger.Warn("provider sign-out failed", zap.String("state", state), zap.Error(err))
		}
	}
	return nil
}

// DeleteBundle removes the cached record for a state. Idempotent.
func (h *Handshake) DeleteBundle(ctx context.Context, state string) error {
	if !correlation.Valid(state) {
		return fmt.Errorf("%w: malformed state", domain.ErrInvalidInput)
	}
	return h.store.Delete(ctx, state)
}

// Healthy reports the cache round-trip probe.
func (h *Handshake) Healthy(ctx context.Context) bool {
	return h.store.HealthCheck(ctx)
}
