package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/huddleapps/relay-auth/internal/adapter/host"
	"github.com/huddleapps/relay-auth/internal/domain"
)

// MaxActionPayloadBytes is the host platform's hard ceiling on the action
// payload a deep link may carry. Field selection stays minimal (no tokens,
// no URLs) to hold the serialized size under it.
const MaxActionPayloadBytes = 256

// ActionMarkerToken marks a deep-link re-entry that should resolve cached
// tokens for its state.
const ActionMarkerToken = "getToken"

// ActionPayload is the JSON object a deep link carries back into the
// embedded host: the correlation state and a verification marker.
type ActionPayload struct {
	State    string `json:"state"`
	Verified string `json:"verified"`
}

// BuildActionPayload serializes the action payload and enforces the size
// ceiling.
func BuildActionPayload(state, marker string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("%w: state is required", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(ActionPayload{State: state, Verified: marker})
	if err != nil {
		return "", fmt.Errorf("marshal action payload: %w", err)
	}
	if len(raw) > MaxActionPayloadBytes {
		return "", fmt.Errorf("%w: action payload is %d bytes, limit %d",
			domain.ErrInvalidInput, len(raw), MaxActionPayloadBytes)
	}
	return string(raw), nil
}

// ParseActionPayload decodes an action payload delivered through the host
// context header.
func ParseActionPayload(act string) (*ActionPayload, error) {
	if act == "" {
		return nil, fmt.Errorf("%w: empty action payload", domain.ErrInvalidInput)
	}
	var payload ActionPayload
	if err := json.Unmarshal([]byte(act), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode action payload: %v", domain.ErrInvalidInput, err)
	}
	return &payload, nil
}

// DeepLinkBridge requests navigation links from the host platform. A missing
// deep link is a recoverable UX condition (the client shows a fallback
// button), so failures degrade to an empty link instead of an error.
type DeepLinkBridge struct {
	host   host.Client
	logger *zap.Logger
}

// NewDeepLinkBridge wires the bridge.
func NewDeepLinkBridge(hostClient host.Client, logger *zap.Logger) *DeepLinkBridge {
	if logger == nil {
		logger = zap.L()
	}
	return &DeepLinkBridge{host: hostClient, logger: logger}
}

// RequestDeepLink exchanges a provider access token and action payload for a
// deep link. Any failure logs and returns the empty string.
func (b *DeepLinkBridge) RequestDeepLink(ctx context.Context, providerAccessToken, payload string) string {
	if providerAccessToken == "" {
		b.logger.Warn("missing provider access token for deeplink request")
		return ""
	}
	link, err := b.host.RequestDeepLink(ctx, providerAccessToken, payload)
	if err != nil {
		b.logger.Error("deeplink request failed", zap.Error(err))
		return ""
	}
	return link
}
