// Package host encapsulates the embedded host platform API: the deep-link
// endpoint that hands control back to the sandboxed client, and the
// encrypted context header the host attaches to requests it proxies.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/huddleapps/relay-auth/internal/domain"
)

// Client defines the host platform operations the relay depends on.
type Client interface {
	RequestDeepLink(ctx context.Context, providerAccessToken, action string) (string, error)
}

// HTTPClient is the default HTTP implementation.
type HTTPClient struct {
	apiBaseURL string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default host client.
func NewHTTPClient(apiBaseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		httpClient: client,
	}
}

// RequestDeepLink asks the host platform for a navigation link back into the
// embedded client carrying the action payload. The host injects the action
// into the decrypted context when the client is reopened via the link.
func (c *HTTPClient) RequestDeepLink(ctx context.Context, providerAccessToken, action string) (string, error) {
	if strings.TrimSpace(providerAccessToken) == "" {
		return "", fmt.Errorf("%w: provider access token is required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return "", fmt.Errorf("marshal deeplink request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/v2/zoomapp/deeplink", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build deeplink request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+providerAccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: deeplink request: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read deeplink response: %v", domain.ErrExternalService, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("deeplink request failed: status=%d", resp.StatusCode)
	}

	var out struct {
		DeepLink string `json:"deeplink"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode deeplink response: %w", err)
	}
	return out.DeepLink, nil
}
