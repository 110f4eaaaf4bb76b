package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/huddleapps/relay-auth/internal/domain"
	"github.com/huddleapps/relay-auth/internal/store"
)

// unknownState keys records for ingress requests that arrive without a
// correlation state. Matches the relay client's behavior when the host
// strips the state from its redirect.
const unknownState = "unknown"

// tokenParams lists every spelling under which token material can appear in
// an ingress URL. The fragment artifacts ("#access_token", "%23access_token")
// come from the host relaying a URL fragment as if it were a query string.
var accessTokenParams = []string{"access_token", "accessToken", "#access_token", "%23access_token"}
var refreshTokenParams = []string{"refresh_token", "refreshToken"}

// Ingress inspects inbound requests for token material in the URL and, when
// both tokens are present, persists them under the request's state before
// stripping them and redirecting to the landing path. Runs ahead of normal
// routing. Requests without token material pass through untouched.
func Ingress(tokenStore *store.TokenStore, landingPath string, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}

	return func(c *gin.Context) {
		values := collectParams(c.Request.URL)

		access := firstParam(values, accessTokenParams)
		refresh := firstParam(values, refreshTokenParams)
		if access == "" || refresh == "" {
			c.Next()
			return
		}

		state := values.Get("state")
		if state == "" {
			state = unknownState
		}

		bundle := domain.TokenBundle{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    time.Now().Add(ttl).Unix(),
		}
		if err := tokenStore.Put(c.Request.Context(), state, bundle); err != nil {
			// Never continue as authenticated on a failed write; fall
			// through to normal unauthenticated handling.
			logger.Error("ingress token persistence failed",
				zap.String("state", state), zap.Error(err))
			c.Next()
			return
		}
		logger.Info("ingress tokens cached", zap.String("state", state))

		c.Redirect(http.StatusFound, landingPath+stripTokenParams(values))
		c.Abort()
	}
}

// collectParams merges the regular query parameters with any URL-encoded
// fragment masquerading as a query string.
func collectParams(u *url.URL) url.Values {
	values := u.Query()

	if decoded, err := url.QueryUnescape(strings.TrimPrefix(u.RawQuery, "?")); err == nil {
		if fragment, err := url.ParseQuery(decoded); err == nil {
			for key, vals := range fragment {
				if values.Get(key) == "" && len(vals) > 0 {
					values.Set(key, vals[0])
				}
			}
		}
	}
	return values
}

func firstParam(values url.Values, names []string) string {
	for _, name := range names {
		if v := values.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// stripTokenParams rebuilds the query string without any token material.
func stripTokenParams(values url.Values) string {
	for _, name := range append(append([]string{}, accessTokenParams...), refreshTokenParams...) {
		values.Del(name)
	}
	if encoded := values.Encode(); encoded != "" {
		return "?" + encoded
	}
	return ""
}
