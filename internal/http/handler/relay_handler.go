package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/huddleapps/relay-auth/internal/adapter/host"
	"github.com/huddleapps/relay-auth/internal/adapter/idp"
	"github.com/huddleapps/relay-auth/internal/config"
	"github.com/huddleapps/relay-auth/internal/domain"
	"github.com/huddleapps/relay-auth/internal/service"
)

// ContextHeader is the encrypted context the embedded host attaches to
// requests it proxies.
const ContextHeader = "X-App-Context"

// RelayHandler exposes the token relay HTTP surface.
type RelayHandler struct {
	Handshake *service.Handshake
	Config    config.Config
	Logger    *zap.Logger
}

// NewRelayHandler creates the handler set.
func NewRelayHandler(handshake *service.Handshake, cfg config.Config, logger *zap.Logger) *RelayHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &RelayHandler{Handshake: handshake, Config: cfg, Logger: logger}
}

// GetTokens returns the cached bundle for a correlation state.
func (h *RelayHandler) GetTokens(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state parameter"})
		return
	}
	bundle, err := h.Handshake.ResolveByState(c.Request.Context(), state)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// GetTokensByUser resolves a bundle knowing only the application user id,
// via the latest-state indirection.
func (h *RelayHandler) GetTokensByUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId parameter"})
		return
	}
	bundle, err := h.Handshake.ResolveByUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotAuthenticated) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "user not authenticated yet, complete the OAuth flow first",
			})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// DeleteTokens removes the cached bundle for a state. Idempotent.
func (h *RelayHandler) DeleteTokens(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state parameter"})
		return
	}
	if err := h.Handshake.DeleteBundle(c.Request.Context(), state); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// OAuthCallback completes the web flow. Redirect targets derive from the
// configured trusted site URL, never from request headers.
func (h *RelayHandler) OAuthCallback(c *gin.Context) {
	next := sanitizeNext(c.Query("next"))

	session, err := h.Handshake.HandleOAuthCallback(c.Request.Context(), c.Query("code"))
	if err != nil {
		reason := "auth_failed"
		if errors.Is(err, domain.ErrMissingCode) {
			reason = "missing_code"
		}
		c.Redirect(http.StatusFound, h.Config.SiteURL+"/error?message="+reason)
		return
	}

	h.Logger.Info("oauth callback completed", zap.String("aud", session.User.Aud))
	c.Redirect(http.StatusFound, h.Config.SiteURL+next)
}

type launchRequest struct {
	State         string `json:"state" binding:"required"`
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
	ProviderToken string `json:"providerToken"`
}

// HostLaunch completes the embedded flow: the client posts the fields it
// extracted from the provider's redirect fragment, and receives the deep
// link back into the host. An empty deep link means "show the fallback
// button", not failure.
func (h *RelayHandler) HostLaunch(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid launch request"})
		return
	}

	link, err := h.Handshake.CompleteEmbeddedLaunch(c.Request.Context(), service.EmbeddedLaunchInput{
		State:         req.State,
		AccessToken:   req.AccessToken,
		RefreshToken:  req.RefreshToken,
		ProviderToken: req.ProviderToken,
	})
	if err != nil {
		if errors.Is(err, domain.ErrMissingCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_credentials"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deeplink": link})
}

// HostHome handles requests proxied by the embedded host. It records the
// user -> latest-state indirection from the context header, serves deep-link
// re-entries by resolving the cached bundle, and otherwise redirects into
// the site.
func (h *RelayHandler) HostHome(c *gin.Context) {
	var (
		uid     string
		state   string
		reentry bool
	)

	if header := c.GetHeader(ContextHeader); header != "" {
		appCtx, err := host.DecryptContext(header, h.Config.HostClientSecret)
		switch {
		case err != nil:
			h.Logger.Warn("host context decryption failed", zap.Error(err))
		case appCtx.Expired():
			h.Logger.Warn("host context expired", zap.String("uid", appCtx.UID))
		default:
			uid = appCtx.UID
			if appCtx.Act != "" {
				payload, err := service.ParseActionPayload(appCtx.Act)
				if err != nil {
					h.Logger.Warn("malformed action payload in host context", zap.Error(err))
				} else {
					state = payload.State
					reentry = payload.Verified == service.ActionMarkerToken
				}
			}
		}
	}

	// The indirection is written only when both halves are present.
	if uid != "" && state != "" {
		if err := h.Handshake.RecordHostContext(c.Request.Context(), uid, state); err != nil {
			h.Logger.Error("latest-state write failed",
				zap.String("uid", uid), zap.String("state", state), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cache write failed"})
			return
		}
	}

	if reentry && state != "" {
		bundle, err := h.Handshake.ResolveByState(c.Request.Context(), state)
		if err != nil {
			h.Logger.Error("deep-link re-entry resolution failed",
				zap.String("state", state), zap.Error(err))
			c.Redirect(http.StatusFound, h.Config.SiteURL+"?error=token_not_found")
			return
		}
		if _, err := h.Handshake.HydrateSession(c.Request.Context(), state, bundle); err != nil {
			h.Logger.Error("deep-link re-entry hydration failed",
				zap.String("state", state), zap.Error(err))
			c.Redirect(http.StatusFound, h.Config.SiteURL+"?error=auth_failed")
			return
		}
		c.Redirect(http.StatusFound, h.Config.SiteURL+"?state="+state)
		return
	}

	c.Redirect(http.StatusFound, h.Config.SiteURL+sanitizeNext(c.Query("next")))
}

// HostAuthorize starts an embedded OAuth attempt: issue a fresh correlation
// state and hand back the provider's authorize URL, which redirects into the
// launch page carrying that state. The redirect target is built from the
// trusted site URL only.
func (h *RelayHandler) HostAuthorize(c *gin.Context) {
	state, err := h.Handshake.NewState()
	if err != nil {
		h.respondError(c, err)
		return
	}
	launch := h.Config.SiteURL + "/launch?state=" + state
	authorizeURL := h.Config.IDPBaseURL + "/auth/v1/authorize?provider=zoom&redirect_to=" +
		url.QueryEscape(launch)
	c.JSON(http.StatusOK, gin.H{"url": authorizeURL})
}

type signCardRequest struct {
	Message string `json:"message" binding:"required"`
}

// SignCard returns the timestamped HMAC the host requires before rendering
// app-supplied card content.
func (h *RelayHandler) SignCard(c *gin.Context) {
	var req signCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message parameter is required"})
		return
	}
	if h.Config.HostClientSecret == "" {
		h.Logger.Error("card signing requested without a host client secret configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signing secret not configured"})
		return
	}
	sig, err := host.SignCard(h.Config.HostClientSecret, req.Message, time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// Logout clears the access token for a state while preserving silent
// refresh, and signs out at the provider.
func (h *RelayHandler) Logout(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state parameter"})
		return
	}
	if err := h.Handshake.Logout(c.Request.Context(), state); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Healthz reports the cache round-trip probe.
func (h *RelayHandler) Healthz(c *gin.Context) {
	if !h.Handshake.Healthy(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps lower-layer failures onto client-visible kinds. Internal
// detail stays in the logs.
func (h *RelayHandler) respondError(c *gin.Context, err error) {
	var rejection *idp.ProviderError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrDataCorrupted):
		h.Logger.Error("corrupted cache record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "data corrupted"})
	case errors.Is(err, domain.ErrExternalService):
		h.Logger.Error("external service failure", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "external service unavailable"})
	case errors.As(err, &rejection):
		c.JSON(http.StatusBadGateway, gin.H{"error": rejection.Message})
	default:
		h.Logger.Error("unhandled relay error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// sanitizeNext constrains redirect continuation paths to site-relative
// targets.
func sanitizeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	if strings.Contains(next, "\\") || strings.Contains(next, "://") {
		return "/"
	}
	return next
}
