package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/huddleapps/relay-auth/internal/config"
	"github.com/huddleapps/relay-auth/internal/http/handler"
	httpmiddleware "github.com/huddleapps/relay-auth/internal/http/middleware"
	"github.com/huddleapps/relay-auth/internal/middleware"
	"github.com/huddleapps/relay-auth/internal/store"
)

// NewRouter wires Gin routes and middleware. The ingress interceptor runs
// ahead of all routing so token material appearing in any URL is captured
// and stripped before handlers see the request.
func NewRouter(cfg config.Config, relay *handler.RelayHandler, tokenStore *store.TokenStore, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpmiddleware.Ingress(tokenStore, cfg.LandingPath, cfg.TokenTTL, logger))

	r.GET("/tokens", relay.GetTokens)
	r.DELETE("/tokens", relay.DeleteTokens)
	r.GET("/tokens-by-user", relay.GetTokensByUser)

	oauth := r.Group("/oauth")
	{
		oauth.GET("/callback", relay.OAuthCallback)
	}

	hostGroup := r.Group("/host")
	{
		hostGroup.GET("/home", relay.HostHome)
		hostGroup.GET("/authorize", relay.HostAuthorize)
		hostGroup.POST("/launch", relay.HostLaunch)
		hostGroup.POST("/sign-card", relay.SignCard)
	}

	auth := r.Group("/auth")
	{
		auth.POST("/logout", relay.Logout)
	}

	r.GET("/healthz", relay.Healthz)

	return r
}
