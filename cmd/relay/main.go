package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	hostadapter "github.com/huddleapps/relay-auth/internal/adapter/host"
	idpadapter "github.com/huddleapps/relay-auth/internal/adapter/idp"
	"github.com/huddleapps/relay-auth/internal/config"
	"github.com/huddleapps/relay-auth/internal/crypto"
	httptransport "github.com/huddleapps/relay-auth/internal/http"
	"github.com/huddleapps/relay-auth/internal/http/handler"
	"github.com/huddleapps/relay-auth/internal/middleware"
	"github.com/huddleapps/relay-auth/internal/server"
	"github.com/huddleapps/relay-auth/internal/service"
	"github.com/huddleapps/relay-auth/internal/store"
	"github.com/huddleapps/relay-auth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newRedisClient,
			newCodec,
			newTokenStore,
			newIDPClient,
			newHostClient,
			newDeepLinkBridge,
			newHandshake,
			newRelayHandler,
			newRateLimiter,
			newRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newCodec(cfg config.Config) (*crypto.Codec, error) {
	return crypto.NewCodec(cfg.CacheEncryptionKey)
}

func newTokenStore(client redis.UniversalClient, codec *crypto.Codec, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *store.TokenStore {
	return store.NewTokenStore(client, codec, node, cfg.TokenTTL, logger)
}

func newIDPClient(cfg config.Config) idpadapter.Client {
	return idpadapter.NewHTTPClient(cfg.IDPBaseURL, cfg.IDPAPIKey, nil)
}

func newHostClient(cfg config.Config) hostadapter.Client {
	return hostadapter.NewHTTPClient(cfg.HostAPIURL, nil)
}

func newDeepLinkBridge(hostClient hostadapter.Client, logger *zap.Logger) *service.DeepLinkBridge {
	return service.NewDeepLinkBridge(hostClient, logger)
}

func newHandshake(tokenStore *store.TokenStore, provider idpadapter.Client, bridge *service.DeepLinkBridge, cfg config.Config, logger *zap.Logger) *service.Handshake {
	return service.NewHandshake(tokenStore, provider, bridge, cfg.TokenTTL, logger)
}

func newRelayHandler(handshake *service.Handshake, cfg config.Config, logger *zap.Logger) *handler.RelayHandler {
	return handler.NewRelayHandler(handshake, cfg, logger)
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newRouter(cfg config.Config, relay *handler.RelayHandler, tokenStore *store.TokenStore, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	return httptransport.NewRouter(cfg, relay, tokenStore, rateLimiter, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
