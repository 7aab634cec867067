package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"notification-relay/internal/api"
	"notification-relay/internal/config"
	"notification-relay/internal/keystore"
	"notification-relay/internal/services"
	"notification-relay/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

// run wires the server and blocks until it stops. Deferred cleanups run
// before main exits.
func run() error {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		logging.InitLogging("info", "console")
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// Redis is optional: shared JWKS cache and replay guard
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer client.Close()
		redisClient = client
	}

	keys, err := keystore.NewFromConfig(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("failed to initialize key store: %w", err)
	}

	verifier, err := services.NewTokenVerifier(keys, cfg.Algorithm)
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	var forwarder services.Forwarder
	if cfg.ForwardURL != "" {
		forwarder = services.NewWebhookNotifier(cfg.ForwardURL, cfg.ForwardSecret, cfg.ForwardSecretHeader, cfg.ForwardTimeout)
	} else {
		logging.Warnf("FORWARD_URL not set, normalized events will not be relayed")
	}

	var replay services.ReplayGuard
	if cfg.ReplayProtection {
		if redisClient != nil {
			replay = services.NewRedisReplayGuard(redisClient, cfg.ReplayTTL)
		} else {
			guard := services.NewReplayProtection(cfg.ReplayTTL)
			defer guard.Stop()
			replay = guard
		}
	}

	pipeline := services.NewNotificationPipeline(verifier, services.NewEventNormalizer(nil), forwarder, replay)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Setup routes
	api.SetupRoutes(r, api.NewNotificationHandler(pipeline))

	// Start server
	logging.Infof("Starting server on port %s", cfg.Port)

	if err := r.Run(":" + cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
