package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/example/realtime-chat/config"
	"github.com/example/realtime-chat/modules/activity"
	"github.com/example/realtime-chat/modules/api"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/chat"
	"github.com/example/realtime-chat/modules/identity"
	"github.com/example/realtime-chat/modules/ratelimit"
	"github.com/example/realtime-chat/modules/session"
	"github.com/example/realtime-chat/modules/store"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chat:ratelimit:"

func main() {
	log.Println("=== Realtime Chat - Fiber WebSocket + EventBus ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := db.EnsureRooms(ctx, cfg.DefaultRooms); err != nil {
		log.Fatalf("Failed to seed default rooms: %v", err)
	}

	tokens := identity.NewTokenManager(identity.Config{
		SecretKey: cfg.JWTSecretKey,
		TokenTTL:  cfg.AccessTokenTTL,
		Issuer:    cfg.JWTIssuer,
	})
	passwords := identity.NewPasswordHasher(cfg.BcryptCost)

	limiter, redisClient := newLimiter(ctx, cfg, logger)
	registry := session.NewRegistry()

	// Create modules
	broadcastModule := broadcast.NewModule(logger)
	chatModule := chat.NewModule(db, broadcastModule.Hub(), registry, limiter, cfg.SendRateWindow, logger)
	activityModule := activity.NewModule(logger)
	apiModule := api.NewModule(api.Config{
		Port:               cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		StaticDir:          cfg.StaticDir,
		SessionSendBuffer:  cfg.SessionSendBuffer,
	}, api.Deps{
		Store:     db,
		Tokens:    tokens,
		Passwords: passwords,
		Chat:      chatModule.Service(),
		Hub:       broadcastModule.Hub(),
		Registry:  registry,
		Rooms:     chatModule,
		Activity:  activityModule,
	}, logger)

	// Register modules with the framework.
	// Order: independent modules first, the HTTP server last.
	app.Register(broadcastModule) // Room groups + per-session writers
	app.Register(chatModule)      // Realtime pipeline + event emitter
	app.Register(activityModule)  // Event consumer
	app.Register(apiModule)       // HTTP/WebSocket API

	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	logger.Info("Application started",
		"addr", cfg.Addr(),
		"database", db.Driver(),
		"rate_limit", cfg.RateLimitEnabled(),
		"redis", redisClient != nil)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				logger.Info("Graceful shutdown initiated")
				err := app.Stop(ctx)
				if closeErr := db.Close(); closeErr != nil {
					err = errors.Join(err, closeErr)
				}
				if redisClient != nil {
					if closeErr := redisClient.Close(); closeErr != nil {
						err = errors.Join(err, closeErr)
					}
				}
				return err
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

// newLimiter picks the send limiter: Redis sliding window when REDIS_ADDR is
// set and reachable, otherwise an in-process token bucket. It returns a nil
// limiter when rate limiting is disabled.
func newLimiter(ctx context.Context, cfg config.Config, logger types.Logger) (ratelimit.Limiter, *redis.Client) {
	if !cfg.RateLimitEnabled() {
		return nil, nil
	}
	limits := ratelimit.Config{
		RequestsPerWindow: cfg.SendRateLimit,
		WindowSize:        cfg.SendRateWindow,
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := client.Ping(pingCtx).Err()
		if err == nil {
			return ratelimit.NewSlidingWindowLimiter(client, limits, redisKeyPrefix), client
		}
		logger.Warn("Redis unavailable, using in-process rate limiter", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
	}
	return ratelimit.NewTokenBucketLimiter(limits), nil
}
