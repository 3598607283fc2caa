package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/aura/api/internal/auth"
	"github.com/aura/api/internal/client"
	"github.com/aura/api/internal/config"
	"github.com/aura/api/internal/middleware"
	"github.com/aura/api/internal/poller"
	"github.com/aura/api/internal/retry"
	"github.com/aura/api/internal/server"
	"github.com/aura/api/internal/service"
	"github.com/aura/api/internal/store"
	ws "github.com/aura/api/internal/websocket"
	"github.com/aura/api/internal/worker"
)

// @title          AURA Briefings API
// @version        1.0
// @description    Backend-for-frontend that submits personalized air-quality podcast briefings and tracks their generation.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	ctx := context.Background()
	redisOK := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisOK = false
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Job store and change feed
	jobStore := store.NewJobStore()
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Attach(jobStore)()

	// Generation service client
	briefingClient := client.NewBriefingClient(&cfg.Briefing)
	if !briefingClient.IsConfigured() {
		log.Println("Warning: BRIEFING_BASE_URL not set, podcast generation will fail")
	}

	// Status poller
	statusPoller := poller.New(jobStore, briefingClient, poller.Config{
		Interval:       cfg.Poller.Interval,
		RequestTimeout: cfg.Poller.RequestTimeout,
		Content:        retry.ContentConfig(cfg.Poller.ContentRetries),
	})

	// Initialize R2 client (optional - audio is proxied if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else if r2Client.IsConfigured() {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, audio will be proxied")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var tokenVerifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
			tokenVerifier = jwksVerifier
		}
	}
	authenticator := auth.NewAuthenticator(tokenVerifier, cfg.JWT.Secret)
	if cfg.Gateway.Enabled {
		log.Println("Info: Gateway mode enabled, using header-based auth")
	}

	// Initialize services
	contentCache := service.NewContentCache(redisClient, cfg.Cache.ContentTTL)
	audioService := service.NewAudioService(briefingClient, storage, cfg.R2.URLExpiry)
	podcastService := service.NewPodcastService(jobStore, statusPoller, briefingClient, contentCache, audioService, asynqClient)

	app := server.New(server.Deps{
		Config:        cfg,
		Podcasts:      podcastService,
		Hub:           hub,
		Authenticator: authenticator,
		RateLimiter:   middleware.NewRateLimiter(redisClient),
		Validator:     validate,
		Services: map[string]bool{
			"briefing": briefingClient.IsConfigured(),
			"r2":       storage != nil,
			"redis":    redisOK,
		},
	})

	// Pick up any generating jobs that lack a poller
	statusPoller.Reconcile()

	// Start Asynq worker server
	workerSrv := newWorkerServer(cfg)
	startWorkerServer(workerSrv, briefingClient)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("Server error: %v", err)
	}

	workerSrv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := statusPoller.Shutdown(shutdownCtx); err != nil {
		log.Printf("Poller shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func newWorkerServer(cfg *config.Config) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				service.QueueCleanup: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)
}

func startWorkerServer(srv *asynq.Server, remote client.PodcastGenerator) {
	cleanupWorker := worker.NewCleanupWorker(remote)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeRemoteDelete, cleanupWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}
