package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley-backend/internal/config"
	"parley-backend/internal/database"
	"parley-backend/internal/handlers"
	"parley-backend/internal/middleware"
	"parley-backend/internal/repository"
	"parley-backend/internal/router"
	"parley-backend/internal/services"
	"parley-backend/internal/websocket"
	"parley-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Parley Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	convRepo := repository.NewConversationRepo(pool)
	msgRepo := repository.NewMessageRepo(pool)
	checkpointRepo := repository.NewCheckpointRepo(pool)

	// ──── Step 5: Initialize Completion Gateway Client ────
	gatewayService := services.NewGatewayService(
		cfg.GatewayBaseURL,
		cfg.GatewayAPIKey,
		cfg.GatewayDefaultModel,
		cfg.GatewayConcurrentReqs,
		cfg.GatewayTimeoutSecs,
		redisClients.Queue,
	)
	log.Println("✓ Completion gateway client initialized")

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	youtubeService := services.NewYouTubeService()
	fileExtractService := services.NewFileExtractService()
	settingsService := services.NewSettingsService(userRepo, cfg.GatewayDefaultModel)
	authService := services.NewAuthService(userRepo, redisClients.Queue, jwtAuth, emailService)

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService, cfg.FrontendURL)
	convHandler := handlers.NewConversationHandler(convRepo, msgRepo, settingsService, fileExtractService, youtubeService, cfg.StoragePath)
	chatHandler := handlers.NewChatHandler(convRepo, msgRepo, gatewayService, settingsService, redisClients.Queue)
	checkpointHandler := handlers.NewCheckpointHandler(checkpointRepo, convRepo, msgRepo)
	modelHandler := handlers.NewModelHandler(gatewayService)
	userHandler := handlers.NewUserHandler(userRepo, settingsService)

	// ──── Step 6: Start Job Worker Pool ────
	workerPool := worker.NewPool(
		redisClients.Queue,
		gatewayService,
		convRepo,
		msgRepo,
		3,
	)
	workerPool.Start()
	log.Println("✓ Worker pool started (3 goroutines)")

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, cfg.JWTSecret)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		authHandler,
		convHandler,
		chatHandler,
		checkpointHandler,
		modelHandler,
		userHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: completions stream over SSE for minutes.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Parley Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
