package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/agent"
	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/config"
	"github.com/draftforge/api/internal/genai"
	"github.com/draftforge/api/internal/handler"
	"github.com/draftforge/api/internal/middleware"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/service"
	"github.com/draftforge/api/internal/stage"
	"github.com/draftforge/api/internal/store"
	ws "github.com/draftforge/api/internal/websocket"
)

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

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
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

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize clients
	llmClient := client.NewLLMClient(&cfg.LLM)
	if !llmClient.IsConfigured() {
		log.Printf("Warning: LLM API key not set, pipeline stages will fail")
	}

	var storageClient client.StorageClient
	if cfg.Storage.BucketName != "" {
		r2, err := client.NewR2Client(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: R2 storage unavailable: %v", err)
		} else {
			storageClient = r2
		}
	}

	// Initialize stores and publisher
	jobStore := store.NewRedisJobStore(redisClient)
	catalogStore := store.NewRedisCatalogStore(redisClient)
	publisher := queue.NewAsynqPublisher(asynqClient, time.Duration(cfg.Pipeline.TaskTimeout)*time.Second)

	// Initialize services
	generationService := service.NewGenerationService(jobStore, catalogStore, storageClient, publisher)

	// Initialize handlers
	generationHandler := handler.NewGenerationHandler(generationService, validate)
	authHandler := handler.NewAuthHandler(cfg.JWT.Secret)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	var authenticate fiber.Handler
	if cfg.Gateway.Enabled {
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
		authenticate = authMiddleware.Authenticate()
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if cfg.Server.LogLevel == "debug" {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${ip} ${ua}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ForwardAuth endpoint for the gateway
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", authenticate)

	generate := api.Group("/generate")
	generate.Post("/start", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generationHandler.Start)
	generate.Get("/status/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), generationHandler.Status)
	generate.Get("/result/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), generationHandler.Result)
	generate.Get("/history", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), generationHandler.History)
	generate.Delete("/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), generationHandler.Delete)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, llmClient, storageClient, jobStore, catalogStore, publisher, hub)

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
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	llmClient *client.LLMClient,
	storageClient client.StorageClient,
	jobStore store.JobStore,
	catalogStore store.CatalogStore,
	publisher queue.Publisher,
	hub *ws.Hub,
) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    cfg.Pipeline.Concurrency,
			Queues:         queue.AllQueues(),
			RetryDelayFunc: agent.RetryDelay,
		},
	)

	gen := genai.NewClient(llmClient, cfg.Pipeline.MaxRetries)
	leaseTTL := time.Duration(cfg.Pipeline.LeaseTTL) * time.Second
	finalizer := stage.NewArtifactFinalizer(storageClient, catalogStore)

	mux := asynq.NewServeMux()

	intentAgent := agent.New[model.UserPrompt, model.IntentResponse](
		stage.NewIntentStage(gen), jobStore, publisher, leaseTTL, hub)
	mux.HandleFunc(queue.TaskType(queue.QueueIntent), intentAgent.ProcessTask)

	for _, format := range []model.OutputFormat{
		model.FormatPresentation,
		model.FormatDocument,
		model.FormatSpreadsheet,
	} {
		layoutAgent := agent.New[model.IntentResponse, model.LayoutResponse](
			stage.NewLayoutStage(gen, format), jobStore, publisher, leaseTTL, hub)
		mux.HandleFunc(queue.TaskType(queue.LayoutQueueFor(format)), layoutAgent.ProcessTask)

		contentAgent := agent.New[model.LayoutResponse, model.ContentResponse](
			stage.NewContentStage(gen, jobStore, format), jobStore, publisher, leaseTTL, hub)
		mux.HandleFunc(queue.TaskType(queue.ContentQueueFor(format)), contentAgent.ProcessTask)

		renderAgent := agent.New[model.ContentResponse, model.RenderResponse](
			stage.NewRenderStage(format, finalizer, publisher), jobStore, publisher, leaseTTL, hub)
		mux.HandleFunc(queue.TaskType(queue.RenderQueueFor(format)), renderAgent.ProcessTask)
	}

	reconciler := stage.NewReconciler(finalizer, jobStore)
	mux.HandleFunc(queue.TaskType(queue.QueueReconcile), reconciler.ProcessTask)

	log.Printf("Worker server starting with %d queues", len(queue.AllQueues()))
	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
