package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"room-chat-service/internal/config"
	"room-chat-service/internal/db"
	"room-chat-service/internal/handlers"
	"room-chat-service/internal/jobs"
	"room-chat-service/internal/kafka"
	"room-chat-service/internal/logging"
	"room-chat-service/internal/middleware"
	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
	"room-chat-service/internal/rabbitmq"
	"room-chat-service/internal/repositories"
	"room-chat-service/internal/services"
	"room-chat-service/internal/storage"
	"room-chat-service/internal/telemetry"
	"room-chat-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Development())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.Endpoint, cfg.App.ServiceName, cfg.App.Env, logger)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	var (
		roomRepo    repositories.RoomRepository
		commentRepo repositories.CommentRepository
		checks      = map[string]handlers.HealthCheck{}
	)
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn is empty, using in-memory store")
		store := repositories.NewMemoryStore()
		roomRepo, commentRepo = store, store
	} else {
		database, err := db.Connect(ctx, cfg.DB, logger)
		if err != nil {
			logger.Fatal("failed to connect to db", zap.Error(err))
		}
		defer database.Close()
		roomRepo, commentRepo = repositories.NewRoomRepo(database), repositories.NewCommentRepo(database)
		checks["db"] = database.PingContext
	}

	publisher := newPublisher(cfg.Events, logger)
	defer publisher.Close()

	objects, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to set up object storage", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("invalid redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	hub := ws.NewHub(publisher, logger)

	roomService := services.NewRoomService(roomRepo, commentRepo, services.RoomServiceConfig{
		DefaultPageSize: cfg.Delivery.DefaultPageSize,
		MaxPageSize:     cfg.Delivery.MaxPageSize,
		SystemParticipant: models.Participant{
			ID:   cfg.Delivery.SystemParticipantID,
			Name: cfg.Delivery.SystemParticipantName,
			Role: cfg.Delivery.SystemParticipantRole,
		},
	})
	if _, err := roomService.EnsureSystemParticipant(ctx); err != nil {
		logger.Fatal("failed to provision system participant", zap.Error(err))
	}
	pipeline := services.NewSendPipeline(commentRepo, hub, publisher, logger, services.PipelineConfig{
		TokenRetention:  cfg.Delivery.TokenRetention,
		ConflictRetries: cfg.Delivery.ConflictRetries,
		ConflictBackoff: cfg.Delivery.ConflictBackoff,
		PublishTimeout:  cfg.Delivery.PublishTimeout,
	})
	attachments := services.NewAttachmentService(commentRepo, objects, hub, logger, cfg.Storage.MaxUploadBytes)

	audit := telemetry.NewAuditEmitter(publisher, cfg.Events.AuditRouteKey, cfg.App.ServiceName, cfg.App.Env, logger)
	roomHandler := handlers.NewRoomHandler(roomService, audit)
	commentHandler := handlers.NewCommentHandler(roomService, pipeline, attachments, audit)
	roomWS := ws.NewRoomWebSocketHandler(hub, roomRepo)

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(cfg.App.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	sendLimit := sendRateLimit(ctx, cfg.RateLimit, redisClient, logger)

	router.POST("/rooms", roomHandler.CreateRoom)
	router.GET("/rooms/:room_id", roomHandler.GetRoom)
	router.POST("/rooms/:room_id/participants", roomHandler.AddParticipant)
	router.GET("/rooms/:room_id/comments", roomHandler.ListComments)
	router.POST("/rooms/:room_id/comments", sendLimit, commentHandler.PostComment)

	router.GET("/comments/:comment_id", roomHandler.GetComment)
	router.POST("/comments/:comment_id/attachments", sendLimit, commentHandler.UploadAttachment)

	router.POST("/participants", roomHandler.ProvisionParticipant)
	router.GET("/participants", roomHandler.ListParticipants)
	router.GET("/personal/:participant_id/comments", roomHandler.ListPersonalComments)
	router.POST("/personal/:participant_id/comments", sendLimit, commentHandler.PostPersonalComment)

	router.GET("/ws/rooms/:room_id", roomWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterHealthRoutes(router, checks)
	handlers.RegisterDebugRoutes(router, audit, cfg.App.Debug)

	go runPurge(ctx, cfg, commentRepo, logger)

	srv := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins: cfg.App.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Request-ID", "X-Participant-ID", "X-Device-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		}).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	pipeline.Drain()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", zap.Error(err))
	}
}

func newPublisher(cfg config.EventsConfig, logger *zap.Logger) rabbitmq.Publisher {
	switch cfg.Backend {
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return rabbitmq.NewNoopPublisher("no kafka brokers configured", logger)
		}
		return kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	case "amqp":
		return rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	default:
		return rabbitmq.NewNoopPublisher("events backend disabled", logger)
	}
}

// sendRateLimit shares counters through redis when available and falls back
// to per-process token buckets.
func sendRateLimit(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, logger *zap.Logger) gin.HandlerFunc {
	if cfg.SendsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if client != nil {
		return middleware.NewRedisRateLimiter(client, "ratelimit:send", cfg.SendsPerMinute, time.Minute, logger).
			Handler(middleware.ParticipantOrIP)
	}

	limiter := middleware.NewLocalRateLimiter(cfg.SendsPerMinute, cfg.Burst, logger)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Sweep(10 * time.Minute); n > 0 {
					logger.Debug("swept idle rate limiters", zap.Int("count", n))
				}
			}
		}
	}()
	return limiter.Handler(middleware.ParticipantOrIP)
}

func runPurge(ctx context.Context, cfg *config.Config, store jobs.TokenStore, logger *zap.Logger) {
	purger := jobs.NewTokenPurger(store, cfg.Delivery.TokenRetention, logger)
	if cfg.Redis.URL == "" {
		purger.RunTicker(ctx, cfg.Delivery.PurgeInterval)
		return
	}
	runner, err := jobs.NewAsynqRunner(cfg.Redis.URL, purger, cfg.Delivery.PurgeInterval, logger)
	if err != nil {
		logger.Error("asynq unavailable, purging in-process", zap.Error(err))
		purger.RunTicker(ctx, cfg.Delivery.PurgeInterval)
		return
	}
	if err := runner.Run(ctx); err != nil {
		logger.Error("asynq runner stopped", zap.Error(err))
	}
}
