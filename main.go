package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chatstream/internal/config"
	"chatstream/internal/db"
	"chatstream/internal/grpcserver"
	"chatstream/internal/handlers"
	"chatstream/internal/middleware"
	"chatstream/internal/observability"
	"chatstream/internal/platform/logging"
	platformredis "chatstream/internal/platform/redis"
	"chatstream/internal/rabbitmq"
	"chatstream/internal/ratelimit"
	"chatstream/internal/repositories"
	"chatstream/internal/services"
	"chatstream/internal/session"
	"chatstream/internal/telemetry"
	"chatstream/internal/ws"
)

const auditRoutingKey = "audit.chatstream"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.IsProd())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	rdb, err := platformredis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	database, err := db.Connect(ctx, cfg.Postgres.DSN, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	limits := repositories.LogLimits{
		MaxContentBytes: cfg.Log.MaxContentBytes,
		DefaultLimit:    cfg.Log.DefaultLimit,
		MaxLimit:        cfg.Log.MaxLimit,
	}
	var messages repositories.MessageLog
	switch cfg.Log.Backend {
	case "badger":
		var bdb *badger.DB
		bdb, err = repositories.OpenBadger(cfg.Log.BadgerPath)
		if err != nil {
			return err
		}
		defer bdb.Close()
		messages = repositories.NewBadgerLog(bdb, limits, logger)
	default:
		messages = repositories.NewRedisStreamLog(rdb, limits, logger)
	}
	logger.Info("message log ready", zap.String("backend", cfg.Log.Backend))

	hub := ws.NewHub(cfg.Live.SubscriberBuffer, logger)
	var live ws.LiveChannel = hub
	if cfg.Live.Backend == "redis" {
		bridge := ws.NewRedisBridge(hub, rdb, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live bridge stopped", zap.Error(err))
			}
		}()
		live = bridge
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready", zap.String("mode", rabbitmq.PublisherMode(publisher)), zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.App.Name, cfg.App.Env, logger)

	directory := repositories.NewChatDirectoryRepo(database)
	sessions := session.NewRedisStore(rdb, cfg.SessionTTL(), logger)
	authService := services.NewAuthService(repositories.NewUserRepo(database), sessions, logger)
	chatService := services.NewChatService(directory, messages, live, logger)
	previews := services.NewPreviewAggregator(directory, messages, logger)
	limiter := ratelimit.New(rdb, cfg.RateLimit.Messages, cfg.RateWindow())

	authHandler := handlers.NewAuthHandler(authService, audit, cfg.SessionTTL(), cfg.App.SecureCookie, logger)
	chatHandler := handlers.NewChatHandler(previews, chatService, audit, logger)
	chatWS := ws.NewChatWebSocketHandler(live, messages, directory, sessions, limiter, ws.CoordinatorConfig{
		MaxFrameBytes:   cfg.WS.MaxFrameBytes,
		MaxContentBytes: cfg.Log.MaxContentBytes,
		PongWait:        cfg.PongWait(),
		WriteWait:       cfg.WriteWait(),
	}, logger)

	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if !cfg.IsProd() {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(observability.HTTPMetricsMiddleware())

	checks := map[string]handlers.Pinger{
		"redis":    handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		"postgres": handlers.PingFunc(database.PingContext),
	}
	router.GET("/healthz", handlers.Health(checks, logger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, hub, !cfg.IsProd())

	router.POST("/signup", authHandler.Signup)
	router.POST("/login", authHandler.Login)

	authed := router.Group("/", middleware.AuthMiddleware(authService, cfg.App.SecureCookie))
	authed.POST("/logout", authHandler.Logout)
	authed.GET("/session", authHandler.Session)
	authed.GET("/users/:username", authHandler.UserExists)
	authed.GET("/chats/my-chats", chatHandler.ListMyChats)
	authed.GET("/chats/available-chats", chatHandler.ListAvailableChats)
	authed.POST("/chats", chatHandler.CreateChat)
	authed.POST("/chats/:chat_id/join", chatHandler.JoinChat)
	authed.GET("/chats/:chat_id/messages", chatHandler.GetChatMessages)

	// The websocket handler authenticates before upgrading and answers with
	// plain HTTP statuses, so it stays outside the JSON auth middleware.
	router.GET("/ws/chats/:chat_id", chatWS.Handle)

	grpcSrv := grpcserver.New(map[string]grpcserver.Check{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"postgres": database.PingContext,
	}, logger)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go grpcSrv.Watch(ctx, 10*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; ending the
	// hub subscriptions closes them.
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.Stop()
	return nil
}
