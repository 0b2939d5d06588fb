package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomchat/internal/chat"
	"roomchat/internal/config"
	"roomchat/internal/db"
	"roomchat/internal/logging"
	myMiddleware "roomchat/internal/middleware"
	"roomchat/internal/presence"
	"roomchat/internal/room"
	"roomchat/internal/storage"
	"roomchat/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// 1. Platform: Postgres, Redis, optional blob storage.
	database, err := db.NewDatabase(cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer database.Close()
	logger.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("database schema initialized")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	var blobs storage.BlobStore
	if cfg.AttachmentsEnabled() {
		store, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("connect to object storage: %w", err)
		}
		blobs = store
		logger.Info("attachments enabled", "bucket", cfg.MinioBucket)
	}

	bus, closeBus, err := newBus(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	// 2. Features.
	tracker := presence.NewTracker(redisClient, cfg.PresenceTTL)

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, tracker, cfg.JWTSecret, logger)
	userHandler := user.NewHandler(userService, logger)

	roomService := room.NewService(room.NewRepository(database.Conn), userRepo, logger)
	roomHandler := room.NewHandler(roomService, logger)

	chatService := chat.NewService(chat.NewRepository(database.Conn), roomService, roomService.Access(), blobs, bus, chat.Options{
		MaxContentLength: cfg.MaxContentLength,
		MaxUploadBytes:   int64(cfg.MaxUploadBytes),
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
	}, logger)
	hub := chat.NewHub(logger)
	chatHandler := chat.NewHandler(chatService, hub, roomService, tracker, logger)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 3. Routes.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(myMiddleware.RequestLog(logger))
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/me", userHandler.Me)
		r.Get("/api/users/online", userHandler.Online)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users", roomHandler.ListUsers)
		r.Get("/api/users/{userId}", roomHandler.ShowUser)
		r.Post("/api/users/{userId}/assign-room", roomHandler.AssignRoom)
		r.Post("/api/users/{userId}/remove-room", roomHandler.RemoveRoom)

		r.Get("/api/categories", roomHandler.ListCategories)
		r.Post("/api/categories", roomHandler.CreateCategory)

		r.Get("/api/rooms", roomHandler.ListRooms)
		r.Post("/api/rooms", roomHandler.CreateRoom)
		r.Get("/api/rooms/{id}", roomHandler.GetRoom)
		r.Post("/api/rooms/{id}/join", roomHandler.Join)
		r.Post("/api/rooms/{id}/leave", roomHandler.Leave)
		r.Get("/api/rooms/{id}/users", roomHandler.ListMembers)
		r.Get("/api/rooms/{roomId}/messages", chatHandler.ListMessages)
		r.Get("/api/rooms/{roomId}/messages/unread", chatHandler.UnreadCount)

		r.Post("/api/messages", chatHandler.SendMessage)
		r.Get("/api/messages/{id}", chatHandler.GetMessage)
		r.Put("/api/messages/{id}", chatHandler.EditMessage)
		r.Delete("/api/messages/{id}", chatHandler.DeleteMessage)
		r.Post("/api/messages/{id}/read", chatHandler.MarkRead)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 4. Run the hub, the bus consumer and the HTTP server until shutdown.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return bus.Subscribe(gctx, hub.Deliver)
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Addr, "bus", cfg.BusDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newBus(cfg config.Config, redisClient *redis.Client, logger *slog.Logger) (chat.Bus, func(), error) {
	switch cfg.BusDriver {
	case config.BusAMQP:
		bus, err := chat.NewAMQPBus(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	case config.BusLocal:
		return chat.NewLocalBus(1024), func() {}, nil
	default:
		return chat.NewRedisBus(redisClient, logger), func() {}, nil
	}
}
