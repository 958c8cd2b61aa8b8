package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"potluck/chat-service/internal/config"
	"potluck/chat-service/internal/directory"
	grpcServer "potluck/chat-service/internal/grpc"
	"potluck/chat-service/internal/realtime"
	"potluck/chat-service/internal/repository"
	"potluck/chat-service/internal/rest"
	"potluck/chat-service/internal/service"

	pb "github.com/kegazani/metachat-proto/chat"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var db *sql.DB
	var chatRepo repository.ChatRepository
	switch cfg.Storage.Driver {
	case "postgres":
		db, err = sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		logger.Info("Connected to PostgreSQL database")

		chatRepo = repository.NewChatRepository(db)
		if err := chatRepo.InitializeTables(ctx); err != nil {
			logger.Fatalf("Failed to initialize database tables: %v", err)
		}
	default:
		chatRepo = repository.NewMemoryRepository()
		logger.Warn("Using in-memory storage; chats are lost on restart")
	}

	var redisClient *redis.Client
	if cfg.Directory.Driver == "redis" || cfg.Realtime.Broker == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("Failed to ping redis: %v", err)
		}
		logger.WithField("addr", cfg.Redis.Addr).Info("Connected to Redis")
	}

	var dir directory.Directory
	switch cfg.Directory.Driver {
	case "postgres":
		dir = directory.NewPostgresDirectory(db)
	case "redis":
		dir = directory.NewCachedDirectory(directory.NewPostgresDirectory(db), redisClient,
			cfg.Realtime.ChannelPrefix, cfg.Directory.CacheTTL, logger)
	default:
		profiles := directory.ParseProfiles(cfg.Directory.StaticUsers)
		dir = directory.NewStaticDirectory(profiles...)
		logger.WithField("users", len(profiles)).Info("Using static user directory")
	}

	chatService := service.NewChatService(chatRepo, dir, logger, cfg.Storage.Timeout)

	registry := realtime.NewRegistry()
	var broker realtime.Broker
	var workers sync.WaitGroup
	switch cfg.Realtime.Broker {
	case "redis":
		rb := realtime.NewRedisBroker(redisClient, registry, cfg.Realtime.ChannelPrefix, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := rb.Run(ctx); err != nil {
				logger.WithError(err).Error("Redis broker stopped")
			}
		}()
		broker = rb
	default:
		broker = realtime.NewLocalBroker(registry)
	}

	gateway := realtime.NewGateway(registry, broker, chatService, logger)
	wsHandler := realtime.NewWSHandler(gateway, realtime.WSOptions{
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
		SendRate:       cfg.Realtime.SendRate,
		SendBurst:      cfg.Realtime.SendBurst,
		AllowedOrigins: cfg.HTTP.CORSOrigins,
	}, logger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	restSrv := rest.NewServer(chatService, gateway, logger, rest.Options{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
		Push:        wsHandler,
	})

	httpAddress := net.JoinHostPort(cfg.Server.Host, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:              httpAddress,
		Handler:           restSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting HTTP server on %s", httpAddress)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	var s *grpc.Server
	if cfg.GRPC.Enabled {
		address := net.JoinHostPort(cfg.Server.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", address)
		if err != nil {
			logger.Fatalf("Failed to listen on %s: %v", address, err)
		}

		s = grpc.NewServer()
		pb.RegisterChatServiceServer(s, grpcServer.NewChatServer(chatService, gateway, logger))

		if cfg.GRPC.ReflectionEnabled {
			reflection.Register(s)
			logger.Info("gRPC reflection enabled")
		}

		go func() {
			logger.Infof("Starting gRPC server on %s", address)
			if err := s.Serve(lis); err != nil {
				logger.Fatalf("Failed to start gRPC server: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	if s != nil {
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("gRPC server exited gracefully")
		case <-shutdownCtx.Done():
			logger.Info("gRPC server shutdown timeout")
			s.Stop()
		}
	}

	stop()
	workers.Wait()

	sessions, channels := registry.Stats()
	logger.WithFields(logrus.Fields{
		"sessions": sessions,
		"channels": channels,
	}).Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	return logger
}
