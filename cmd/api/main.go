package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/cache"
	"github.com/fairyhunter13/coupon-issuer/internal/config"
	"github.com/fairyhunter13/coupon-issuer/internal/handler"
	"github.com/fairyhunter13/coupon-issuer/internal/queue"
	"github.com/fairyhunter13/coupon-issuer/internal/repository"
	"github.com/fairyhunter13/coupon-issuer/internal/service"
	"github.com/fairyhunter13/coupon-issuer/internal/validator"
	"github.com/fairyhunter13/coupon-issuer/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(2)
	}

	initLogger(cfg)

	ctx := context.Background()

	// Database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), cfg.DB.ConnectRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Decision store
	store := cache.NewClient(cache.Options{
		Addrs:       cfg.Redis.AddrList(),
		Password:    cfg.Redis.Password,
		DialTimeout: time.Duration(cfg.Redis.DialTimeout) * time.Second,
		ReadTimeout: time.Duration(cfg.Redis.ReadTimeout) * time.Second,
		PoolSize:    cfg.Redis.PoolSize,
		ReadRetries: cfg.Redis.MaxRetries,
	})
	if err := store.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to decision store")
	}

	// Issuance log producer
	producer, err := queue.NewProducer(
		cfg.Kafka.BrokerList(),
		cfg.Kafka.Topic,
		cfg.Kafka.DeadLetter,
		cfg.Issuer.PublishBudget(),
		cfg.Issuer.PublishAttempts,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create log producer")
	}
	if err := producer.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to reach log brokers")
	}

	app := fiber.New(fiber.Config{
		AppName:      "Coupon Issuer",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	validate := validator.New()

	couponTTL := time.Duration(cfg.Issuer.CouponTTL) * time.Second

	eventRepo := repository.NewEventRepository(pool)
	issuanceRepo := repository.NewIssuanceRepository(pool)
	issuanceService := service.NewIssuanceService(store, producer, issuanceRepo, couponTTL)
	adminService := service.NewAdminService(eventRepo, store, couponTTL)
	requestTimeout := time.Duration(cfg.Server.RequestTimeout) * time.Second
	couponHandler := handler.NewCouponHandler(issuanceService, validate, requestTimeout)
	adminHandler := handler.NewAdminHandler(adminService, validate)

	healthHandler := handler.NewHealthHandler(store, producer, pool)
	app.Get("/health", healthHandler.Check)

	// Issuance routes
	app.Post("/api/v1/coupons/issue", couponHandler.IssueCoupon)
	app.Get("/api/v1/coupons/status/:event_id", couponHandler.EventStatus)
	app.Get("/api/v1/coupons/user/:user_id/event/:event_id", couponHandler.UserCoupon)

	// Admin routes
	app.Post("/api/v1/admin/events", adminHandler.CreateEvent)
	app.Get("/api/v1/admin/events/:event_id", adminHandler.GetEvent)
	app.Post("/api/v1/admin/events/:event_id/stock", adminHandler.InitializeStock)
	app.Post("/api/v1/admin/events/:event_id/deactivate", adminHandler.DeactivateEvent)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server first so in-flight issuances can finish publishing
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	producer.Close()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("error closing decision store")
	}
	pool.Close()
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
