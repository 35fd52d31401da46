package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/config"
	"github.com/fairyhunter13/coupon-issuer/internal/consumer"
	"github.com/fairyhunter13/coupon-issuer/internal/queue"
	"github.com/fairyhunter13/coupon-issuer/internal/repository"
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

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), cfg.DB.ConnectRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Producer here serves the dead letter topic only
	producer, err := queue.NewProducer(
		cfg.Kafka.BrokerList(),
		cfg.Kafka.Topic,
		cfg.Kafka.DeadLetter,
		cfg.Issuer.PublishBudget(),
		cfg.Issuer.PublishAttempts,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create dead letter producer")
	}

	issuanceRepo := repository.NewIssuanceRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	writer := consumer.NewWriter(
		pool,
		issuanceRepo,
		eventRepo,
		producer,
		cfg.Consumer.MaxAttempts,
		cfg.Consumer.BackoffBase(),
		cfg.Consumer.BackoffCap(),
	)

	c, err := consumer.New(cfg.Kafka.BrokerList(), cfg.Kafka.ConsumerGroup, cfg.Kafka.Topic, writer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create log consumer")
	}
	if err := c.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to reach log brokers")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		log.Info().
			Str("group", cfg.Kafka.ConsumerGroup).
			Str("topic", cfg.Kafka.Topic).
			Msg("starting durable writer")
		done <- c.Run(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			log.Error().Msg("writer did not stop in time")
		}
	case err := <-done:
		if err != nil {
			// Offsets for the failed record were never committed; a restart
			// resumes exactly where this run stopped.
			log.Error().Err(err).Msg("writer halted")
			exitCode = 1
		}
		cancel()
	}

	c.Close()
	producer.Close()
	pool.Close()
	log.Info().Msg("consumer stopped")
	os.Exit(exitCode)
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
