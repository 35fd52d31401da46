package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/cache"
	"github.com/fairyhunter13/coupon-issuer/internal/config"
	"github.com/fairyhunter13/coupon-issuer/internal/reconciler"
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

	eventRepo := repository.NewEventRepository(pool)
	issuanceRepo := repository.NewIssuanceRepository(pool)
	r := reconciler.New(eventRepo, store, issuanceRepo,
		time.Duration(cfg.Reconciler.Interval)*time.Second)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		log.Info().Int("interval_seconds", cfg.Reconciler.Interval).Msg("starting reconciler")
		done <- r.Run(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()
	<-done

	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("error closing decision store")
	}
	pool.Close()
	log.Info().Msg("reconciler stopped")
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
