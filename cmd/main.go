package main

import (
	"anonchat/backend/internal/api/handler"
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/moderation"
	"anonchat/backend/internal/storage"
	"anonchat/backend/internal/telegram"
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDependencies(ctx context.Context, cfg config.Config) (*redis.Client, *storage.ProfileRepository) {
	// 1. Redis: сесії, кімнати та доставка між інстансами
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect Redis")
	}

	// 2. PostgreSQL: профілі та настрої
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}
	profiles := storage.NewProfileRepository(db)
	if err := profiles.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	log.Info().Msg("database and redis connections established, migrations complete")
	return rdb, profiles
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("error loading .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := cfg.ConfigureLogger(); err != nil {
		log.Fatal().Err(err).Msg("invalid logger configuration")
	}
	log.Info().Msg("starting anonchat backend")

	rdb, profiles := setupDependencies(ctx, cfg)
	defer rdb.Close()
	store := storage.NewStorageService(rdb, cfg.StoreRetryAttempts)

	loc, err := localization.NewDefaultLocalizer()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load message catalogs")
	}

	web := chathub.NewWebHub(store, loc, cfg.DefaultLanguage)
	routed := &chathub.RoutedTransport{Web: web}

	var (
		api    *tgbotapi.BotAPI
		client *telegram.Client
	)
	if cfg.TelegramBotToken != "" {
		api, err = telegram.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start telegram bot")
		}
		client = telegram.NewClient(api, loc, cfg.DefaultLanguage)
		routed.Telegram = client
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN is not set, serving web sessions only")
	}

	hub := chathub.NewManagerService(store, profiles, routed, moderation.NewDefaultFilter(), chathub.Options{
		InactivityTimeout:    cfg.InactivityTimeout,
		EmptyRoomTTL:         cfg.EmptyRoomTTL,
		StartReleasesContext: cfg.StartReleasesContext,
		RoomCreatorAutoJoin:  cfg.RoomCreatorAutoJoin,
	})
	web.SetHandler(hub)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := web.Run(ctx); err != nil {
			log.Error().Err(err).Msg("remote delivery listener stopped")
		}
	}()
	if client != nil {
		bot := telegram.NewBotService(api, hub, client)
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.Run(ctx)
		}()
	}
	if cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSweeper(ctx, hub.Reaper, cfg.SweepInterval)
		}()
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	handler.NewHandler(hub, web, cfg.JWTSecret, cfg.JWTTokenTTL).Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	wg.Wait()
	log.Info().Msg("server exited gracefully")
}

// runSweeper reaps stale sessions and expired rooms every interval.
func runSweeper(ctx context.Context, reaper *chathub.Reaper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := reaper.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("reaped", n).Msg("sweep finished")
			}
		}
	}
}
