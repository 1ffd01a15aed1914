package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/xaenox/support-bot/internal/bot"
	"github.com/xaenox/support-bot/internal/dialog"
	"github.com/xaenox/support-bot/internal/events"
	"github.com/xaenox/support-bot/internal/storage"
	"github.com/xaenox/support-bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store storage.Storage
	switch cfg.Database.Backend {
	case "memory":
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	default:
		logger.Info("Using SQLite storage", zap.String("path", cfg.Database.Path))
		backups, berr := storage.NewBackupManager(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Keep, logger)
		if berr != nil {
			logger.Fatal("Failed to initialize backups", zap.Error(berr))
		}
		store, err = storage.NewSQLiteStore(cfg.Database.Path, backups, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Load the assignment table and seed the configured owners
	table, err := dialog.NewTable(ctx, store, cfg.Telegram.OwnerIDs, logger)
	if err != nil {
		logger.Fatal("Failed to load assignment table", zap.Error(err))
	}

	// Optional assignment-event publisher
	var publisher *events.Publisher
	if cfg.Events.URL != "" {
		publisher, err = events.NewPublisher(cfg.Events.URL, cfg.Events.Exchange, logger)
		if err != nil {
			logger.Fatal("Failed to connect event publisher", zap.Error(err))
		}
		defer publisher.Close()
	}

	// Initialize bot
	b, err := bot.New(bot.Options{
		Token:            cfg.Telegram.Token,
		AdminChannelID:   cfg.Telegram.AdminChatID,
		Workers:          cfg.Bot.Workers,
		HistoryRetention: time.Duration(cfg.Retention.HistoryDays) * 24 * time.Hour,
	}, table, store, publisher, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Start the bot
	if err := b.Start(ctx); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
