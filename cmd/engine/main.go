// Package main provides the alert engine entry point: the tick scheduler
// plus the operational HTTP server.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/alert-engine/internal/api"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/dispatch"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/logging"
	"github.com/alert-engine/internal/quota"
	"github.com/alert-engine/internal/scheduler"
	"github.com/alert-engine/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.WithError(err).Fatal("failed to load configuration")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logging.L().Info("alert engine starting")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logging.WithError(err).Fatal("failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logging.WithError(err).Fatal("failed to connect to ClickHouse")
	}
	defer clickhouse.Close() // nolint:errcheck

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logging.WithError(err).Fatal("failed to connect to Redis")
	}
	defer redis.Close() // nolint:errcheck

	logging.L().Info("database connections established")

	alertRepo := storage.NewAlertRepository(postgres)
	userRepo := storage.NewUserRepository(postgres)
	walletRepo := storage.NewWalletRepository(postgres)
	portfolioRepo := storage.NewPortfolioRepository(postgres)
	snapshotRepo := storage.NewSnapshotRepository(postgres)
	eventRepo := storage.NewEventRepository(clickhouse)
	cache := storage.NewCacheService(redis, cfg.Cache.PriceTTL)

	quotas := quota.NewManager(cfg.Quota, redis.Client(), alertRepo, walletRepo, userRepo)

	feedClient := feed.NewClient(cfg,
		feed.NewHTTPPriceProvider(cfg.Feeds.Price),
		feed.NewHTTPValuationProvider(cfg.Feeds.Valuation),
		feed.NewHTTPWalletProvider(cfg.Feeds.Wallet),
		cache,
	)

	notifier, err := dispatch.NewTelegramNotifier(cfg.Telegram.BotToken)
	if err != nil {
		logging.WithError(err).Fatal("failed to initialize telegram notifier")
	}
	dispatcher := dispatch.New(notifier, alertRepo, eventRepo)

	sched := scheduler.New(cfg.Scheduler, alertRepo, feedClient, quotas, dispatcher, userRepo, snapshotRepo)

	mgmt := &api.Management{
		Quotas:     quotas,
		Users:      userRepo,
		Alerts:     alertRepo,
		Wallets:    walletRepo,
		Portfolios: portfolioRepo,
		Snapshots:  snapshotRepo,
	}
	opsServer := api.NewServer(cfg.Ops, sched, feedClient, eventRepo, postgres, redis, mgmt)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- opsServer.Start()
	}()
	go func() {
		errCh <- sched.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logging.L().Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.WithError(err).Error("component failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logging.WithError(err).Warn("ops server shutdown failed")
	}

	logging.L().Info("alert engine stopped")
}
