package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/RileyJaeke/microcenter-scraper/internal/api"
	"github.com/RileyJaeke/microcenter-scraper/internal/config"
	"github.com/RileyJaeke/microcenter-scraper/internal/fetcher"
	"github.com/RileyJaeke/microcenter-scraper/internal/ingest"
	"github.com/RileyJaeke/microcenter-scraper/internal/pkg/logger"
	"github.com/RileyJaeke/microcenter-scraper/internal/scraper"
)

// main 是 API 服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志
// 3. 连接 MySQL 与 Redis，启动浏览器
// 4. 组装抓取编排器与 API 服务器并启动
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := api.OpenDB(cfg)
	if err != nil {
		appLogger.Error("open database failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pageFetcher, err := fetcher.New(cfg, appLogger)
	if err != nil {
		appLogger.Error("init fetcher failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := pageFetcher.Close(); err != nil {
			appLogger.Error("close browser failed", slog.String("error", err.Error()))
		}
	}()

	reconciler := ingest.NewReconciler(db, appLogger)
	scrapeService := scraper.New(cfg, pageFetcher, reconciler, rdb, appLogger)

	srv := api.NewServer(ctx, cfg, appLogger, db, rdb, scrapeService)
	if err := srv.Run(ctx); err != nil {
		appLogger.Error("server run failed", slog.String("error", err.Error()))
	}

	if err := srv.Close(); err != nil {
		appLogger.Error("close resources failed", slog.String("error", err.Error()))
	}
	appLogger.Info("api server stopped")
}
