package main

import (
	"context"
	"errors"
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
	"github.com/RileyJaeke/microcenter-scraper/internal/pkg/metrics"
	"github.com/RileyJaeke/microcenter-scraper/internal/scraper"
)

// main 是独立抓取任务的入口函数，供 cron 等外部调度使用。
//
// 它按配置顺序抓取全部门店后退出；收到中断信号时在当前页完成后停止。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics()

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
		// 状态镜像不可用不阻塞抓取
		appLogger.Warn("redis unavailable, status mirror disabled", slog.String("error", err.Error()))
		rdb = nil
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
	service := scraper.New(cfg, pageFetcher, reconciler, rdb, appLogger)

	appLogger.Info("starting scheduled scrape of all stores")
	if err := service.RunAll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			appLogger.Info("scrape interrupted")
			return
		}
		appLogger.Error("scrape run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	appLogger.Info("all scheduled scraping jobs finished")
}
