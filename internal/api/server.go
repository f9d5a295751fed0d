package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/RileyJaeke/microcenter-scraper/internal/api/middleware"
	"github.com/RileyJaeke/microcenter-scraper/internal/config"
	"github.com/RileyJaeke/microcenter-scraper/internal/model"
	"github.com/RileyJaeke/microcenter-scraper/internal/pkg/metrics"
	"github.com/RileyJaeke/microcenter-scraper/internal/scraper"
)

const shutdownTimeout = 10 * time.Second // 优雅关闭超时

// ScrapeTrigger 是 API 对抓取编排器的依赖。
type ScrapeTrigger interface {
	Start(ctx context.Context, retailerID string) error
	Status() scraper.Status
}

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、抓取编排器以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *gorm.DB
	rdb     *redis.Client
	router  *gin.Engine
	trigger ScrapeTrigger

	// appCtx 是进程级上下文，后台抓取挂在它上面而不是请求上下文
	appCtx context.Context
}

// OpenDB 连接 MySQL 并迁移数据模型。
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	if err := db.AutoMigrate(&model.Store{}, &model.GPU{}, &model.Product{}, &model.PriceObservation{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// NewServer 组装 API 服务器，数据库与 Redis 连接由调用方注入。
//
// ctx 是进程级上下文，通过 /scrape 启动的后台抓取挂在它上面。
// rdb 允许为 nil（探活时跳过 Redis 检查）。
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *gorm.DB, rdb *redis.Client, trigger ScrapeTrigger) *Server {
	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		rdb:     rdb,
		router:  r,
		trigger: trigger,
		appCtx:  ctx,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/stores", s.handleListStores)
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.POST("/scrape", s.handleScrape)
		apiGroup.GET("/gpus", s.handleListGpus)
		apiGroup.GET("/history/:product_id", s.handleHistory)
	}
}

// Run 启动 HTTP 服务并在 ctx 取消时优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.App.HTTPAddr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close 释放数据库与 Redis 连接。
func (s *Server) Close() error {
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			return err
		}
	}
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// handleListStores 返回配置中可抓取的门店列表。
func (s *Server) handleListStores(c *gin.Context) {
	type storeResp struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		City  string `json:"city"`
		State string `json:"state"`
	}
	resp := make([]storeResp, 0, len(s.cfg.Stores))
	for _, st := range s.cfg.Stores {
		resp = append(resp, storeResp{ID: st.RetailerID, Name: st.Name, City: st.City, State: st.State})
	}
	c.JSON(http.StatusOK, resp)
}

// handleStatus 返回当前抓取状态。
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.trigger.Status())
}

// handleScrape 为指定门店启动一次后台抓取。
//
// 已有抓取在运行时返回 409，门店未知返回 400，成功返回 202。
func (s *Server) handleScrape(c *gin.Context) {
	var req struct {
		StoreID string `json:"store_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.StoreID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
		return
	}

	// 抓取挂到进程级上下文上，请求返回后继续运行
	err := s.trigger.Start(s.appCtx, req.StoreID)
	switch {
	case errors.Is(err, scraper.ErrUnknownStore):
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown store_id %q", req.StoreID)})
	case errors.Is(err, scraper.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"status": "busy", "message": "a scrape is already in progress"})
	case err != nil:
		s.logger.Error("start scrape failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start scrape"})
	default:
		s.logger.Info("scrape started", slog.String("store_id", req.StoreID))
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "store_id": req.StoreID})
	}
}

// gpuSnapshotRow /api/gpus 的一行：某个商品最近一次观测加上产品信息。
type gpuSnapshotRow struct {
	ProductID    uint      `json:"product_id"`
	FullName     string    `json:"full_name"`
	Brand        string    `json:"brand"`
	ModelName    string    `json:"model_name"`
	Manufacturer string    `json:"manufacturer"`
	Price        float64   `json:"price_usd"`
	StockStatus  string    `json:"stock_status"`
	ObservedAt   time.Time `json:"last_checked"`
	ProductURL   string    `json:"product_url"`
	ImageURL     string    `gorm:"column:last_seen_image_url" json:"image_url"`
	StoreName    string    `json:"store_name"`
	StoreCity    string    `json:"store_city"`
}

// latestSnapshotQuery 每个商品取 ID 最大的观测（最近一次写入），按价格降序。
const latestSnapshotQuery = `
SELECT p.id AS product_id,
       g.full_name,
       g.brand,
       g.model_name,
       g.manufacturer,
       po.price,
       po.stock_status,
       po.observed_at,
       p.product_url,
       p.last_seen_image_url,
       s.name AS store_name,
       s.city AS store_city
FROM products p
JOIN gpus g ON p.gpu_id = g.id
JOIN stores s ON p.store_id = s.id
JOIN price_observations po ON po.product_id = p.id
WHERE po.id = (
    SELECT MAX(po2.id) FROM price_observations po2 WHERE po2.product_id = p.id
)
ORDER BY po.price DESC`

// handleListGpus 返回全部商品的最新快照。
//
// 响应带 no-store 头：价格数据必须每次都打到源上，不允许中间缓存。
func (s *Server) handleListGpus(c *gin.Context) {
	var rows []gpuSnapshotRow
	if err := s.db.WithContext(c.Request.Context()).Raw(latestSnapshotQuery).Scan(&rows).Error; err != nil {
		s.logger.Error("load gpu snapshot failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	if rows == nil {
		rows = []gpuSnapshotRow{}
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.JSON(http.StatusOK, rows)
}

// historyRow /api/history 的一行观测。
type historyRow struct {
	Price       float64   `json:"price_usd"`
	StockStatus string    `json:"stock_status"`
	ObservedAt  time.Time `json:"timestamp"`
}

// handleHistory 返回某个商品按时间升序的完整价格历史。
func (s *Server) handleHistory(c *gin.Context) {
	productID, err := strconv.ParseUint(c.Param("product_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id must be a number"})
		return
	}

	var rows []historyRow
	err = s.db.WithContext(c.Request.Context()).
		Model(&model.PriceObservation{}).
		Select("price", "stock_status", "observed_at").
		Where("product_id = ?", productID).
		Order("observed_at ASC").
		Scan(&rows).Error
	if err != nil {
		s.logger.Error("load price history failed",
			slog.Uint64("product_id", productID), slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	if rows == nil {
		rows = []historyRow{}
	}
	c.JSON(http.StatusOK, rows)
}

// handleHealthz 探活：数据库与 Redis 任一不可用返回 503。
func (s *Server) handleHealthz(c *gin.Context) {
	ctx := c.Request.Context()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "mysql"})
		return
	}

	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "redis"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
