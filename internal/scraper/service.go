package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RileyJaeke/microcenter-scraper/internal/classifier"
	"github.com/RileyJaeke/microcenter-scraper/internal/config"
	"github.com/RileyJaeke/microcenter-scraper/internal/extractor"
	"github.com/RileyJaeke/microcenter-scraper/internal/fetcher"
	"github.com/RileyJaeke/microcenter-scraper/internal/ingest"
	"github.com/RileyJaeke/microcenter-scraper/internal/pkg/metrics"
)

// Redis 状态镜像的键与保留时间。
const (
	statusRunningKey = "scrape:status:running"
	statusStoreKey   = "scrape:status:store"
	statusMessageKey = "scrape:status:message"
	statusTTL        = 24 * time.Hour
	statusOpTimeout  = 5 * time.Second // Redis 状态写入超时
)

// ErrBusy 表示已经有一个抓取在运行。
var ErrBusy = errors.New("a scrape is already in progress")

// ErrUnknownStore 表示请求的门店不在配置的门店列表里。
var ErrUnknownStore = errors.New("unknown store id")

// Ingestor 是编排器对落库层的依赖。
type Ingestor interface {
	ResolveStore(ctx context.Context, name, city, state string) (uint, error)
	IngestPage(ctx context.Context, storeID uint, items []ingest.Item) (int, error)
}

// Status 是对外可见的抓取状态快照。
type Status struct {
	IsScraping   bool   `json:"is_scraping"`
	CurrentStore string `json:"current_store"`
	Message      string `json:"message"`
}

// Service 抓取编排器。
//
// 全进程同一时刻最多运行一个抓取任务：Start 通过互斥量下的
// check-and-set 抢占运行权，抢不到立刻返回 ErrBusy。任何完成路径
// （成功、出错、取消）都回到空闲态并留下一条终态消息。
type Service struct {
	cfg      *config.Config
	fetcher  fetcher.PageFetcher
	ingestor Ingestor
	rdb      *redis.Client // 可为 nil（状态镜像关闭）
	logger   *slog.Logger

	mu           sync.Mutex
	running      bool
	currentStore string
	message      string
}

func New(cfg *config.Config, f fetcher.PageFetcher, ing Ingestor, rdb *redis.Client, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		fetcher:  f,
		ingestor: ing,
		rdb:      rdb,
		logger:   logger,
		message:  "Idle",
	}
}

// Start 为指定门店启动一次后台抓取。
//
// 门店不在配置里返回 ErrUnknownStore；已有抓取在运行返回 ErrBusy。
// 成功启动后立即返回，抓取在独立的 goroutine 里进行，生命周期由
// ctx 控制（通常是进程级的信号 context）。
func (s *Service) Start(ctx context.Context, retailerID string) error {
	store, ok := s.cfg.FindStore(retailerID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStore, retailerID)
	}
	if !s.tryStart(store.Name) {
		return ErrBusy
	}

	go func() {
		total, err := s.runStore(ctx, store)
		if err != nil {
			s.finish(fmt.Sprintf("Scrape of %s failed: %v", store.Name, err))
			return
		}
		s.finish(fmt.Sprintf("Finished %s: %d items recorded", store.Name, total))
	}()
	return nil
}

// RunAll 按配置顺序同步抓取所有门店，门店之间留出礼貌性间隔。
//
// 供定时任务入口使用。单个门店失败只记日志，继续下一家。
func (s *Service) RunAll(ctx context.Context) error {
	for i, store := range s.cfg.Stores {
		if !s.tryStart(store.Name) {
			return ErrBusy
		}

		total, err := s.runStore(ctx, store)
		if err != nil {
			s.finish(fmt.Sprintf("Scrape of %s failed: %v", store.Name, err))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("store scrape failed",
				slog.String("store", store.Name), slog.String("error", err.Error()))
		} else {
			s.finish(fmt.Sprintf("Finished %s: %d items recorded", store.Name, total))
		}

		if i < len(s.cfg.Stores)-1 {
			s.logger.Info("sleeping before next store",
				slog.String("delay", s.cfg.App.StoreDelay.String()))
			if err := sleepCtx(ctx, s.cfg.App.StoreDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// Status 返回当前抓取状态。
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// statusLocked 在持有 s.mu 的前提下生成状态快照。
func (s *Service) statusLocked() Status {
	return Status{
		IsScraping:   s.running,
		CurrentStore: s.currentStore,
		Message:      s.message,
	}
}

// tryStart 抢占运行权，成功时进入 Running 态。
func (s *Service) tryStart(storeName string) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.currentStore = storeName
	s.message = fmt.Sprintf("Scraping %s...", storeName)
	st := s.statusLocked()
	s.mu.Unlock()

	s.mirrorStatus(st)
	return true
}

// finish 回到空闲态并留下终态消息。
func (s *Service) finish(message string) {
	s.mu.Lock()
	s.running = false
	s.currentStore = ""
	s.message = message
	st := s.statusLocked()
	s.mu.Unlock()

	s.mirrorStatus(st)
}

// mirrorStatus 把状态快照写到 Redis，供进程外观察。尽力而为，失败
// 只记日志。必须在锁外调用：慢 Redis 不能阻塞状态读取和运行权抢占。
func (s *Service) mirrorStatus(st Status) {
	if s.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusOpTimeout)
	defer cancel()

	running := "0"
	if st.IsScraping {
		running = "1"
	}
	if err := s.rdb.Set(ctx, statusRunningKey, running, statusTTL).Err(); err != nil {
		s.logger.Warn("set scrape status failed", slog.String("error", err.Error()))
		return
	}
	if err := s.rdb.Set(ctx, statusStoreKey, st.CurrentStore, statusTTL).Err(); err != nil {
		s.logger.Warn("set scrape store failed", slog.String("error", err.Error()))
	}
	if err := s.rdb.Set(ctx, statusMessageKey, st.Message, statusTTL).Err(); err != nil {
		s.logger.Warn("set scrape message failed", slog.String("error", err.Error()))
	}
}

// runStore 抓取单个门店的全部结果页。
//
// 终止条件：某页成功入库的条目数小于单页容量（已到最后一页），或
// 达到最大页数上限。商品元素超时视为空页，正常结束。
func (s *Service) runStore(ctx context.Context, store config.StoreConfig) (int, error) {
	start := time.Now()
	metrics.ScrapeInProgress.Set(1)
	defer func() {
		metrics.ScrapeInProgress.Set(0)
		metrics.ScrapeDuration.WithLabelValues(store.Name).Observe(time.Since(start).Seconds())
	}()

	s.logger.Info("processing store", slog.String("store", store.Name))

	storeID, err := s.ingestor.ResolveStore(ctx, store.Name, store.City, store.State)
	if err != nil {
		metrics.ScrapeErrorsTotal.WithLabelValues("ingest").Inc()
		return 0, fmt.Errorf("resolve store %s: %w", store.Name, err)
	}

	total := 0
	for page := 1; page <= s.cfg.App.MaxPages; page++ {
		s.setMessage(fmt.Sprintf("Scraping %s, page %d...", store.Name, page))
		s.logger.Info("scraping page",
			slog.String("store", store.Name), slog.Int("page", page))

		url := BuildSearchURL(store.RetailerID, s.cfg.App.PageSize, page)
		html, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			if errors.Is(err, fetcher.ErrFetchTimeout) {
				// 空页：该门店没有更多结果
				s.logger.Info("page timed out, no products found",
					slog.String("store", store.Name), slog.Int("page", page))
				break
			}
			metrics.ScrapeErrorsTotal.WithLabelValues("fetch").Inc()
			return total, fmt.Errorf("fetch page %d: %w", page, err)
		}
		metrics.ScrapePagesTotal.WithLabelValues(store.Name).Inc()

		raw, err := extractor.Extract(html)
		if err != nil {
			metrics.ScrapeErrorsTotal.WithLabelValues("extract").Inc()
			return total, fmt.Errorf("extract page %d: %w", page, err)
		}
		s.logger.Info("found products",
			slog.String("store", store.Name), slog.Int("count", len(raw)))

		recorded, err := s.ingestor.IngestPage(ctx, storeID, classify(raw))
		if err != nil {
			metrics.ScrapeErrorsTotal.WithLabelValues("ingest").Inc()
			return total, fmt.Errorf("ingest page %d: %w", page, err)
		}
		total += recorded
		metrics.ScrapeItemsTotal.WithLabelValues(store.Name).Add(float64(recorded))

		if recorded < s.cfg.App.PageSize {
			break
		}
		if page < s.cfg.App.MaxPages {
			if err := sleepCtx(ctx, s.cfg.App.PageDelay); err != nil {
				return total, err
			}
		}
	}

	s.logger.Info("store scrape finished",
		slog.String("store", store.Name),
		slog.Int("items", total),
		slog.String("duration", time.Since(start).String()),
	)
	return total, nil
}

func (s *Service) setMessage(message string) {
	s.mu.Lock()
	s.message = message
	st := s.statusLocked()
	s.mu.Unlock()

	s.mirrorStatus(st)
}

// classify 把提取出的原始条目转成带分类结果的入库条目。
func classify(raw []extractor.RawItem) []ingest.Item {
	items := make([]ingest.Item, 0, len(raw))
	for _, r := range raw {
		d := classifier.Classify(r.FullName, r.Brand)
		items = append(items, ingest.Item{
			FullName:     r.FullName,
			Brand:        d.Brand,
			Manufacturer: d.Manufacturer,
			ModelName:    d.ModelName,
			SKU:          r.SKU,
			Price:        r.Price,
			StockStatus:  r.StockStatus,
			ProductURL:   r.ProductURL,
			ImageURL:     r.ImageURL,
		})
	}
	return items
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
