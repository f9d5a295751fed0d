package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 抓取相关的 Prometheus 指标。
//
// InitMetrics 必须在使用任何指标前调用；重复调用是安全的（测试里会被
// 多次调用）。
var (
	// ScrapeInProgress 当前是否有抓取在运行 (0/1)。
	ScrapeInProgress prometheus.Gauge

	// ScrapePagesTotal 按门店统计抓取过的搜索结果页数。
	ScrapePagesTotal *prometheus.CounterVec

	// ScrapeItemsTotal 按门店统计成功入库的商品观测数。
	ScrapeItemsTotal *prometheus.CounterVec

	// ScrapeErrorsTotal 按类型统计抓取错误 (fetch / extract / ingest)。
	ScrapeErrorsTotal *prometheus.CounterVec

	// ScrapeDuration 单个门店一次完整抓取的耗时。
	ScrapeDuration *prometheus.HistogramVec

	// HTTPRequestsTotal 按路由和状态码统计 API 请求数。
	HTTPRequestsTotal *prometheus.CounterVec
)

var initOnce sync.Once

// InitMetrics 注册所有指标。
func InitMetrics() {
	initOnce.Do(func() {
		ScrapeInProgress = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gputracker_scrape_in_progress",
			Help: "Whether a scrape run is currently in progress (0 or 1).",
		})

		ScrapePagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gputracker_scrape_pages_total",
			Help: "Total number of search result pages fetched, by store.",
		}, []string{"store"})

		ScrapeItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gputracker_scrape_items_total",
			Help: "Total number of product observations recorded, by store.",
		}, []string{"store"})

		ScrapeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gputracker_scrape_errors_total",
			Help: "Total number of scrape errors, by stage.",
		}, []string{"stage"})

		ScrapeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gputracker_scrape_duration_seconds",
			Help:    "Duration of a full single-store scrape run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"store"})

		HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gputracker_http_requests_total",
			Help: "Total number of API requests, by route and status code.",
		}, []string{"route", "status"})
	})
}
