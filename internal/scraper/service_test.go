package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/RileyJaeke/microcenter-scraper/internal/config"
	"github.com/RileyJaeke/microcenter-scraper/internal/fetcher"
	"github.com/RileyJaeke/microcenter-scraper/internal/ingest"
	"github.com/RileyJaeke/microcenter-scraper/internal/pkg/metrics"
)

type fakeFetcher struct {
	fetchFunc func(ctx context.Context, url string) (string, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.fetchFunc(ctx, url)
}

func (f *fakeFetcher) Close() error { return nil }

type fakeIngestor struct {
	resolveStoreFunc func(ctx context.Context, name, city, state string) (uint, error)
	ingestPageFunc   func(ctx context.Context, storeID uint, items []ingest.Item) (int, error)
}

func (f *fakeIngestor) ResolveStore(ctx context.Context, name, city, state string) (uint, error) {
	if f.resolveStoreFunc != nil {
		return f.resolveStoreFunc(ctx, name, city, state)
	}
	return 1, nil
}

func (f *fakeIngestor) IngestPage(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
	return f.ingestPageFunc(ctx, storeID, items)
}

const pageHTML = `<li class="product_wrapper">
<a class="productClickItemV2" data-name="Card" data-brand="B" data-price="1.00" href="/p/1"></a>
<p class="sku">SKU: 999999</p></li>`

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			PageSize: 96,
			MaxPages: 10,
			// 测试里不需要礼貌性等待
			PageDelay:  0,
			StoreDelay: 0,
		},
		Stores: []config.StoreConfig{
			{RetailerID: "101", Name: "Tustin", City: "Tustin", State: "CA"},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(cfg *config.Config, f fetcher.PageFetcher, ing Ingestor) *Service {
	metrics.InitMetrics()
	return New(cfg, f, ing, nil, testLogger())
}

func TestRunStoreStopsOnShortPage(t *testing.T) {
	counts := []int{96, 96, 40}
	pages := 0

	svc := newTestService(testConfig(),
		&fakeFetcher{fetchFunc: func(ctx context.Context, url string) (string, error) {
			return pageHTML, nil
		}},
		&fakeIngestor{ingestPageFunc: func(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
			n := counts[pages]
			pages++
			return n, nil
		}},
	)

	total, err := svc.runStore(context.Background(), svc.cfg.Stores[0])
	if err != nil {
		t.Fatalf("runStore: %v", err)
	}
	if pages != 3 {
		t.Errorf("pages scraped = %d, want 3 (stop after the first short page)", pages)
	}
	if total != 232 {
		t.Errorf("total recorded = %d, want 232", total)
	}
}

func TestRunStoreHonorsMaxPagesBound(t *testing.T) {
	pages := 0

	svc := newTestService(testConfig(),
		&fakeFetcher{fetchFunc: func(ctx context.Context, url string) (string, error) {
			return pageHTML, nil
		}},
		&fakeIngestor{ingestPageFunc: func(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
			pages++
			return 96, nil // 每页都满，永远到不了自然终止
		}},
	)

	if _, err := svc.runStore(context.Background(), svc.cfg.Stores[0]); err != nil {
		t.Fatalf("runStore: %v", err)
	}
	if pages != 10 {
		t.Errorf("pages scraped = %d, want the 10 page safety bound", pages)
	}
}

func TestRunStoreTreatsFetchTimeoutAsEmptyPage(t *testing.T) {
	svc := newTestService(testConfig(),
		&fakeFetcher{fetchFunc: func(ctx context.Context, url string) (string, error) {
			return "", fetcher.ErrFetchTimeout
		}},
		&fakeIngestor{ingestPageFunc: func(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
			t.Fatal("ingest must not be called for a timed out page")
			return 0, nil
		}},
	)

	total, err := svc.runStore(context.Background(), svc.cfg.Stores[0])
	if err != nil {
		t.Fatalf("timeout should terminate the run cleanly, got %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

func TestStartRejectsConcurrentScrape(t *testing.T) {
	release := make(chan struct{})
	svc := newTestService(testConfig(),
		&fakeFetcher{fetchFunc: func(ctx context.Context, url string) (string, error) {
			<-release
			return "", fetcher.ErrFetchTimeout
		}},
		&fakeIngestor{ingestPageFunc: func(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
			return 0, nil
		}},
	)

	if err := svc.Start(context.Background(), "101"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := svc.Start(context.Background(), "101"); !errors.Is(err, ErrBusy) {
		t.Errorf("second start = %v, want ErrBusy", err)
	}

	st := svc.Status()
	if !st.IsScraping || st.CurrentStore != "Tustin" {
		t.Errorf("status during run = %+v", st)
	}

	close(release)
	waitIdle(t, svc)

	// 回到空闲后可以再次启动
	release = make(chan struct{})
	close(release)
	if err := svc.Start(context.Background(), "101"); err != nil {
		t.Errorf("start after finish: %v", err)
	}
	waitIdle(t, svc)
}

func TestStartUnknownStore(t *testing.T) {
	svc := newTestService(testConfig(),
		&fakeFetcher{fetchFunc: func(ctx context.Context, url string) (string, error) {
			return pageHTML, nil
		}},
		&fakeIngestor{ingestPageFunc: func(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
			return 0, nil
		}},
	)

	if err := svc.Start(context.Background(), "999"); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("start = %v, want ErrUnknownStore", err)
	}
	if st := svc.Status(); st.IsScraping {
		t.Errorf("rejected start must not flip state: %+v", st)
	}
}

func TestRunStoreReturnsToIdleWithTerminalMessage(t *testing.T) {
	svc := newTestService(testConfig(),
		&fakeFetcher{fetchFunc: func(ctx context.Context, url string) (string, error) {
			return pageHTML, nil
		}},
		&fakeIngestor{ingestPageFunc: func(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
			return 0, errors.New("db gone")
		}},
	)

	if err := svc.Start(context.Background(), "101"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, svc)

	st := svc.Status()
	if !strings.Contains(st.Message, "failed") {
		t.Errorf("terminal message = %q, want a failure message", st.Message)
	}
}

func TestStatusMirroredToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	metrics.InitMetrics()
	svc := New(testConfig(),
		&fakeFetcher{fetchFunc: func(ctx context.Context, url string) (string, error) {
			return "", fetcher.ErrFetchTimeout
		}},
		&fakeIngestor{ingestPageFunc: func(ctx context.Context, storeID uint, items []ingest.Item) (int, error) {
			return 0, nil
		}},
		rdb, testLogger())

	if !svc.tryStart("Tustin") {
		t.Fatal("tryStart failed on idle service")
	}
	if got, err := mr.Get("scrape:status:running"); err != nil || got != "1" {
		t.Errorf("running key = %q (%v), want \"1\"", got, err)
	}
	if got, _ := mr.Get("scrape:status:store"); got != "Tustin" {
		t.Errorf("store key = %q, want Tustin", got)
	}

	svc.finish("Finished Tustin: 0 items recorded")
	if got, _ := mr.Get("scrape:status:running"); got != "0" {
		t.Errorf("running key after finish = %q, want \"0\"", got)
	}
	if got, _ := mr.Get("scrape:status:message"); !strings.Contains(got, "Finished") {
		t.Errorf("message key = %q, want the terminal message", got)
	}
}

func TestStatusNotBlockedBySlowStatusMirror(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	// 接受连接但从不回包，模拟挂起的 Redis
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { _, _ = io.Copy(io.Discard, conn) }()
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:        ln.Addr().String(),
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
		MaxRetries:  -1,
	})
	defer func() { _ = rdb.Close() }()

	metrics.InitMetrics()
	svc := New(testConfig(), &fakeFetcher{}, &fakeIngestor{}, rdb, testLogger())

	started := make(chan struct{})
	go func() {
		svc.tryStart("Tustin")
		close(started)
	}()

	// 状态读取必须在镜像写入还卡着的时候就能返回
	deadline := time.After(500 * time.Millisecond)
	for !svc.Status().IsScraping {
		select {
		case <-deadline:
			t.Fatal("Status blocked behind the redis status mirror")
		case <-time.After(5 * time.Millisecond):
		}
	}
	select {
	case <-started:
		t.Error("mirror write finished before Status was observed, fixture not slow enough")
	default:
	}

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("tryStart never returned")
	}
}

func waitIdle(t *testing.T, svc *Service) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if !svc.Status().IsScraping {
			return
		}
		select {
		case <-deadline:
			t.Fatal("service did not return to idle")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
