package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/RileyJaeke/microcenter-scraper/internal/config"
)

// 页面抓取相关超时。
const (
	cookieBannerTimeout = 3 * time.Second  // 等待 cookie 横幅出现的时间
	settleDelay         = 2 * time.Second  // 商品元素出现后等待渲染稳定
	navigateTimeout     = 30 * time.Second // 页面导航超时
)

// productMarkerSelector 商品元素选择器，出现即认为页面渲染完成。
const productMarkerSelector = ".productClickItemV2"

// cookieBannerSelector cookie 同意按钮。
const cookieBannerSelector = "#onetrust-accept-btn-handler"

const defaultUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.102 Safari/537.36"

// ErrFetchTimeout 表示在超时时间内商品元素始终未出现。
//
// 对调用方来说这等同于 "该页没有商品"，是翻页循环的正常终止信号之一。
var ErrFetchTimeout = errors.New("timed out waiting for product elements")

// PageFetcher 获取一个 URL 渲染后的 HTML。
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// RodFetcher 基于无头浏览器的 PageFetcher 实现。
//
// 浏览器实例在多次 Fetch 之间复用，每次 Fetch 打开并关闭一个新页面。
type RodFetcher struct {
	browser     *rod.Browser
	logger      *slog.Logger
	waitTimeout time.Duration
}

// New 启动浏览器并返回抓取器。
//
// 未配置浏览器路径时自动下载默认浏览器。针对容器环境做了适配
// （NoSandbox、禁用 /dev/shm）。
func New(cfg *config.Config, logger *slog.Logger) (*RodFetcher, error) {
	bin := cfg.Browser.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Browser.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		// 禁用 GPU，服务器环境不需要
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	return &RodFetcher{
		browser:     browser,
		logger:      logger,
		waitTimeout: cfg.App.FetchTimeout,
	}, nil
}

// Fetch 打开页面并等待商品元素出现，返回渲染后的 HTML。
//
// cookie 横幅出现时先点掉；商品元素在 waitTimeout 内未出现时返回
// ErrFetchTimeout。
func (f *RodFetcher) Fetch(ctx context.Context, url string) (string, error) {
	basePage, err := f.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = basePage.Close() }()

	if _, err := basePage.EvalOnNewDocument(stealth.JS); err != nil {
		return "", fmt.Errorf("apply stealth script: %w", err)
	}

	page := basePage.Context(ctx)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: defaultUA}); err != nil {
		f.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}

	f.logger.Info("loading page", slog.String("url", url))
	if err := page.Timeout(navigateTimeout).Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}

	f.dismissCookieBanner(page)

	// 等待商品元素出现，超时视为该页无商品
	if _, err := page.Timeout(f.waitTimeout).Element(productMarkerSelector); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("fetch cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %s", ErrFetchTimeout, url)
	}

	// 给 lazy load 的图片和库存文本一点渲染时间
	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return "", fmt.Errorf("fetch cancelled: %w", ctx.Err())
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// dismissCookieBanner 点掉 cookie 同意横幅，横幅不存在时静默跳过。
func (f *RodFetcher) dismissCookieBanner(page *rod.Page) {
	el, err := page.Timeout(cookieBannerTimeout).Element(cookieBannerSelector)
	if err != nil {
		return
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		f.logger.Debug("cookie banner click failed", slog.String("error", err.Error()))
		return
	}
	time.Sleep(1 * time.Second)
}

// Close 关闭浏览器实例。
func (f *RodFetcher) Close() error {
	return f.browser.Close()
}
