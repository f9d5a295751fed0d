package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App     AppConfig     `json:"app"`
	MySQL   MySQLConfig   `json:"mysql"`
	Redis   RedisConfig   `json:"redis"`
	Browser BrowserConfig `json:"browser"`
	Stores  []StoreConfig `json:"stores"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env          string        `json:"env"`           // 运行环境: local / prod
	LogLevel     string        `json:"log_level"`     // 日志级别: debug / info / warn / error
	HTTPAddr     string        `json:"http_addr"`     // API 服务监听地址
	PageSize     int           `json:"page_size"`     // 零售商搜索页单页商品数（rpp）
	MaxPages     int           `json:"max_pages"`     // 单次抓取的最大翻页数（安全上限）
	PageDelay    time.Duration `json:"page_delay"`    // 翻页之间的礼貌性等待
	StoreDelay   time.Duration `json:"store_delay"`   // 门店之间的礼貌性等待
	FetchTimeout time.Duration `json:"fetch_timeout"` // 等待商品元素出现的超时
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置（抓取状态镜像）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// BrowserConfig 抓取浏览器配置。
type BrowserConfig struct {
	BinPath  string `json:"bin_path"` // 浏览器可执行文件路径（为空则自动下载）
	Headless bool   `json:"headless"` // 是否使用无头模式
}

// StoreConfig 支持抓取的门店描述。
//
// RetailerID 是零售商搜索接口使用的 storeid 参数。
type StoreConfig struct {
	RetailerID string `json:"retailer_id"`
	Name       string `json:"name"`
	City       string `json:"city"`
	State      string `json:"state"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终可以覆盖文件中的值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// FindStore 按零售商门店 ID 查找配置中的门店。
func (c *Config) FindStore(retailerID string) (StoreConfig, bool) {
	for _, s := range c.Stores {
		if s.RetailerID == retailerID {
			return s, true
		}
	}
	return StoreConfig{}, false
}

// getDefaultConfig 返回默认配置。
//
// 默认门店列表对应零售商目前有货源的四家线下门店。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:          "local",
			LogLevel:     "info",
			HTTPAddr:     ":8080",
			PageSize:     96,
			MaxPages:     10,
			PageDelay:    5 * time.Second,
			StoreDelay:   10 * time.Second,
			FetchTimeout: 20 * time.Second,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/gputracker?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Browser: BrowserConfig{
			BinPath:  "",
			Headless: true,
		},
		Stores: []StoreConfig{
			{RetailerID: "191", Name: "Overland Park", City: "Overland Park", State: "KS"},
			{RetailerID: "101", Name: "Tustin", City: "Tustin", State: "CA"},
			{RetailerID: "181", Name: "Denver", City: "Denver", State: "CO"},
			{RetailerID: "131", Name: "Dallas", City: "Dallas", State: "TX"},
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.PageSize == 0 {
		cfg.App.PageSize = defaults.App.PageSize
	}
	if cfg.App.MaxPages == 0 {
		cfg.App.MaxPages = defaults.App.MaxPages
	}
	if cfg.App.PageDelay == 0 {
		cfg.App.PageDelay = defaults.App.PageDelay
	}
	if cfg.App.StoreDelay == 0 {
		cfg.App.StoreDelay = defaults.App.StoreDelay
	}
	if cfg.App.FetchTimeout == 0 {
		cfg.App.FetchTimeout = defaults.App.FetchTimeout
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if len(cfg.Stores) == 0 {
		cfg.Stores = defaults.Stores
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_PAGE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			cfg.App.PageSize = i
		}
	}
	if v := os.Getenv("APP_MAX_PAGES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			cfg.App.MaxPages = i
		}
	}
	if v := os.Getenv("APP_PAGE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.PageDelay = d
		}
	}
	if v := os.Getenv("APP_STORE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.StoreDelay = d
		}
	}
	if v := os.Getenv("APP_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.FetchTimeout = d
		}
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "gputracker",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串（如 "5s"）。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		PageDelay    string `json:"page_delay"`
		StoreDelay   string `json:"store_delay"`
		FetchTimeout string `json:"fetch_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.PageDelay != "" {
		duration, err := time.ParseDuration(aux.PageDelay)
		if err != nil {
			return fmt.Errorf("invalid page_delay format: %w", err)
		}
		a.PageDelay = duration
	}
	if aux.StoreDelay != "" {
		duration, err := time.ParseDuration(aux.StoreDelay)
		if err != nil {
			return fmt.Errorf("invalid store_delay format: %w", err)
		}
		a.StoreDelay = duration
	}
	if aux.FetchTimeout != "" {
		duration, err := time.ParseDuration(aux.FetchTimeout)
		if err != nil {
			return fmt.Errorf("invalid fetch_timeout format: %w", err)
		}
		a.FetchTimeout = duration
	}

	return nil
}
