// Package config 回测服务配置
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`      // Redis 地址，默认 localhost:6379
	Password string `yaml:"password"`  // Redis 密码，默认为空
	DB       int    `yaml:"db"`        // Redis 数据库，默认0
	PoolSize int    `yaml:"pool_size"` // 连接池大小，默认10
}

// BacktestConfig 默认回测参数
type BacktestConfig struct {
	Symbol         string  `yaml:"symbol"`
	Interval       string  `yaml:"interval"`
	InitialBalance float64 `yaml:"initial_balance"`
	RiskPerTrade   float64 `yaml:"risk_per_trade"`
	StopLossPct    float64 `yaml:"stop_loss_pct"`
	TakeProfitPct  float64 `yaml:"take_profit_pct"`
	StartDate      string  `yaml:"start_date"` // YYYY-MM-DD，可选
	EndDate        string  `yaml:"end_date"`   // YYYY-MM-DD，可选，包含当天
}

// Config 配置
type Config struct {
	// 应用配置
	App struct {
		LogLevel string `yaml:"log_level"` // debug, info, warn, error，默认 info
		LogDir   string `yaml:"log_dir"`   // 日志目录，默认 logs
		LogDB    string `yaml:"log_db"`    // WARN 及以上日志的持久化库，默认 ./data/logs.db
		Timezone string `yaml:"timezone"`  // 时区，如 "Asia/Shanghai"
		Language string `yaml:"language"`  // 语言，如 "zh-CN" 或 "en-US"
	} `yaml:"app"`

	// 默认回测参数
	Backtest BacktestConfig `yaml:"backtest"`

	// 历史数据源
	Data struct {
		Provider   string `yaml:"provider"`    // csv, binance, sqlite，默认 csv
		CSVDir     string `yaml:"csv_dir"`     // CSV 目录，默认 ./data/candles
		CacheDir   string `yaml:"cache_dir"`   // Binance 下载缓存目录，默认 ./data/cache
		SQLitePath string `yaml:"sqlite_path"` // K线库路径，默认 ./data/candles.db

		Binance struct {
			BaseURL    string  `yaml:"base_url"`    // 为空时使用官方地址
			RateLimit  float64 `yaml:"rate_limit"`  // 每秒请求数，默认10
			BatchLimit int     `yaml:"batch_limit"` // 每批K线数量，默认1000
		} `yaml:"binance"`
	} `yaml:"data"`

	// 数据库配置（保存回测结果）
	Database struct {
		Enabled         bool   `yaml:"enabled"`
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/quantsim.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认100
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认10
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 回测结果缓存（相同参数的回测结果相同）
	Cache struct {
		Enabled bool        `yaml:"enabled"`
		TTL     int         `yaml:"ttl"`    // 过期时间（秒），默认3600
		Prefix  string      `yaml:"prefix"` // 键前缀，默认 "quantsim:result:"
		Redis   RedisConfig `yaml:"redis"`
	} `yaml:"cache"`

	// 分布式锁配置（多实例部署时避免重复计算同一组参数）
	DistributedLock struct {
		Enabled    bool        `yaml:"enabled"`     // 是否启用分布式锁，默认false（单实例模式）
		Type       string      `yaml:"type"`        // 锁类型: redis，默认 redis
		Prefix     string      `yaml:"prefix"`      // 锁键前缀，默认 "quantsim:lock:"
		DefaultTTL int         `yaml:"default_ttl"` // 默认锁过期时间（秒），默认60
		Redis      RedisConfig `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// 监控指标
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"` // 默认 /metrics
	} `yaml:"metrics"`

	// Web 服务配置
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"` // 监听地址（默认 0.0.0.0）
		Port    int    `yaml:"port"` // 监听端口（默认 8080）
	} `yaml:"web"`

	// 报告输出
	Report struct {
		Dir      string `yaml:"dir"`      // 默认 ./reports
		Language string `yaml:"language"` // 为空时使用 app.language
	} `yaml:"report"`
}

// supportedProviders 支持的数据源
var supportedProviders = []string{"csv", "binance", "sqlite"}

// supportedDatabases 支持的数据库类型
var supportedDatabases = []string{"sqlite", "postgres", "mysql"}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// DefaultConfig 全部使用默认值的配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Web.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Validate()
	return cfg
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	// 应用配置
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogDir == "" {
		c.App.LogDir = "logs"
	}
	if c.App.LogDB == "" {
		c.App.LogDB = "./data/logs.db"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "Asia/Shanghai"
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("无效的时区 %s: %w", c.App.Timezone, err)
	}
	if c.App.Language == "" {
		c.App.Language = "zh-CN"
	}

	// 默认回测参数，区间合法性由 backtest.RunConfig 在运行前检查
	b := &c.Backtest
	if b.Symbol == "" {
		b.Symbol = "BTCUSDT"
	}
	b.Symbol = strings.ToUpper(b.Symbol)
	if b.Interval == "" {
		b.Interval = "1h"
	}
	if b.InitialBalance == 0 {
		b.InitialBalance = 10000
	}
	if b.RiskPerTrade == 0 {
		b.RiskPerTrade = 0.02
	}
	if b.StopLossPct == 0 {
		b.StopLossPct = 0.02
	}
	if b.TakeProfitPct == 0 {
		b.TakeProfitPct = 0.04
	}
	if b.InitialBalance < 0 {
		return fmt.Errorf("初始资金不能为负数 (backtest.initial_balance)")
	}
	for name, v := range map[string]float64{
		"risk_per_trade":  b.RiskPerTrade,
		"stop_loss_pct":   b.StopLossPct,
		"take_profit_pct": b.TakeProfitPct,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("backtest.%s 必须在 (0, 1] 区间内", name)
		}
	}

	// 数据源
	if c.Data.Provider == "" {
		c.Data.Provider = "csv"
	}
	if !slices.Contains(supportedProviders, c.Data.Provider) {
		return fmt.Errorf("不支持的数据源: %s", c.Data.Provider)
	}
	if c.Data.CSVDir == "" {
		c.Data.CSVDir = "./data/candles"
	}
	if c.Data.CacheDir == "" {
		c.Data.CacheDir = "./data/cache"
	}
	if c.Data.SQLitePath == "" {
		c.Data.SQLitePath = "./data/candles.db"
	}
	if c.Data.Binance.RateLimit <= 0 {
		c.Data.Binance.RateLimit = 10
	}
	if c.Data.Binance.BatchLimit <= 0 || c.Data.Binance.BatchLimit > 1000 {
		c.Data.Binance.BatchLimit = 1000
	}

	// 数据库
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if !slices.Contains(supportedDatabases, c.Database.Type) {
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "./data/quantsim.db"
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("数据库 %s 必须配置 dsn", c.Database.Type)
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	// 结果缓存
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 3600
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "quantsim:result:"
	}
	fillRedisDefaults(&c.Cache.Redis)

	// 分布式锁
	if c.DistributedLock.Type == "" {
		c.DistributedLock.Type = "redis"
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "quantsim:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 60
	}
	fillRedisDefaults(&c.DistributedLock.Redis)

	// 监控指标
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Web 服务
	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("无效的 Web 端口: %d", c.Web.Port)
	}

	// 报告
	if c.Report.Dir == "" {
		c.Report.Dir = "./reports"
	}
	if c.Report.Language == "" {
		c.Report.Language = c.App.Language
	}

	return nil
}

func fillRedisDefaults(r *RedisConfig) {
	if r.Addr == "" {
		r.Addr = "localhost:6379" // 默认 Redis 地址
	}
	if r.PoolSize <= 0 {
		r.PoolSize = 10 // 默认连接池大小
	}
}
