package service

import (
	"fmt"
	"strings"
	"time"

	"quantsim/backtest"
	"quantsim/cache"
	"quantsim/config"
	"quantsim/database"
	"quantsim/lock"
	"quantsim/storage"
	"quantsim/utils"
)

// RunConfigFromDefaults 将配置文件中的默认回测参数转换为运行参数
func RunConfigFromDefaults(b config.BacktestConfig) (backtest.RunConfig, error) {
	start, err := utils.ParseDate(b.StartDate, false)
	if err != nil {
		return backtest.RunConfig{}, &backtest.InvalidParameterError{Field: "start_date", Value: b.StartDate, Reason: err.Error()}
	}
	end, err := utils.ParseDate(b.EndDate, true)
	if err != nil {
		return backtest.RunConfig{}, &backtest.InvalidParameterError{Field: "end_date", Value: b.EndDate, Reason: err.Error()}
	}
	return backtest.RunConfig{
		Symbol:         strings.ToUpper(b.Symbol),
		Interval:       b.Interval,
		InitialBalance: b.InitialBalance,
		RiskPerTrade:   b.RiskPerTrade,
		StopLossPct:    b.StopLossPct,
		TakeProfitPct:  b.TakeProfitPct,
		StartDate:      start,
		EndDate:        end,
	}, nil
}

// Components 按配置创建的依赖，Close 释放全部资源
type Components struct {
	Provider    backtest.CandleProvider
	CandleCache *backtest.CandleCache
	CandleStore *storage.CandleStore // 仅 sqlite 数据源
	DB          database.Database
	ResultCache cache.ResultCache
	Lock        lock.DistributedLock

	closers []func() error
}

// Close 释放资源
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// NewComponents 根据配置创建数据源、数据库、缓存和锁
func NewComponents(cfg *config.Config) (*Components, error) {
	c := &Components{}

	switch cfg.Data.Provider {
	case "binance":
		p := backtest.NewBinanceProvider(backtest.BinanceOptions{
			BaseURL:    cfg.Data.Binance.BaseURL,
			RateLimit:  cfg.Data.Binance.RateLimit,
			BatchLimit: cfg.Data.Binance.BatchLimit,
			CacheDir:   cfg.Data.CacheDir,
		})
		c.Provider, c.CandleCache = p, p.Cache()
	case "sqlite":
		store, err := storage.NewCandleStore(cfg.Data.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.Provider, c.CandleStore = store, store
		c.closers = append(c.closers, store.Close)
	case "csv":
		c.Provider = backtest.NewCSVProvider(cfg.Data.CSVDir)
	default:
		return nil, fmt.Errorf("不支持的数据源: %s", cfg.Data.Provider)
	}
	if c.CandleCache == nil {
		c.CandleCache = backtest.NewCandleCache(cfg.Data.CacheDir)
	}

	if cfg.Database.Enabled {
		db, err := database.NewDatabase(&database.Config{
			Type:            cfg.Database.Type,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
			LogLevel:        cfg.Database.LogLevel,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("初始化数据库失败: %w", err)
		}
		c.DB = db
		c.closers = append(c.closers, db.Close)
	}

	c.ResultCache = cache.NewResultCache(&cache.Config{
		Enabled:  cfg.Cache.Enabled,
		TTL:      time.Duration(cfg.Cache.TTL) * time.Second,
		Prefix:   cfg.Cache.Prefix,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		PoolSize: cfg.Cache.Redis.PoolSize,
	})
	c.closers = append(c.closers, c.ResultCache.Close)

	l, err := lock.NewDistributedLock(&lock.Config{
		Enabled: cfg.DistributedLock.Enabled,
		Type:    cfg.DistributedLock.Type,
		Prefix:  cfg.DistributedLock.Prefix,
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Lock = l
	c.closers = append(c.closers, l.Close)
	return c, nil
}

// NewFromConfig 使用 NewComponents 的结果创建回测服务
func NewFromConfig(cfg *config.Config, c *Components) *BacktestService {
	return NewBacktestService(Options{
		Provider:   c.Provider,
		DB:         c.DB,
		Cache:      c.ResultCache,
		Lock:       c.Lock,
		LockTTL:    time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second,
		ReportDir:  cfg.Report.Dir,
		ReportLang: cfg.Report.Language,
	})
}
