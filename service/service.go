// Package service 回测服务：数据源、结果缓存、互斥锁、持久化和报告的组合
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantsim/backtest"
	"quantsim/cache"
	"quantsim/database"
	"quantsim/lock"
	"quantsim/logger"
)

// Options 服务依赖，除 Provider 外均可为空
type Options struct {
	Provider   backtest.CandleProvider
	DB         database.Database
	Cache      cache.ResultCache
	Lock       lock.DistributedLock
	LockTTL    time.Duration
	ReportDir  string
	ReportLang string
}

// Outcome 一次回测请求的结果
type Outcome struct {
	Result     *backtest.BacktestResult `json:"result"`
	ReportPath string                   `json:"report_path,omitempty"`
	Cached     bool                     `json:"cached"`
}

// BacktestService 回测服务，可被 HTTP 和命令行共用
type BacktestService struct {
	provider backtest.CandleProvider
	db       database.Database
	cache    cache.ResultCache
	lock     lock.DistributedLock
	lockTTL  time.Duration

	mu         sync.RWMutex
	reportDir  string
	reportLang string
}

// NewBacktestService 创建回测服务
func NewBacktestService(opts Options) *BacktestService {
	if opts.Lock == nil {
		opts.Lock = lock.NewLocalLock()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	return &BacktestService{
		provider:   opts.Provider,
		db:         opts.DB,
		cache:      opts.Cache,
		lock:       opts.Lock,
		lockTTL:    opts.LockTTL,
		reportDir:  opts.ReportDir,
		reportLang: opts.ReportLang,
	}
}

// DB 数据库（未启用时为 nil）
func (s *BacktestService) DB() database.Database {
	return s.db
}

// SetReportOptions 更新报告目录和语言（配置热更新）
func (s *BacktestService) SetReportOptions(dir, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportDir, s.reportLang = dir, lang
}

func (s *BacktestService) reportOptions() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reportDir, s.reportLang
}

// Run 执行回测。相同参数的请求串行执行，后到的请求直接读取缓存结果
func (s *BacktestService) Run(ctx context.Context, cfg backtest.RunConfig, observer backtest.Observer) (*Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key := cfg.CacheKey()
	cacheable := cfg.Cacheable()
	var outcome *Outcome
	err := lock.WithLock(ctx, s.lock, key, s.lockTTL, func() error {
		if cacheable {
			if cached := s.lookup(ctx, key); cached != nil {
				outcome = &Outcome{Result: cached, Cached: true}
				return nil
			}
		}

		var err error
		outcome, err = s.execute(ctx, cfg, observer)
		if err != nil {
			return err
		}
		if cacheable {
			s.store(ctx, key, outcome.Result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// execute 加载数据、回放、生成报告并保存
func (s *BacktestService) execute(ctx context.Context, cfg backtest.RunConfig, observer backtest.Observer) (*Outcome, error) {
	candles, err := s.provider.GetCandles(ctx, cfg.Symbol, cfg.Interval, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("获取历史数据失败: %w", err)
	}

	var opts []backtest.Option
	if observer != nil {
		opts = append(opts, backtest.WithObserver(observer))
	}
	result, err := backtest.NewBacktester(cfg, candles, opts...).Run(ctx)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Result: result}
	dir, lang := s.reportOptions()
	if dir != "" {
		if path, err := backtest.GenerateReport(result, dir, lang); err != nil {
			logger.Warn("⚠️ 生成报告失败: %v", err)
		} else {
			outcome.ReportPath = path
			logger.Info("📄 报告已生成: %s", path)
		}
		if path, err := backtest.SaveBalanceCurveCSV(result, dir); err != nil {
			logger.Warn("⚠️ 保存余额曲线失败: %v", err)
		} else {
			logger.Info("📈 余额曲线已保存: %s", path)
		}
	}

	if s.db != nil {
		if err := s.save(ctx, result); err != nil {
			logger.Warn("⚠️ 保存回测结果失败: %v", err)
		}
	}
	return outcome, nil
}

func (s *BacktestService) save(ctx context.Context, result *backtest.BacktestResult) error {
	run, trades, signals, err := database.NewRunRecord(result)
	if err != nil {
		return err
	}
	return s.db.SaveRun(ctx, run, trades, signals)
}

func (s *BacktestService) lookup(ctx context.Context, key string) *backtest.BacktestResult {
	if s.cache == nil {
		return nil
	}
	var result backtest.BacktestResult
	hit, err := s.cache.Get(ctx, key, &result)
	if err != nil {
		logger.Warn("⚠️ 读取结果缓存失败: %v", err)
		return nil
	}
	if !hit {
		return nil
	}
	logger.Info("♻️ 命中结果缓存: %s", key)
	return &result
}

func (s *BacktestService) store(ctx context.Context, key string, result *backtest.BacktestResult) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, result); err != nil {
		logger.Warn("⚠️ 写入结果缓存失败: %v", err)
	}
}
