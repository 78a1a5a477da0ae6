package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quantsim/backtest"
	"quantsim/cache"
	"quantsim/config"
	"quantsim/database"
	"quantsim/indicators"
)

// stubProvider 内存数据源，记录调用次数
type stubProvider struct {
	candles []indicators.Candle
	err     error
	calls   atomic.Int32
}

func (p *stubProvider) GetCandles(ctx context.Context, symbol, interval string, start, end *time.Time) ([]indicators.Candle, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return backtest.FilterByDate(p.candles, start, end), nil
}

func generateFlatCandles(n int) []indicators.Candle {
	candles := make([]indicators.Candle, n)
	for i := range candles {
		candles[i] = indicators.Candle{
			OpenTime: int64(i) * 3_600_000,
			Open:     100, High: 100, Low: 100, Close: 100, Volume: 1,
		}
	}
	return candles
}

func newTestService(t *testing.T, provider backtest.CandleProvider) (*BacktestService, *database.GormDatabase, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewGormDatabase(&database.Config{Type: "sqlite", DSN: filepath.Join(dir, "runs.db")})
	if err != nil {
		t.Fatalf("创建数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reportDir := filepath.Join(dir, "reports")
	svc := NewBacktestService(Options{
		Provider:   provider,
		DB:         db,
		Cache:      cache.NewMemoryCache(time.Minute),
		ReportDir:  reportDir,
		ReportLang: "en-US",
	})
	return svc, db, reportDir
}

// boundedConfig 带结束日期的运行参数，结果可缓存
func boundedConfig(symbol string) backtest.RunConfig {
	cfg := backtest.DefaultRunConfig(symbol)
	end := time.Date(1970, 1, 31, 0, 0, 0, 0, time.UTC)
	cfg.EndDate = &end
	return cfg
}

func TestRunPersistsAndCaches(t *testing.T) {
	provider := &stubProvider{candles: generateFlatCandles(150)}
	svc, db, _ := newTestService(t, provider)
	cfg := boundedConfig("BTCUSDT")

	first, err := svc.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if first.Cached || first.Result.BarsProcessed != 50 {
		t.Fatalf("首次运行结果错误: cached=%v bars=%d", first.Cached, first.Result.BarsProcessed)
	}
	if _, err := os.Stat(first.ReportPath); err != nil {
		t.Fatalf("报告文件不存在: %v", err)
	}

	run, err := db.GetRun(context.Background(), first.Result.RunID)
	if err != nil || run.BarsProcessed != 50 {
		t.Fatalf("回测结果未保存: %+v %v", run, err)
	}

	second, err := svc.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("第二次回测失败: %v", err)
	}
	if !second.Cached || second.Result.RunID != first.Result.RunID {
		t.Fatalf("相同参数应命中缓存")
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("命中缓存时不应再读取数据, 调用 %d 次", provider.calls.Load())
	}
}

func TestOpenEndedRunSkipsCache(t *testing.T) {
	provider := &stubProvider{candles: generateFlatCandles(150)}
	svc, _, _ := newTestService(t, provider)
	cfg := backtest.DefaultRunConfig("BTCUSDT")

	for i := 0; i < 2; i++ {
		outcome, err := svc.Run(context.Background(), cfg, nil)
		if err != nil {
			t.Fatalf("回测失败: %v", err)
		}
		if outcome.Cached {
			t.Fatalf("未指定结束日期时不应返回缓存结果")
		}
	}
	if provider.calls.Load() != 2 {
		t.Fatalf("未指定结束日期时每次都应重新读取数据, 调用 %d 次", provider.calls.Load())
	}
}

func TestConcurrentIdenticalRunsComputeOnce(t *testing.T) {
	provider := &stubProvider{candles: generateFlatCandles(150)}
	svc, _, _ := newTestService(t, provider)
	cfg := boundedConfig("ETHUSDT")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Run(context.Background(), cfg, nil); err != nil {
				t.Errorf("回测失败: %v", err)
			}
		}()
	}
	wg.Wait()
	if provider.calls.Load() != 1 {
		t.Fatalf("相同参数的并发请求只应计算一次, 实际 %d 次", provider.calls.Load())
	}
}

func TestRunErrors(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{candles: generateFlatCandles(50)})

	bad := backtest.DefaultRunConfig("BTCUSDT")
	bad.Interval = "7m"
	if _, err := svc.Run(context.Background(), bad, nil); !errors.Is(err, backtest.ErrInvalidParameter) {
		t.Fatalf("无效参数应返回 ErrInvalidParameter, 实际 %v", err)
	}

	if _, err := svc.Run(context.Background(), backtest.DefaultRunConfig("BTCUSDT"), nil); !errors.Is(err, backtest.ErrInsufficientData) {
		t.Fatalf("数据不足应返回 ErrInsufficientData, 实际 %v", err)
	}

	failing, _, _ := newTestService(t, &stubProvider{err: errors.New("网络错误")})
	if _, err := failing.Run(context.Background(), backtest.DefaultRunConfig("BTCUSDT"), nil); err == nil {
		t.Fatalf("数据源错误应向上返回")
	}
}

func TestObserverReceivesEvents(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{candles: generateFlatCandles(120)})
	var types []backtest.EventType
	obs := backtest.ObserverFunc(func(e backtest.Event) { types = append(types, e.Type) })

	if _, err := svc.Run(context.Background(), backtest.DefaultRunConfig("SOLUSDT"), obs); err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(types) < 2 || types[0] != backtest.EventStart || types[len(types)-1] != backtest.EventDone {
		t.Fatalf("事件顺序错误: %v", types)
	}
}

func TestRunConfigFromDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backtest.StartDate = "2024-01-01"
	cfg.Backtest.EndDate = "2024-01-31"

	rc, err := RunConfigFromDefaults(cfg.Backtest)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if rc.Symbol != "BTCUSDT" || rc.Interval != "1h" || rc.InitialBalance != 10000 {
		t.Fatalf("运行参数错误: %+v", rc)
	}
	if rc.EndDate.Format(time.DateOnly) != "2024-01-31" || rc.EndDate.Hour() != 23 {
		t.Fatalf("结束日期应为当天结束: %v", rc.EndDate)
	}

	cfg.Backtest.EndDate = "31/01/2024"
	if _, err := RunConfigFromDefaults(cfg.Backtest); !errors.Is(err, backtest.ErrInvalidParameter) {
		t.Fatalf("日期格式错误应返回 ErrInvalidParameter, 实际 %v", err)
	}
}

func TestNewComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Data.Provider = "sqlite"
	cfg.Data.SQLitePath = filepath.Join(dir, "candles.db")
	cfg.Data.CacheDir = filepath.Join(dir, "cache")
	cfg.Database.Enabled = true
	cfg.Database.DSN = filepath.Join(dir, "quantsim.db")

	c, err := NewComponents(cfg)
	if err != nil {
		t.Fatalf("创建组件失败: %v", err)
	}
	defer c.Close()

	if c.CandleStore == nil || c.DB == nil || c.CandleCache == nil {
		t.Fatalf("组件未完整创建: %+v", c)
	}
	if err := c.CandleStore.SaveCandles(context.Background(), "BTCUSDT", "1h", generateFlatCandles(120)); err != nil {
		t.Fatalf("写入K线失败: %v", err)
	}

	svc := NewFromConfig(cfg, c)
	svc.SetReportOptions("", "")
	out, err := svc.Run(context.Background(), backtest.DefaultRunConfig("BTCUSDT"), nil)
	if err != nil {
		t.Fatalf("基于 sqlite 数据源的回测失败: %v", err)
	}
	if out.Result.BarsProcessed != 20 || out.ReportPath != "" {
		t.Fatalf("回测结果错误: bars=%d report=%q", out.Result.BarsProcessed, out.ReportPath)
	}
}
