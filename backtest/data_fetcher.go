package backtest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"quantsim/indicators"
	"quantsim/logger"
	"quantsim/metrics"
)

// Binance 单次最多返回 1000 根K线
const binanceMaxLimit = 1000

// BinanceOptions Binance 数据源参数
type BinanceOptions struct {
	BaseURL    string  // 为空时使用官方地址
	RateLimit  float64 // 每秒请求数
	BatchLimit int     // 每批K线数量
	CacheDir   string
}

// BinanceProvider 通过 Binance 公共K线接口分批下载历史数据，优先读 CSV 缓存
type BinanceProvider struct {
	client     *futures.Client
	limiter    *rate.Limiter
	batchLimit int
	cache      *CandleCache
	metrics    *metrics.PrometheusMetrics
}

// NewBinanceProvider 创建 Binance 数据源
func NewBinanceProvider(opts BinanceOptions) *BinanceProvider {
	client := futures.NewClient("", "")
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.BatchLimit <= 0 || opts.BatchLimit > binanceMaxLimit {
		opts.BatchLimit = binanceMaxLimit
	}
	return &BinanceProvider{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		batchLimit: opts.BatchLimit,
		cache:      NewCandleCache(opts.CacheDir),
		metrics:    metrics.GetPrometheusMetrics(),
	}
}

// Cache K线缓存
func (p *BinanceProvider) Cache() *CandleCache {
	return p.cache
}

// GetCandles 智能获取历史数据（优先缓存）
// 未指定结束时间时为当前时间，未指定开始时间时取结束前一个批次的跨度
func (p *BinanceProvider) GetCandles(ctx context.Context, symbol, interval string, start, end *time.Time) ([]indicators.Candle, error) {
	endTime := time.Now().UTC()
	if end != nil {
		endTime = *end
	}
	startTime := endTime.Add(-calculateBatchDuration(interval, p.batchLimit))
	if start != nil {
		startTime = *start
	}

	cacheKey := CandleCacheKey(symbol, interval, startTime, endTime)
	if candles, err := p.cache.Load(cacheKey); err == nil {
		p.metrics.RecordCacheLookup("candles", true)
		logger.Info("✅ 从缓存加载: %s (%d 根K线)", cacheKey, len(candles))
		return FilterByDate(candles, &startTime, &endTime), nil
	}
	p.metrics.RecordCacheLookup("candles", false)

	logger.Info("⬇️ 从 Binance 下载: %s %s (%s 至 %s)",
		symbol, interval, startTime.Format(time.DateOnly), endTime.Format(time.DateOnly))

	began := time.Now()
	candles, err := p.fetch(ctx, symbol, interval, startTime, endTime)
	p.metrics.RecordCandleFetch("binance", err == nil, time.Since(began))
	if err != nil {
		return nil, err
	}

	if len(candles) > 0 {
		if err := p.cache.Save(cacheKey, symbol, interval, startTime, endTime, candles); err != nil {
			logger.Warn("⚠️ 缓存保存失败: %v", err)
		} else {
			logger.Info("💾 已缓存: %s", cacheKey)
		}
	}
	return candles, nil
}

// fetch 分批下载 [start, end] 内的K线
func (p *BinanceProvider) fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]indicators.Candle, error) {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	all := make([]indicators.Candle, 0)

	totalBatches := int(end.Sub(start)/calculateBatchDuration(interval, p.batchLimit)) + 1
	for batch, cursor := 1, startMs; cursor <= endMs; batch++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("等待限流失败: %w", err)
		}
		klines, err := p.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(p.batchLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取第 %d 批数据失败: %w", batch, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			candle, err := convertKline(k)
			if err != nil {
				return nil, fmt.Errorf("解析第 %d 批数据失败: %w", batch, err)
			}
			if candle.OpenTime < startMs || candle.OpenTime > endMs {
				continue
			}
			all = append(all, candle)
		}

		progress := min(float64(batch)/float64(totalBatches)*100, 100)
		logger.Info("📊 下载进度: %.1f%% (已获取 %d 根K线)", progress, len(all))

		next := klines[len(klines)-1].OpenTime + 1
		if len(klines) < p.batchLimit || next <= cursor {
			break
		}
		cursor = next
	}

	all = normalizeCandles(all)
	logger.Info("✅ 下载完成: 共 %d 根K线", len(all))
	return all, nil
}

func convertKline(k *futures.Kline) (indicators.Candle, error) {
	c := indicators.Candle{OpenTime: k.OpenTime}
	fields := [...]struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", k.Open, &c.Open},
		{"high", k.High, &c.High},
		{"low", k.Low, &c.Low},
		{"close", k.Close, &c.Close},
		{"volume", k.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return c, fmt.Errorf("解析 %s 失败: %w", f.name, err)
		}
		*f.dst = v
	}
	return c, nil
}

// IntervalDuration K线周期对应的时长
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "3d":
		return 3 * 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// calculateBatchDuration 计算每批的时间跨度
func calculateBatchDuration(interval string, limit int) time.Duration {
	return IntervalDuration(interval) * time.Duration(limit)
}
