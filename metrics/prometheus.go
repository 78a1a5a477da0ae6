package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 回测运行指标
	runTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantsim_backtest_runs_total",
			Help: "Total number of backtest runs",
		},
		[]string{"symbol", "interval", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantsim_backtest_duration_seconds",
			Help:    "Backtest run duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"symbol", "interval"},
	)

	barsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantsim_backtest_bars_processed_total",
			Help: "Total number of candles replayed",
		},
		[]string{"symbol"},
	)

	// 成交指标
	fillTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantsim_backtest_fills_total",
			Help: "Total number of simulated fills",
		},
		[]string{"symbol", "side", "reason"},
	)

	realizedPnL = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantsim_backtest_realized_pnl_abs_total",
			Help: "Total absolute realized PnL of simulated closes",
		},
		[]string{"symbol", "result"},
	)

	// 结果指标
	finalBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quantsim_backtest_final_balance",
			Help: "Final booked balance of the latest run",
		},
		[]string{"symbol"},
	)

	winRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quantsim_backtest_win_rate",
			Help: "Win rate (0-1) of the latest run",
		},
		[]string{"symbol"},
	)

	// 数据源指标
	candleFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantsim_candle_fetch_total",
			Help: "Total number of candle fetches by source",
		},
		[]string{"source", "status"},
	)

	candleFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantsim_candle_fetch_duration_seconds",
			Help:    "Candle fetch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0},
		},
		[]string{"source"},
	)

	cacheLookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantsim_cache_lookup_total",
			Help: "Total number of cache lookups",
		},
		[]string{"cache", "result"},
	)

	// HTTP 指标
	apiRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantsim_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantsim_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	streamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantsim_stream_clients",
			Help: "Number of connected websocket stream clients",
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	mu sync.RWMutex
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// RecordRun 记录一次回测运行
func (pm *PrometheusMetrics) RecordRun(symbol, interval string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	runTotal.WithLabelValues(symbol, interval, status).Inc()
	runDuration.WithLabelValues(symbol, interval).Observe(duration.Seconds())
}

// AddBarsProcessed 累加回放的K线数量
func (pm *PrometheusMetrics) AddBarsProcessed(symbol string, n int) {
	barsProcessed.WithLabelValues(symbol).Add(float64(n))
}

// RecordFill 记录一笔模拟成交，reason 在开仓时为空
func (pm *PrometheusMetrics) RecordFill(symbol, side, reason string, pnl float64) {
	if reason == "" {
		reason = "OPEN"
	}
	fillTotal.WithLabelValues(symbol, side, reason).Inc()
	if reason == "OPEN" {
		return
	}
	if pnl > 0 {
		realizedPnL.WithLabelValues(symbol, "profit").Add(pnl)
	} else {
		realizedPnL.WithLabelValues(symbol, "loss").Add(-pnl)
	}
}

// SetRunResult 记录最近一次回测的结果
func (pm *PrometheusMetrics) SetRunResult(symbol string, balance, rate float64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	finalBalance.WithLabelValues(symbol).Set(balance)
	winRate.WithLabelValues(symbol).Set(rate)
}

// RecordCandleFetch 记录一次K线获取
func (pm *PrometheusMetrics) RecordCandleFetch(source string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	candleFetchTotal.WithLabelValues(source, status).Inc()
	candleFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCacheLookup 记录缓存命中情况
func (pm *PrometheusMetrics) RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupTotal.WithLabelValues(cache, result).Inc()
}

// RecordAPIRequest 记录 API 请求
func (pm *PrometheusMetrics) RecordAPIRequest(method, path, status string, duration time.Duration) {
	apiRequestTotal.WithLabelValues(method, path, status).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetStreamClients 设置 WebSocket 客户端数量
func (pm *PrometheusMetrics) SetStreamClients(n int) {
	streamClients.Set(float64(n))
}

// 全局实例
var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
