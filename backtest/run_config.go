package backtest

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"quantsim/indicators"
	"quantsim/position"
)

// SupportedIntervals 支持的K线周期
var SupportedIntervals = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w"}

// SupportedSymbols 界面上列出的常用交易对，其它交易对同样可以回测
var SupportedSymbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT", "ADAUSDT"}

// RunConfig 单次回测的运行参数
type RunConfig struct {
	Symbol         string     `json:"symbol" yaml:"symbol"`
	Interval       string     `json:"interval" yaml:"interval"`
	InitialBalance float64    `json:"initial_balance" yaml:"initial_balance"`
	RiskPerTrade   float64    `json:"risk_per_trade" yaml:"risk_per_trade"`
	StopLossPct    float64    `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct  float64    `json:"take_profit_pct" yaml:"take_profit_pct"`
	StartDate      *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// DefaultRunConfig 默认运行参数
func DefaultRunConfig(symbol string) RunConfig {
	risk := position.DefaultRiskParams()
	return RunConfig{
		Symbol:         symbol,
		Interval:       "1h",
		InitialBalance: 10000,
		RiskPerTrade:   risk.RiskPerTrade,
		StopLossPct:    risk.StopLossPct,
		TakeProfitPct:  risk.TakeProfitPct,
	}
}

// Validate 运行前校验参数
func (c RunConfig) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return &InvalidParameterError{Field: "symbol", Value: c.Symbol, Reason: "交易对不能为空"}
	}
	if !slices.Contains(SupportedIntervals, c.Interval) {
		return &InvalidParameterError{Field: "interval", Value: c.Interval, Reason: "不支持的K线周期"}
	}
	if math.IsNaN(c.InitialBalance) || math.IsInf(c.InitialBalance, 0) || c.InitialBalance <= 0 {
		return &InvalidParameterError{Field: "initial_balance", Value: c.InitialBalance, Reason: "初始资金必须为正数"}
	}
	fractions := [...]struct {
		name  string
		value float64
	}{
		{"risk_per_trade", c.RiskPerTrade},
		{"stop_loss_pct", c.StopLossPct},
		{"take_profit_pct", c.TakeProfitPct},
	}
	for _, f := range fractions {
		if math.IsNaN(f.value) || f.value <= 0 || f.value > 1 {
			return &InvalidParameterError{Field: f.name, Value: f.value, Reason: "必须在 (0, 1] 区间内"}
		}
	}
	if c.StartDate != nil && c.EndDate != nil && c.StartDate.After(*c.EndDate) {
		return &InvalidParameterError{Field: "start_date", Value: c.StartDate.Format(time.DateOnly), Reason: "开始日期晚于结束日期"}
	}
	return nil
}

// RiskParams 转换为持仓管理器的风控参数
func (c RunConfig) RiskParams() position.RiskParams {
	return position.RiskParams{
		RiskPerTrade:  c.RiskPerTrade,
		StopLossPct:   c.StopLossPct,
		TakeProfitPct: c.TakeProfitPct,
	}
}

// CacheKey 运行参数的唯一键，相同参数的回测结果相同
func (c RunConfig) CacheKey() string {
	return fmt.Sprintf("%s_%s_%s_%s_%g_%g_%g_%g",
		c.Symbol, c.Interval, formatDate(c.StartDate), formatDate(c.EndDate),
		c.InitialBalance, c.RiskPerTrade, c.StopLossPct, c.TakeProfitPct)
}

// Cacheable 是否可以复用缓存结果，未指定结束日期时数据会随时间增长
func (c RunConfig) Cacheable() bool {
	return c.EndDate != nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "all"
	}
	return t.UTC().Format(time.DateOnly)
}

// FilterByDate 保留 start <= open_time <= end 的K线（按毫秒比较，闭区间）
func FilterByDate(candles []indicators.Candle, start, end *time.Time) []indicators.Candle {
	if start == nil && end == nil {
		return candles
	}
	filtered := make([]indicators.Candle, 0, len(candles))
	for _, c := range candles {
		if start != nil && c.OpenTime < start.UnixMilli() {
			continue
		}
		if end != nil && c.OpenTime > end.UnixMilli() {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}
