package ledger

import (
	"encoding/json"
	"math"
	"strconv"
)

// AnnualizationFactor 夏普比率年化常数
const AnnualizationFactor = 252

// BalancePoint 已实现余额曲线上的一个点
type BalancePoint struct {
	Timestamp int64   `json:"timestamp"`
	Balance   float64 `json:"balance"`
}

// Ratio 允许为 +Inf 的比率，JSON 中 +Inf 编码为 "Infinity"
type Ratio float64

// IsInf 是否为正无穷
func (r Ratio) IsInf() bool {
	return math.IsInf(float64(r), 1)
}

// MarshalJSON 正无穷输出字符串 "Infinity"
func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.IsInf() {
		return []byte(`"Infinity"`), nil
	}
	return json.Marshal(float64(r))
}

// UnmarshalJSON 接受数字或 "Infinity"
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == `"Infinity"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// String 格式化输出
func (r Ratio) String() string {
	if r.IsInf() {
		return "∞"
	}
	return strconv.FormatFloat(float64(r), 'f', 4, 64)
}

// PerformanceReport 回测绩效，完全由账本和余额曲线推导
type PerformanceReport struct {
	// 交易统计（只统计平仓记录）
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // 0~1
	ProfitFactor  Ratio   `json:"profit_factor"`
	GrossProfit   float64 `json:"gross_profit"`
	GrossLoss     float64 `json:"gross_loss"` // 绝对值
	AverageProfit float64 `json:"average_profit"`
	AverageLoss   float64 `json:"average_loss"` // 亏损交易的平均亏损额（>= 0）
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`

	// 连续性
	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	// 余额曲线
	TotalReturn float64 `json:"total_return"` // 总收益率 (%)
	MaxDrawdown float64 `json:"max_drawdown"` // 0~1
	SharpeRatio float64 `json:"sharpe_ratio"`
}

// CalculatePerformance 计算绩效
// curve 为逐K线的已实现余额曲线，第一个点为初始余额
func CalculatePerformance(records []TradeRecord, curve []BalancePoint) PerformanceReport {
	closed := ClosedTrades(records)
	balances := make([]float64, len(curve))
	for i, p := range curve {
		balances[i] = p.Balance
	}

	gross := calculateGross(closed)
	report := PerformanceReport{
		TotalTrades:          len(closed),
		GrossProfit:          gross.profit,
		GrossLoss:            gross.loss,
		WinningTrades:        gross.wins,
		LosingTrades:         gross.losses,
		WinRate:              calculateWinRate(gross),
		ProfitFactor:         calculateProfitFactor(gross),
		AverageProfit:        calculateAverage(gross.profit, gross.wins),
		AverageLoss:          calculateAverage(gross.loss, gross.losses),
		LargestWin:           calculateLargestWin(closed),
		LargestLoss:          calculateLargestLoss(closed),
		MaxConsecutiveWins:   calculateMaxStreak(closed, true),
		MaxConsecutiveLosses: calculateMaxStreak(closed, false),
		TotalReturn:          calculateTotalReturn(balances),
		MaxDrawdown:          calculateMaxDrawdown(balances),
		SharpeRatio:          calculateSharpeRatio(calculateReturns(balances)),
	}
	return report
}

type grossStats struct {
	profit, loss float64
	wins, losses int
}

// calculateGross 汇总盈亏，pnl > 0 为盈利，其余为亏损
func calculateGross(closed []TradeRecord) grossStats {
	var g grossStats
	for _, t := range closed {
		if t.PnL > 0 {
			g.profit += t.PnL
			g.wins++
		} else {
			g.loss += math.Abs(t.PnL)
			g.losses++
		}
	}
	return g
}

// calculateWinRate 计算胜率
func calculateWinRate(g grossStats) float64 {
	total := g.wins + g.losses
	if total == 0 {
		return 0
	}
	return float64(g.wins) / float64(total)
}

// calculateProfitFactor 计算利润因子（总盈利 / 总亏损）
// 没有交易为 0，没有亏损但有盈利为 +Inf
func calculateProfitFactor(g grossStats) Ratio {
	if g.wins+g.losses == 0 {
		return 0
	}
	if g.loss == 0 {
		if g.profit > 0 {
			return Ratio(math.Inf(1))
		}
		return 0
	}
	return Ratio(g.profit / g.loss)
}

func calculateAverage(sum float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// calculateLargestWin 计算最大单笔盈利
func calculateLargestWin(closed []TradeRecord) float64 {
	largest := 0.0
	for _, t := range closed {
		if t.PnL > largest {
			largest = t.PnL
		}
	}
	return largest
}

// calculateLargestLoss 计算最大单笔亏损（绝对值）
func calculateLargestLoss(closed []TradeRecord) float64 {
	largest := 0.0
	for _, t := range closed {
		if t.PnL < 0 && -t.PnL > largest {
			largest = -t.PnL
		}
	}
	return largest
}

// calculateMaxStreak 计算最大连续盈利/亏损次数
func calculateMaxStreak(closed []TradeRecord, wins bool) int {
	best, current := 0, 0
	for _, t := range closed {
		if (t.PnL > 0) == wins {
			current++
			best = max(best, current)
		} else {
			current = 0
		}
	}
	return best
}

// calculateTotalReturn 计算总收益率（%）
func calculateTotalReturn(balances []float64) float64 {
	if len(balances) == 0 || balances[0] == 0 {
		return 0
	}
	return (balances[len(balances)-1] - balances[0]) / balances[0] * 100
}

// calculateReturns 计算逐点收益率序列
func calculateReturns(balances []float64) []float64 {
	if len(balances) < 2 {
		return nil
	}
	returns := make([]float64, len(balances)-1)
	for i := 1; i < len(balances); i++ {
		if balances[i-1] != 0 {
			returns[i-1] = (balances[i] - balances[i-1]) / balances[i-1]
		}
	}
	return returns
}

// calculateMaxDrawdown 计算最大回撤：max((峰值 - 当前) / 峰值)
func calculateMaxDrawdown(balances []float64) float64 {
	if len(balances) == 0 {
		return 0
	}
	maxDrawdown := 0.0
	peak := balances[0]
	for _, b := range balances {
		if b > peak {
			peak = b
		}
		if peak > 0 {
			if dd := (peak - b) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	return maxDrawdown
}

// calculateSharpeRatio 计算夏普比率：均值 / 总体标准差 * sqrt(252)，方差为 0 时为 0
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev * math.Sqrt(AnnualizationFactor)
}
