package backtest

import (
	"math"
	"sort"

	"quantsim/ledger"
)

// RiskMetrics 风险指标（百分比）
type RiskMetrics struct {
	VaR95  float64 `json:"var_95"`  // 95% 置信度的风险价值
	VaR99  float64 `json:"var_99"`  // 99% 置信度的风险价值
	CVaR95 float64 `json:"cvar_95"` // 95% 置信度的条件风险价值
	CVaR99 float64 `json:"cvar_99"` // 99% 置信度的条件风险价值
}

// CalculateRiskMetrics 用余额曲线的逐根收益率计算历史模拟 VaR/CVaR
func CalculateRiskMetrics(curve []ledger.BalancePoint) RiskMetrics {
	if len(curve) < 2 {
		return RiskMetrics{}
	}

	returns := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Balance > 0 {
			returns[i-1] = (curve[i].Balance - curve[i-1].Balance) / curve[i-1].Balance
		}
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	return RiskMetrics{
		VaR95:  calculateHistoricalVaR(sorted, 0.95) * 100,
		VaR99:  calculateHistoricalVaR(sorted, 0.99) * 100,
		CVaR95: calculateCVaR(sorted, 0.95) * 100,
		CVaR99: calculateCVaR(sorted, 0.99) * 100,
	}
}

// tailIndex 升序收益率中对应置信度的分位下标
func tailIndex(n int, confidence float64) int {
	index := int(float64(n) * (1 - confidence))
	if index >= n {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

// calculateHistoricalVaR 历史模拟法计算 VaR，sorted 为升序收益率
func calculateHistoricalVaR(sorted []float64, confidence float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	v := sorted[tailIndex(len(sorted), confidence)]
	if v >= 0 {
		return 0
	}
	return -v // VaR 为正数，表示损失
}

// calculateCVaR 计算条件风险价值（尾部平均损失）
func calculateCVaR(sorted []float64, confidence float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := tailIndex(len(sorted), confidence)
	sum := 0.0
	for i := 0; i <= index; i++ {
		sum += sorted[i]
	}
	avg := sum / float64(index+1)
	if avg >= 0 {
		return 0
	}
	return -avg
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
