package indicators

import "math"

// ========== 基础序列计算 ==========
// 返回的序列与输入等长，窗口不足的位置为 Undefined

// SMA 简单移动平均，逐窗口求和
func SMA(values []float64, period int) []Value {
	result := make([]Value, len(values))
	if period <= 0 {
		return result
	}
	for i := period - 1; i < len(values); i++ {
		result[i] = Defined(windowMean(values[i-period+1 : i+1]))
	}
	return result
}

// emaRaw 指数移动平均，以第一个值为种子（不做偏差修正）
// 写成 prev + k*(x-prev) 的形式，价格不变时结果精确不变
func emaRaw(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	if len(values) == 0 {
		return result
	}
	k := 2.0 / (float64(period) + 1.0)
	result[0] = values[0]
	for i := 1; i < len(values); i++ {
		result[i] = result[i-1] + k*(values[i]-result[i-1])
	}
	return result
}

// EMA 指数移动平均，前 period-1 个位置未定义
func EMA(values []float64, period int) []Value {
	return mask(emaRaw(values, period), period-1)
}

// StdDev 滚动总体标准差
func StdDev(values []float64, period int) []Value {
	result := make([]Value, len(values))
	if period <= 0 {
		return result
	}
	for i := period - 1; i < len(values); i++ {
		result[i] = Defined(windowStdDev(values[i-period+1 : i+1]))
	}
	return result
}

// RSI 相对强弱指数（Wilder 平滑）
// 平均跌幅为 0 时为 100；涨跌均为 0（价格不动）时为 50
func RSI(closes []float64, period int) []Value {
	result := make([]Value, len(closes))
	if period <= 0 || len(closes) <= period {
		return result
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := splitChange(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	result[period] = Defined(rsiValue(avgGain, avgLoss))

	n := float64(period)
	for i := period + 1; i < len(closes); i++ {
		gain, loss := splitChange(closes[i] - closes[i-1])
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
		result[i] = Defined(rsiValue(avgGain, avgLoss))
	}
	return result
}

// MACDSeries MACD 三条线
type MACDSeries struct {
	MACD      []Value
	Signal    []Value
	Histogram []Value
}

// MACD 计算 MACD = EMA(fast) - EMA(slow)，信号线为 MACD 的 EMA(signal)
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	fastEMA := emaRaw(closes, fast)
	slowEMA := emaRaw(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := emaRaw(line, signal)

	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signalLine[i]
	}

	lineWarmup := max(fast, slow) - 1
	signalWarmup := lineWarmup + signal - 1
	return MACDSeries{
		MACD:      mask(line, lineWarmup),
		Signal:    mask(signalLine, signalWarmup),
		Histogram: mask(hist, signalWarmup),
	}
}

// BollingerSeries 布林带
type BollingerSeries struct {
	Upper  []Value
	Middle []Value
	Lower  []Value
	Width  []Value // upper - lower
}

// Bollinger 布林带：中轨为 SMA，带宽为 multiplier 倍总体标准差
func Bollinger(closes []float64, period int, multiplier float64) BollingerSeries {
	middle := SMA(closes, period)
	std := StdDev(closes, period)

	bands := BollingerSeries{
		Upper:  make([]Value, len(closes)),
		Middle: middle,
		Lower:  make([]Value, len(closes)),
		Width:  make([]Value, len(closes)),
	}
	for i := range closes {
		m, ok := middle[i].Float()
		if !ok {
			continue
		}
		s, _ := std[i].Float()
		upper := m + multiplier*s
		lower := m - multiplier*s
		bands.Upper[i] = Defined(upper)
		bands.Lower[i] = Defined(lower)
		bands.Width[i] = Defined(upper - lower)
	}
	return bands
}

// Momentum 动量：period 根K线的涨跌幅（百分比）
func Momentum(closes []float64, period int) []Value {
	result := make([]Value, len(closes))
	if period <= 0 {
		return result
	}
	for i := period; i < len(closes); i++ {
		base := closes[i-period]
		if base == 0 {
			continue
		}
		result[i] = Defined((closes[i]/base - 1) * 100)
	}
	return result
}

// Volatility 滚动波动率：标准差 / 均值 * 100
func Volatility(closes []float64, period int) []Value {
	result := make([]Value, len(closes))
	if period <= 0 {
		return result
	}
	for i := period - 1; i < len(closes); i++ {
		window := closes[i-period+1 : i+1]
		mean := windowMean(window)
		if mean == 0 {
			continue
		}
		result[i] = Defined(windowStdDev(window) / mean * 100)
	}
	return result
}

// ========== 内部工具 ==========

func windowMean(window []float64) float64 {
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

func windowStdDev(window []float64) float64 {
	mean := windowMean(window)
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(window)))
}

func splitChange(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// mask 把原始序列转为 Value，下标小于 warmup 的位置未定义
func mask(values []float64, warmup int) []Value {
	result := make([]Value, len(values))
	for i := max(warmup, 0); i < len(values); i++ {
		result[i] = Defined(values[i])
	}
	return result
}
