// Package indicators 技术指标与特征计算
// 所有序列均为因果计算：第 i 个值只依赖下标 <= i 的输入
package indicators

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCandle K线数据不合法
var ErrInvalidCandle = errors.New("K线数据不合法")

// Candle K线数据
type Candle struct {
	OpenTime int64   `json:"open_time"` // 开盘时间（毫秒）
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Validate 校验单根K线：价格和成交量必须是非负有限数
func (c Candle) Validate() error {
	fields := [...]struct {
		name  string
		value float64
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
		{"volume", c.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return fmt.Errorf("%w: open_time=%d %s=%v", ErrInvalidCandle, c.OpenTime, f.name, f.value)
		}
	}
	return nil
}

// ValidateSeries 校验K线序列：每根合法且 open_time 严格递增
func ValidateSeries(candles []Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
		if i > 0 && c.OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("%w: 第 %d 根K线时间 %d 未晚于前一根 %d",
				ErrInvalidCandle, i, c.OpenTime, candles[i-1].OpenTime)
		}
	}
	return nil
}

// ClosePrices 提取收盘价
func ClosePrices(candles []Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}
