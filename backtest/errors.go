package backtest

import (
	"errors"
	"fmt"
	"strings"

	"quantsim/indicators"
	"quantsim/position"
)

var (
	// ErrInsufficientData K线数量不足或缺少必需列
	ErrInsufficientData = errors.New("数据不足")
	// ErrInvalidParameter 运行参数不合法
	ErrInvalidParameter = errors.New("参数不合法")
	// ErrNumericFault 回放过程中出现非有限数
	ErrNumericFault = position.ErrNumericFault
	// ErrInvalidCandles K线序列不合法（负数、非有限数、时间未严格递增）
	ErrInvalidCandles = indicators.ErrInvalidCandle
)

// InsufficientDataError 可用K线少于最小数量，或数据源缺少 OHLCV 列
type InsufficientDataError struct {
	Have    int
	Need    int
	Missing []string
}

func (e *InsufficientDataError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("数据不足: 缺少列 %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("数据不足: 需要至少 %d 根K线, 实际 %d 根", e.Need, e.Have)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// InvalidParameterError 运行前被拒绝的参数
type InvalidParameterError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("参数不合法: %s=%v (%s)", e.Field, e.Value, e.Reason)
}

func (e *InvalidParameterError) Unwrap() error {
	return ErrInvalidParameter
}

// NumericFaultError 第 Index 根K线出现 NaN/Inf，回测中止
type NumericFaultError struct {
	Index int
	Field string
	Value float64
	Err   error
}

func (e *NumericFaultError) Error() string {
	msg := fmt.Sprintf("数值异常: 第 %d 根K线 %s=%v", e.Index, e.Field, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NumericFaultError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNumericFault, e.Err}
	}
	return []error{ErrNumericFault}
}
