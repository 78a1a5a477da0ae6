// Package ledger 交易账本与收益统计
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRecord 交易记录不合法
var ErrInvalidRecord = errors.New("交易记录不合法")

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// CloseReason 平仓原因
type CloseReason string

const (
	ReasonStopLoss   CloseReason = "STOP_LOSS"
	ReasonTakeProfit CloseReason = "TAKE_PROFIT"
	ReasonSignal     CloseReason = "SIGNAL"
)

// TradeRecord 账本中的一条成交记录，写入后不可修改
// 开仓记录（BUY）不带盈亏字段，平仓记录（SELL）带 pnl/pnl_pct/close_reason
type TradeRecord struct {
	Timestamp     int64       `json:"timestamp"` // 成交K线开盘时间（毫秒）
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Price         float64     `json:"price"`
	Quantity      float64     `json:"quantity"`
	Value         float64     `json:"value"`
	BalanceBefore float64     `json:"balance_before"`
	BalanceAfter  float64     `json:"balance_after"`
	PnL           float64     `json:"pnl"`
	PnLPct        float64     `json:"pnl_pct"`
	CloseReason   CloseReason `json:"close_reason,omitempty"`
}

// IsClose 是否为平仓记录
func (r TradeRecord) IsClose() bool {
	return r.Side == SideSell
}

// MarshalJSON 开仓记录省略 pnl/pnl_pct，平仓记录即使盈亏为 0 也保留
func (r TradeRecord) MarshalJSON() ([]byte, error) {
	type plain TradeRecord
	if r.IsClose() {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		PnL    *float64 `json:"pnl,omitempty"`
		PnLPct *float64 `json:"pnl_pct,omitempty"`
	}{plain: plain(r)})
}

// NewOpenTrade 创建开仓记录，开仓不改变余额
func NewOpenTrade(timestamp int64, symbol string, price, quantity, balance float64) (TradeRecord, error) {
	r := TradeRecord{
		Timestamp:     timestamp,
		Symbol:        symbol,
		Side:          SideBuy,
		Price:         price,
		Quantity:      quantity,
		Value:         price * quantity,
		BalanceBefore: balance,
		BalanceAfter:  balance,
	}
	return r, r.Validate()
}

// NewCloseTrade 创建平仓记录
func NewCloseTrade(timestamp int64, symbol string, price, quantity, balanceBefore, pnl, pnlPct float64, reason CloseReason) (TradeRecord, error) {
	r := TradeRecord{
		Timestamp:     timestamp,
		Symbol:        symbol,
		Side:          SideSell,
		Price:         price,
		Quantity:      quantity,
		Value:         price * quantity,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceBefore + pnl,
		PnL:           pnl,
		PnLPct:        pnlPct,
		CloseReason:   reason,
	}
	return r, r.Validate()
}

// Validate 校验记录的字段组合
func (r TradeRecord) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol 为空", ErrInvalidRecord)
	}
	for _, f := range [...]struct {
		name  string
		value float64
	}{
		{"price", r.Price},
		{"quantity", r.Quantity},
		{"value", r.Value},
		{"balance_before", r.BalanceBefore},
		{"balance_after", r.BalanceAfter},
		{"pnl", r.PnL},
		{"pnl_pct", r.PnLPct},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidRecord, f.name, f.value)
		}
	}
	if r.Price <= 0 || r.Quantity <= 0 {
		return fmt.Errorf("%w: price=%v quantity=%v 必须为正", ErrInvalidRecord, r.Price, r.Quantity)
	}

	switch r.Side {
	case SideBuy:
		if r.CloseReason != "" || r.PnL != 0 || r.PnLPct != 0 {
			return fmt.Errorf("%w: 开仓记录不能带盈亏字段", ErrInvalidRecord)
		}
		if r.BalanceAfter != r.BalanceBefore {
			return fmt.Errorf("%w: 开仓不能改变余额", ErrInvalidRecord)
		}
	case SideSell:
		switch r.CloseReason {
		case ReasonStopLoss, ReasonTakeProfit, ReasonSignal:
		default:
			return fmt.Errorf("%w: 未知平仓原因 %q", ErrInvalidRecord, r.CloseReason)
		}
	default:
		return fmt.Errorf("%w: 未知方向 %q", ErrInvalidRecord, r.Side)
	}
	return nil
}
