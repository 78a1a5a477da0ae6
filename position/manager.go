// Package position 单交易对持仓状态机
package position

import (
	"errors"
	"fmt"
	"math"

	"quantsim/indicators"
	"quantsim/ledger"
	"quantsim/logger"
	"quantsim/strategy"
)

// ErrNumericFault 计算过程中出现非有限数
var ErrNumericFault = errors.New("数值异常")

// State 持仓状态
type State string

const (
	StateFlat State = "FLAT"
	StateOpen State = "OPEN"
)

// RiskParams 风控参数，均为 (0, 1] 内的比例
type RiskParams struct {
	RiskPerTrade  float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	StopLossPct   float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
}

// DefaultRiskParams 默认风控参数
func DefaultRiskParams() RiskParams {
	return RiskParams{
		RiskPerTrade:  0.02,
		StopLossPct:   0.02,
		TakeProfitPct: 0.04,
	}
}

// Position 当前持仓
type Position struct {
	Symbol     string  `json:"symbol"`
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	EntryTime  int64   `json:"entry_time"`
}

// Manager 持仓管理器：FLAT/OPEN 两态，同一时间最多一个持仓
type Manager struct {
	symbol  string
	params  RiskParams
	balance float64
	pos     *Position
}

// NewManager 创建持仓管理器
func NewManager(symbol string, initialBalance float64, params RiskParams) *Manager {
	return &Manager{
		symbol:  symbol,
		params:  params,
		balance: initialBalance,
	}
}

// State 当前状态
func (m *Manager) State() State {
	if m.pos != nil {
		return StateOpen
	}
	return StateFlat
}

// Balance 已实现余额（不含浮动盈亏）
func (m *Manager) Balance() float64 {
	return m.balance
}

// Position 当前持仓副本
func (m *Manager) Position() (Position, bool) {
	if m.pos == nil {
		return Position{}, false
	}
	return *m.pos, true
}

// OnBar 处理一根K线及其信号，返回本K线产生的成交记录（可能为空）
//
// 持仓时依次检查：最低价触及止损、最高价触及止盈、SELL 信号，每根K线最多平仓一次，
// 平仓的K线不再开仓。空仓时只有 BUY 信号会以收盘价开仓。
func (m *Manager) OnBar(bar indicators.Candle, sig strategy.Signal) (*ledger.TradeRecord, error) {
	if m.pos != nil {
		return m.evaluateExit(bar, sig)
	}
	if sig.Action == strategy.ActionBuy {
		return m.open(bar)
	}
	return nil, nil
}

// evaluateExit 持仓状态下的平仓判断
func (m *Manager) evaluateExit(bar indicators.Candle, sig strategy.Signal) (*ledger.TradeRecord, error) {
	pos := m.pos
	switch {
	case bar.Low <= pos.StopLoss:
		return m.close(bar, pos.StopLoss, ledger.ReasonStopLoss)
	case bar.High >= pos.TakeProfit:
		return m.close(bar, pos.TakeProfit, ledger.ReasonTakeProfit)
	case sig.Action == strategy.ActionSell:
		return m.close(bar, bar.Close, ledger.ReasonSignal)
	}
	return nil, nil
}

// open 以收盘价开仓，仓位 = 余额 * 单笔风险 / 开仓价
func (m *Manager) open(bar indicators.Candle) (*ledger.TradeRecord, error) {
	price := bar.Close
	if price <= 0 {
		logger.Warn("⚠️ [%s] 收盘价为 %v，无法开仓", m.symbol, price)
		return nil, nil
	}

	riskAmount := m.balance * m.params.RiskPerTrade
	size := riskAmount / price
	if !isFinite(size) || size <= 0 {
		return nil, fmt.Errorf("%w: 开仓数量 %v（余额 %v, 价格 %v）", ErrNumericFault, size, m.balance, price)
	}

	record, err := ledger.NewOpenTrade(bar.OpenTime, m.symbol, price, size, m.balance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNumericFault, err)
	}

	m.pos = &Position{
		Symbol:     m.symbol,
		EntryPrice: price,
		Size:       size,
		StopLoss:   price * (1 - m.params.StopLossPct),
		TakeProfit: price * (1 + m.params.TakeProfitPct),
		EntryTime:  bar.OpenTime,
	}
	logger.Debug("📈 [%s] 开仓: 价格=%.4f 数量=%.6f 止损=%.4f 止盈=%.4f",
		m.symbol, price, size, m.pos.StopLoss, m.pos.TakeProfit)
	return &record, nil
}

// close 平仓并结算盈亏
func (m *Manager) close(bar indicators.Candle, exitPrice float64, reason ledger.CloseReason) (*ledger.TradeRecord, error) {
	pos := m.pos
	pnl := (exitPrice - pos.EntryPrice) * pos.Size
	pnlPct := (exitPrice/pos.EntryPrice - 1) * 100
	if !isFinite(pnl) || !isFinite(m.balance+pnl) {
		return nil, fmt.Errorf("%w: 平仓盈亏 %v（余额 %v）", ErrNumericFault, pnl, m.balance)
	}

	record, err := ledger.NewCloseTrade(bar.OpenTime, m.symbol, exitPrice, pos.Size, m.balance, pnl, pnlPct, reason)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNumericFault, err)
	}

	m.balance = record.BalanceAfter
	m.pos = nil
	logger.Debug("📉 [%s] 平仓(%s): 价格=%.4f 盈亏=%.4f (%.2f%%) 余额=%.4f",
		m.symbol, reason, exitPrice, pnl, pnlPct, m.balance)
	return &record, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
