package database

import (
	"encoding/json"
	"fmt"

	"quantsim/backtest"
	"quantsim/ledger"
	"quantsim/strategy"
	"quantsim/utils"
)

// NewRunRecord 将回测结果转换为待保存的行
func NewRunRecord(result *backtest.BacktestResult) (*BacktestRun, []*TradeRow, []*SignalRow, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("序列化回测结果失败: %w", err)
	}

	run := &BacktestRun{
		ID:             result.RunID,
		Symbol:         result.Symbol,
		Interval:       result.Interval,
		Strategy:       result.Strategy,
		StartTime:      result.StartTime,
		EndTime:        result.EndTime,
		InitialBalance: result.InitialBalance,
		FinalBalance:   result.FinalBalance,
		ProfitLoss:     result.ProfitLoss,
		ProfitLossPct:  result.ProfitLossPct,
		TotalTrades:    result.Report.TotalTrades,
		WinRate:        result.Report.WinRate,
		SharpeRatio:    result.Report.SharpeRatio,
		MaxDrawdown:    result.Report.MaxDrawdown,
		BarsProcessed:  result.BarsProcessed,
		ResultJSON:     string(data),
		CreatedAt:      utils.NowUTC(),
	}

	trades := make([]*TradeRow, len(result.Trades))
	for i, t := range result.Trades {
		trades[i] = &TradeRow{
			RunID:         result.RunID,
			Seq:           i,
			Timestamp:     t.Timestamp,
			Symbol:        t.Symbol,
			Side:          string(t.Side),
			Price:         t.Price,
			Quantity:      t.Quantity,
			Value:         t.Value,
			BalanceBefore: t.BalanceBefore,
			BalanceAfter:  t.BalanceAfter,
			PnL:           t.PnL,
			PnLPct:        t.PnLPct,
			CloseReason:   string(t.CloseReason),
		}
	}

	signals := make([]*SignalRow, len(result.Signals))
	for i, s := range result.Signals {
		signals[i] = &SignalRow{
			RunID:    result.RunID,
			OpenTime: s.OpenTime,
			Action:   string(s.Action),
			Price:    s.Price,
			Source:   s.Source,
		}
	}
	return run, trades, signals, nil
}

// Result 解码保存的完整回测结果
func (r *BacktestRun) Result() (*backtest.BacktestResult, error) {
	if r.ResultJSON == "" {
		return nil, fmt.Errorf("回测 %s 未保存完整结果", r.ID)
	}
	var result backtest.BacktestResult
	if err := json.Unmarshal([]byte(r.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("解析回测结果失败: %w", err)
	}
	return &result, nil
}

// Record 转换为账本记录
func (t *TradeRow) Record() ledger.TradeRecord {
	return ledger.TradeRecord{
		Timestamp:     t.Timestamp,
		Symbol:        t.Symbol,
		Side:          ledger.Side(t.Side),
		Price:         t.Price,
		Quantity:      t.Quantity,
		Value:         t.Value,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		PnL:           t.PnL,
		PnLPct:        t.PnLPct,
		CloseReason:   ledger.CloseReason(t.CloseReason),
	}
}

// Signal 转换为信号
func (s *SignalRow) Signal() strategy.Signal {
	return strategy.Signal{
		Action:   strategy.Action(s.Action),
		Price:    s.Price,
		OpenTime: s.OpenTime,
		Source:   s.Source,
	}
}

// Records 批量转换为账本记录（时间升序，供 FIFO 配对）
func Records(rows []*TradeRow) []ledger.TradeRecord {
	records := make([]ledger.TradeRecord, len(rows))
	for i, row := range rows {
		records[len(rows)-1-i] = row.Record()
	}
	return records
}
