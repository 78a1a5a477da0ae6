package ledger

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func buy(ts int64, symbol string, price, qty float64) TradeRecord {
	return TradeRecord{Timestamp: ts, Symbol: symbol, Side: SideBuy, Price: price, Quantity: qty, Value: price * qty}
}

func sell(ts int64, symbol string, price, qty float64) TradeRecord {
	return TradeRecord{Timestamp: ts, Symbol: symbol, Side: SideSell, Price: price, Quantity: qty, Value: price * qty, CloseReason: ReasonSignal}
}

func closedWithPnL(ts int64, pnl float64) TradeRecord {
	r := sell(ts, "BTCUSDT", 100, 1)
	r.PnL = pnl
	return r
}

func TestFIFOMatchesOldestBuyFirst(t *testing.T) {
	b1 := buy(1_000, "BTCUSDT", 100, 2)
	b2 := buy(2_000, "BTCUSDT", 150, 3)
	s1 := sell(61_000, "BTCUSDT", 130, 2)

	summary := MatchFIFO([]TradeRecord{b1, b2, s1})
	if len(summary.Symbols) != 1 {
		t.Fatalf("应只有一个交易对, 实际 %d", len(summary.Symbols))
	}
	got := summary.Symbols[0]
	want := (s1.Price - b1.Price) * b1.Quantity
	if got.RealisedPnL != want || summary.TotalRealisedPnL != want {
		t.Fatalf("已实现盈亏 = %v, 期望 %v", got.RealisedPnL, want)
	}
	if got.OpenBuyQty != b2.Quantity {
		t.Fatalf("b2 应保持未配对, 剩余 %v", got.OpenBuyQty)
	}
	if got.MatchedPairs != 1 || got.AverageHoldSeconds != 60 {
		t.Fatalf("配对数 %d / 平均持仓 %v 秒, 期望 1 / 60", got.MatchedPairs, got.AverageHoldSeconds)
	}
	if got.BuyVolume != 5 || got.SellVolume != 2 || got.TradesCount != 3 {
		t.Fatalf("成交量统计错误: %+v", got)
	}
}

func TestFIFOSplitsAcrossLots(t *testing.T) {
	summary := MatchFIFO([]TradeRecord{
		buy(0, "ETHUSDT", 100, 1),
		buy(10_000, "ETHUSDT", 110, 1),
		sell(20_000, "ETHUSDT", 120, 1.5),
	})
	got := summary.Symbols[0]
	if got.RealisedPnL != 25 {
		t.Fatalf("跨批次配对盈亏 = %v, 期望 25", got.RealisedPnL)
	}
	if got.MatchedPairs != 2 {
		t.Fatalf("配对数 = %d, 期望 2", got.MatchedPairs)
	}
	// (20s + 10s) / 2
	if got.AverageHoldSeconds != 15 {
		t.Fatalf("平均持仓 = %v 秒, 期望 15", got.AverageHoldSeconds)
	}
	if got.OpenBuyQty != 0.5 {
		t.Fatalf("剩余未配对 = %v, 期望 0.5", got.OpenBuyQty)
	}
}

func TestFIFOExcessSellIgnored(t *testing.T) {
	summary := MatchFIFO([]TradeRecord{
		buy(0, "BTCUSDT", 100, 1),
		sell(1_000, "BTCUSDT", 90, 3),
		sell(2_000, "BTCUSDT", 80, 1),
	})
	got := summary.Symbols[0]
	if got.RealisedPnL != -10 {
		t.Fatalf("盈亏 = %v, 期望 -10", got.RealisedPnL)
	}
	if got.UnmatchedSellQty != 3 {
		t.Fatalf("超额卖出 = %v, 期望 3", got.UnmatchedSellQty)
	}
	if got.MatchedPairs != 1 {
		t.Fatalf("只有一个配对应计入持仓时间, 实际 %d", got.MatchedPairs)
	}
}

func TestFIFONoResidueAfterSplits(t *testing.T) {
	summary := MatchFIFO([]TradeRecord{
		buy(0, "BTCUSDT", 100, 0.1),
		buy(1_000, "BTCUSDT", 100, 0.2),
		sell(2_000, "BTCUSDT", 110, 0.3),
	})
	got := summary.Symbols[0]
	if got.OpenBuyQty != 0 || got.UnmatchedSellQty != 0 {
		t.Fatalf("0.1+0.2 的买入应被 0.3 的卖出完全抵消: open=%v unmatched=%v", got.OpenBuyQty, got.UnmatchedSellQty)
	}
	if got.RealisedPnL != 3 {
		t.Fatalf("盈亏 = %v, 期望 3", got.RealisedPnL)
	}
}

func TestFIFOPnLMatchesFloatFormula(t *testing.T) {
	// 非整数价格下配对盈亏与持仓管理器的 float64 记账一致
	summary := MatchFIFO([]TradeRecord{
		buy(0, "BTCUSDT", 100.3, 0.1987),
		buy(1_000, "BTCUSDT", 101.1, 0.5),
		sell(2_000, "BTCUSDT", 100.7, 0.1987),
	})
	want := (100.7 - 100.3) * 0.1987
	if summary.TotalRealisedPnL != want {
		t.Fatalf("FIFO 盈亏 = %v, 期望 %v", summary.TotalRealisedPnL, want)
	}
	if got := summary.Symbols[0].OpenBuyQty; got != 0.5 {
		t.Fatalf("剩余买入数量 = %v, 期望 0.5", got)
	}
}

func TestFIFOPerSymbolAndOrdering(t *testing.T) {
	// 乱序输入按时间排序后配对
	summary := MatchFIFO([]TradeRecord{
		sell(3_000, "BTCUSDT", 120, 1),
		buy(1_000, "BTCUSDT", 100, 1),
		buy(2_000, "ETHUSDT", 10, 5),
		sell(4_000, "ETHUSDT", 9, 5),
	})
	if len(summary.Symbols) != 2 {
		t.Fatalf("应有两个交易对, 实际 %d", len(summary.Symbols))
	}
	if summary.Symbols[0].Symbol != "BTCUSDT" || summary.Symbols[0].RealisedPnL != 20 {
		t.Fatalf("BTCUSDT 结果错误: %+v", summary.Symbols[0])
	}
	if summary.Symbols[1].Symbol != "ETHUSDT" || summary.Symbols[1].RealisedPnL != -5 {
		t.Fatalf("ETHUSDT 结果错误: %+v", summary.Symbols[1])
	}
	if summary.TotalRealisedPnL != 15 {
		t.Fatalf("总盈亏 = %v, 期望 15", summary.TotalRealisedPnL)
	}
	if summary.AverageHoldSeconds != 2 {
		t.Fatalf("总平均持仓 = %v 秒, 期望 2", summary.AverageHoldSeconds)
	}
}

func TestPerformanceNoTrades(t *testing.T) {
	report := CalculatePerformance(nil, []BalancePoint{{0, 1000}, {1, 1000}})
	if report.TotalTrades != 0 || report.ProfitFactor != 0 || report.WinRate != 0 {
		t.Fatalf("无交易时指标应为 0: %+v", report)
	}
	if report.SharpeRatio != 0 || report.MaxDrawdown != 0 {
		t.Fatalf("余额不变时夏普和回撤应为 0: %+v", report)
	}
}

func TestPerformanceProfitFactorInfinite(t *testing.T) {
	records := []TradeRecord{closedWithPnL(1, 10), closedWithPnL(2, 5)}
	report := CalculatePerformance(records, nil)
	if !report.ProfitFactor.IsInf() {
		t.Fatalf("全部盈利时利润因子应为 +Inf, 实际 %v", report.ProfitFactor)
	}
	if report.WinRate != 1 || report.WinningTrades != 2 || report.LosingTrades != 0 {
		t.Fatalf("胜率统计错误: %+v", report)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("+Inf 序列化失败: %v", err)
	}
	var back PerformanceReport
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if !back.ProfitFactor.IsInf() {
		t.Fatalf("反序列化后利润因子应仍为 +Inf")
	}
}

func TestPerformanceMixedTrades(t *testing.T) {
	records := []TradeRecord{
		buy(0, "BTCUSDT", 100, 1),
		closedWithPnL(1, 30),
		closedWithPnL(2, -10),
		closedWithPnL(3, 0),
		closedWithPnL(4, -5),
		closedWithPnL(5, 20),
	}
	report := CalculatePerformance(records, nil)

	if report.TotalTrades != 5 {
		t.Fatalf("只统计平仓记录, 实际 %d", report.TotalTrades)
	}
	// pnl == 0 计为亏损
	if report.WinningTrades != 2 || report.LosingTrades != 3 {
		t.Fatalf("盈亏笔数错误: %+v", report)
	}
	if report.WinRate != 0.4 {
		t.Fatalf("胜率 = %v, 期望 0.4", report.WinRate)
	}
	if float64(report.ProfitFactor) != 50.0/15.0 {
		t.Fatalf("利润因子 = %v, 期望 %v", report.ProfitFactor, 50.0/15.0)
	}
	if report.AverageProfit != 25 || report.AverageLoss != 5 {
		t.Fatalf("平均盈亏错误: %v / %v", report.AverageProfit, report.AverageLoss)
	}
	if report.LargestWin != 30 || report.LargestLoss != 10 {
		t.Fatalf("最大单笔错误: %v / %v", report.LargestWin, report.LargestLoss)
	}
	if report.MaxConsecutiveLosses != 3 || report.MaxConsecutiveWins != 1 {
		t.Fatalf("连续性统计错误: %+v", report)
	}
}

func TestPerformanceDrawdownAndSharpe(t *testing.T) {
	curve := []BalancePoint{{0, 100}, {1, 120}, {2, 90}, {3, 130}}
	report := CalculatePerformance(nil, curve)
	if report.MaxDrawdown != 0.25 {
		t.Fatalf("最大回撤 = %v, 期望 0.25", report.MaxDrawdown)
	}
	if report.TotalReturn != 30 {
		t.Fatalf("总收益率 = %v, 期望 30", report.TotalReturn)
	}

	sharpe := CalculatePerformance(nil, []BalancePoint{{0, 100}, {1, 110}, {2, 110}}).SharpeRatio
	if math.Abs(sharpe-math.Sqrt(252)) > 1e-9 {
		t.Fatalf("夏普比率 = %v, 期望 %v", sharpe, math.Sqrt(252))
	}
}

func TestLedgerAppendOnly(t *testing.T) {
	l := New()
	open, err := NewOpenTrade(1_000, "BTCUSDT", 100, 2, 10_000)
	if err != nil {
		t.Fatalf("创建开仓记录失败: %v", err)
	}
	if err := l.Append(open); err != nil {
		t.Fatalf("追加失败: %v", err)
	}

	closeRec, err := NewCloseTrade(2_000, "BTCUSDT", 98, 2, 10_000, -4, -2, ReasonStopLoss)
	if err != nil {
		t.Fatalf("创建平仓记录失败: %v", err)
	}
	if closeRec.BalanceAfter != 9_996 || closeRec.Value != 196 {
		t.Fatalf("平仓记录字段错误: %+v", closeRec)
	}
	if err := l.Append(closeRec); err != nil {
		t.Fatalf("追加失败: %v", err)
	}

	records := l.Records()
	records[0].Price = 1
	if l.Records()[0].Price != 100 {
		t.Fatalf("Records 应返回副本")
	}

	stale := open
	stale.Timestamp = 500
	if err := l.Append(stale); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("时间倒退的记录应被拒绝, 实际 %v", err)
	}
	if l.Len() != 2 || len(l.Closed()) != 1 {
		t.Fatalf("账本记录数错误: %d / %d", l.Len(), len(l.Closed()))
	}
}

func TestTradeRecordValidation(t *testing.T) {
	if _, err := NewOpenTrade(0, "", 100, 1, 1000); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("空交易对应被拒绝")
	}
	if _, err := NewOpenTrade(0, "BTCUSDT", 0, 1, 1000); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("价格为 0 应被拒绝")
	}
	if _, err := NewCloseTrade(0, "BTCUSDT", 100, 1, 1000, math.NaN(), 0, ReasonSignal); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("NaN 盈亏应被拒绝")
	}
	if _, err := NewCloseTrade(0, "BTCUSDT", 100, 1, 1000, 1, 1, CloseReason("MANUAL")); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("未知平仓原因应被拒绝")
	}
	bad := buy(0, "BTCUSDT", 100, 1)
	bad.CloseReason = ReasonSignal
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("开仓记录带平仓原因应被拒绝")
	}
}

func TestTradeRecordJSONOmitsOpenPnL(t *testing.T) {
	open, _ := NewOpenTrade(0, "BTCUSDT", 100, 1, 1000)
	data, err := json.Marshal(open)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	var fields map[string]interface{}
	json.Unmarshal(data, &fields)
	if _, ok := fields["pnl"]; ok {
		t.Fatalf("开仓记录不应带 pnl: %s", data)
	}
	if _, ok := fields["pnl_pct"]; ok {
		t.Fatalf("开仓记录不应带 pnl_pct: %s", data)
	}
	if fields["side"] != "BUY" || fields["balance_after"] != 1000.0 {
		t.Fatalf("开仓记录字段丢失: %s", data)
	}

	// 持平平仓仍保留 pnl
	closeRec, _ := NewCloseTrade(60_000, "BTCUSDT", 100, 1, 1000, 0, 0, ReasonSignal)
	data, _ = json.Marshal(closeRec)
	fields = map[string]interface{}{}
	json.Unmarshal(data, &fields)
	if fields["pnl"] != 0.0 || fields["close_reason"] != "SIGNAL" {
		t.Fatalf("平仓记录应带 pnl: %s", data)
	}

	var back TradeRecord
	if err := json.Unmarshal(data, &back); err != nil || back != closeRec {
		t.Fatalf("反序列化结果不一致: %+v (%v)", back, err)
	}
}
