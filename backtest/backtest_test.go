package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quantsim/indicators"
	"quantsim/ledger"
	"quantsim/strategy"
)

const (
	baseTime = int64(1_700_000_000_000)
	hourMs   = int64(time.Hour / time.Millisecond)
)

// generateFlatCandles 生成价格不变的K线
func generateFlatCandles(n int, price float64) []indicators.Candle {
	candles := make([]indicators.Candle, n)
	for i := range candles {
		candles[i] = indicators.Candle{
			OpenTime: baseTime + int64(i)*hourMs,
			Open:     price, High: price, Low: price, Close: price,
			Volume: 1,
		}
	}
	return candles
}

// generateWaveCandles 生成正弦波动的K线
func generateWaveCandles(n int) []indicators.Candle {
	candles := make([]indicators.Candle, n)
	prev := 100.0
	for i := range candles {
		price := 100 + 10*math.Sin(float64(i)/7) + 3*math.Sin(float64(i)/2.3)
		candles[i] = indicators.Candle{
			OpenTime: baseTime + int64(i)*hourMs,
			Open:     prev,
			High:     math.Max(prev, price) * 1.002,
			Low:      math.Min(prev, price) * 0.998,
			Close:    price,
			Volume:   100 + float64(i%10),
		}
		prev = price
	}
	return candles
}

// buyAt 只在指定下标给出 BUY 的信号源
func buyAt(index int) strategy.SignalFunc {
	return func(fs indicators.FeatureSet) strategy.Action {
		if fs.Index == index {
			return strategy.ActionBuy
		}
		return strategy.ActionHold
	}
}

func testConfig() RunConfig {
	return DefaultRunConfig("BTCUSDT")
}

func runBacktest(t *testing.T, candles []indicators.Candle, opts ...Option) *BacktestResult {
	t.Helper()
	result, err := NewBacktester(testConfig(), candles, opts...).Run(context.Background())
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	return result
}

func TestFlatPricesProduceNoTrades(t *testing.T) {
	result := runBacktest(t, generateFlatCandles(120, 100))

	if len(result.Trades) != 0 {
		t.Fatalf("价格不变时不应有交易, 实际 %d 笔", len(result.Trades))
	}
	if len(result.Signals) != 20 || result.BarsProcessed != 20 {
		t.Fatalf("应回放 20 根K线, 实际信号 %d / 回放 %d", len(result.Signals), result.BarsProcessed)
	}
	for _, s := range result.Signals {
		if s.Action != strategy.ActionHold {
			t.Fatalf("价格不变时信号应全部为 HOLD, 实际 %+v", s)
		}
	}
	if result.FinalBalance != result.InitialBalance || result.Report.ProfitFactor != 0 {
		t.Fatalf("无交易时余额和利润因子应不变: %+v", result.Report)
	}
	if len(result.BalanceCurve) != 21 {
		t.Fatalf("余额曲线应包含初始点和每根回放K线, 实际 %d", len(result.BalanceCurve))
	}
	t.Logf("✅ 价格不变回测完成: %d 个信号, 0 笔交易", len(result.Signals))
}

func TestStopLossScenario(t *testing.T) {
	// 100 根预热K线后 60 根从 100 涨到 200，随后一根K线暴跌
	candles := generateFlatCandles(100, 100)
	prev := 100.0
	for k := 0; k < 60; k++ {
		price := 100 + 100*float64(k)/59
		candles = append(candles, indicators.Candle{
			OpenTime: baseTime + int64(len(candles))*hourMs,
			Open:     prev, High: price, Low: prev, Close: price, Volume: 1,
		})
		prev = price
	}
	candles = append(candles, indicators.Candle{
		OpenTime: baseTime + int64(len(candles))*hourMs,
		Open:     200, High: 200, Low: 150, Close: 150, Volume: 1,
	})

	result := runBacktest(t, candles, WithSignalSource(buyAt(159)))

	if len(result.Trades) != 2 {
		t.Fatalf("应有一笔开仓一笔平仓, 实际 %d 笔", len(result.Trades))
	}
	open, closed := result.Trades[0], result.Trades[1]
	if open.Side != ledger.SideBuy || open.Price != 200 {
		t.Fatalf("开仓记录错误: %+v", open)
	}
	if closed.CloseReason != ledger.ReasonStopLoss || closed.PnL >= 0 {
		t.Fatalf("应止损平仓且亏损: %+v", closed)
	}
	if math.Abs(closed.Price-196) > 1e-9 || math.Abs(result.FinalBalance-9996) > 1e-9 {
		t.Fatalf("止损价 %v / 最终余额 %v, 期望 196 / 9996", closed.Price, result.FinalBalance)
	}
	if result.OpenPosition != nil {
		t.Fatalf("止损后不应有持仓")
	}
	t.Logf("✅ 止损场景: 盈亏 %.2f", closed.PnL)
}

func TestTakeProfitScenario(t *testing.T) {
	candles := generateFlatCandles(100, 100)
	candles = append(candles,
		indicators.Candle{OpenTime: baseTime + 100*hourMs, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		indicators.Candle{OpenTime: baseTime + 101*hourMs, Open: 101, High: 105, Low: 100.5, Close: 105, Volume: 1},
		indicators.Candle{OpenTime: baseTime + 102*hourMs, Open: 105, High: 105, Low: 105, Close: 105, Volume: 1},
	)

	result := runBacktest(t, candles, WithSignalSource(buyAt(100)))

	closed := result.Report
	if closed.TotalTrades != 1 || closed.WinningTrades != 1 {
		t.Fatalf("应有一笔盈利平仓: %+v", closed)
	}
	last := result.Trades[len(result.Trades)-1]
	if last.CloseReason != ledger.ReasonTakeProfit {
		t.Fatalf("平仓原因 = %s, 期望 TAKE_PROFIT", last.CloseReason)
	}
	if math.Abs(last.PnLPct-4) > 1e-6 {
		t.Fatalf("止盈收益率 = %v, 期望约 4%%", last.PnLPct)
	}
	if !closed.ProfitFactor.IsInf() {
		t.Fatalf("只有盈利交易时利润因子应为 +Inf, 实际 %v", closed.ProfitFactor)
	}
}

// checkBalanceChain 校验账本余额前后衔接，平仓余额变化等于盈亏
func checkBalanceChain(t *testing.T, result *BacktestResult) {
	t.Helper()
	balance := result.InitialBalance
	for i, trade := range result.Trades {
		if trade.BalanceBefore != balance {
			t.Fatalf("第 %d 笔 balance_before = %v, 期望 %v", i, trade.BalanceBefore, balance)
		}
		if trade.IsClose() && math.Abs(trade.BalanceAfter-(trade.BalanceBefore+trade.PnL)) > 1e-9 {
			t.Fatalf("第 %d 笔余额变化与盈亏不符: %+v", i, trade)
		}
		balance = trade.BalanceAfter
	}
	if balance != result.FinalBalance {
		t.Fatalf("最终余额 = %v, 账本末尾余额 %v", result.FinalBalance, balance)
	}
}

func TestRuleCascadeOpensAndCloses(t *testing.T) {
	// 预热后一根K线跌破布林下轨，规则级联最后命中布林带规则给出 BUY；下一根触及止盈
	candles := generateFlatCandles(100, 100)
	candles = append(candles,
		indicators.Candle{OpenTime: baseTime + 100*hourMs, Open: 100, High: 100, Low: 90, Close: 90, Volume: 1},
		indicators.Candle{OpenTime: baseTime + 101*hourMs, Open: 90, High: 94, Low: 90, Close: 94, Volume: 1},
	)

	result := runBacktest(t, candles)

	if result.Signals[0].Action != strategy.ActionBuy || result.Signals[0].Source != "rule_cascade" {
		t.Fatalf("跌破下轨时规则级联应给出 BUY: %+v", result.Signals[0])
	}
	if len(result.Trades) != 2 {
		t.Fatalf("应有一笔开仓一笔平仓, 实际 %d 笔", len(result.Trades))
	}
	open, closed := result.Trades[0], result.Trades[1]
	if open.Side != ledger.SideBuy || open.Price != 90 {
		t.Fatalf("开仓记录错误: %+v", open)
	}
	if closed.CloseReason != ledger.ReasonTakeProfit || math.Abs(closed.Price-93.6) > 1e-9 || closed.PnL <= 0 {
		t.Fatalf("应在 93.6 止盈平仓: %+v", closed)
	}
	checkBalanceChain(t, result)

	// 波动行情下规则级联的账本同样前后衔接
	checkBalanceChain(t, runBacktest(t, generateWaveCandles(600)))
}

func TestOpenPositionNotForceClosed(t *testing.T) {
	candles := generateFlatCandles(110, 100)
	result := runBacktest(t, candles, WithSignalSource(buyAt(105)))

	if len(result.Trades) != 1 || result.OpenPosition == nil {
		t.Fatalf("结束时的持仓应保留, 交易 %d 笔, 持仓 %v", len(result.Trades), result.OpenPosition)
	}
	if result.FinalBalance != result.InitialBalance || result.Report.TotalTrades != 0 {
		t.Fatalf("未平仓持仓不应计入余额和绩效")
	}
}

func TestDeterministicReplay(t *testing.T) {
	candles := generateWaveCandles(600)

	first := runBacktest(t, candles, WithRunID("run-a"))
	second := runBacktest(t, candles, WithRunID("run-a"))

	encode := func(v interface{}) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("序列化失败: %v", err)
		}
		return string(data)
	}
	if encode(first.Trades) != encode(second.Trades) {
		t.Fatalf("相同输入的交易记录应完全一致")
	}
	if encode(first.Report) != encode(second.Report) || encode(first.Signals) != encode(second.Signals) {
		t.Fatalf("相同输入的绩效和信号应完全一致")
	}
	t.Logf("✅ 两次回测一致: %d 笔交易", len(first.Trades))
}

func TestAtMostOneOpenPosition(t *testing.T) {
	always := strategy.SignalFunc(func(fs indicators.FeatureSet) strategy.Action {
		return strategy.ActionBuy
	})
	result := runBacktest(t, generateWaveCandles(400), WithSignalSource(always))

	open := false
	for i, trade := range result.Trades {
		switch trade.Side {
		case ledger.SideBuy:
			if open {
				t.Fatalf("第 %d 笔: 已有持仓时又开仓", i)
			}
			open = true
		case ledger.SideSell:
			if !open {
				t.Fatalf("第 %d 笔: 空仓时平仓", i)
			}
			open = false
		}
	}
	if len(result.Trades) == 0 {
		t.Fatalf("一直给出 BUY 时至少应开仓一次")
	}
}

func TestLookAheadFree(t *testing.T) {
	candles := generateWaveCandles(300)
	var seen []indicators.FeatureSet
	recorder := strategy.SignalFunc(func(fs indicators.FeatureSet) strategy.Action {
		seen = append(seen, fs)
		return strategy.ActionHold
	})
	runBacktest(t, candles, WithSignalSource(recorder))

	for _, i := range []int{100, 150, 299} {
		want := indicators.ComputeFeatureSet(candles[:i+1])
		got := seen[i-WarmupBars]
		if got.Index != i || got.RSI != want.RSI || got.MACD != want.MACD || got.BBUpper != want.BBUpper {
			t.Fatalf("第 %d 根K线的指标与只用前缀计算的结果不同", i)
		}
	}
}

func TestInsufficientData(t *testing.T) {
	_, err := NewBacktester(testConfig(), generateFlatCandles(99, 100)).Run(context.Background())
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) || !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("少于 100 根K线应返回 InsufficientDataError, 实际 %v", err)
	}
	if insufficient.Have != 99 || insufficient.Need != MinCandles {
		t.Fatalf("错误信息不正确: %+v", insufficient)
	}

	// 日期过滤之后不足
	cfg := testConfig()
	start := time.UnixMilli(baseTime + 50*hourMs)
	cfg.StartDate = &start
	if _, err := NewBacktester(cfg, generateFlatCandles(120, 100)).Run(context.Background()); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("过滤后不足 100 根应失败, 实际 %v", err)
	}
}

func TestInvalidParameters(t *testing.T) {
	cases := map[string]func(*RunConfig){
		"initial_balance": func(c *RunConfig) { c.InitialBalance = 0 },
		"risk_per_trade":  func(c *RunConfig) { c.RiskPerTrade = 1.5 },
		"stop_loss_pct":   func(c *RunConfig) { c.StopLossPct = 0 },
		"take_profit_pct": func(c *RunConfig) { c.TakeProfitPct = math.NaN() },
		"symbol":          func(c *RunConfig) { c.Symbol = " " },
		"interval":        func(c *RunConfig) { c.Interval = "7m" },
	}
	for field, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		_, err := NewBacktester(cfg, generateFlatCandles(120, 100)).Run(context.Background())
		var invalid *InvalidParameterError
		if !errors.As(err, &invalid) || invalid.Field != field {
			t.Fatalf("%s 非法时应返回 InvalidParameterError, 实际 %v", field, err)
		}
	}
}

func TestInvalidCandlesRejected(t *testing.T) {
	candles := generateFlatCandles(120, 100)
	candles[50].OpenTime = candles[49].OpenTime
	if _, err := NewBacktester(testConfig(), candles).Run(context.Background()); !errors.Is(err, ErrInvalidCandles) {
		t.Fatalf("时间戳重复应被拒绝, 实际 %v", err)
	}
}

func TestNumericFaultAborts(t *testing.T) {
	// 有限但极大的价格会让均线求和溢出
	candles := generateFlatCandles(120, math.MaxFloat64/4)
	_, err := NewBacktester(testConfig(), candles).Run(context.Background())
	var fault *NumericFaultError
	if !errors.As(err, &fault) || !errors.Is(err, ErrNumericFault) {
		t.Fatalf("指标溢出应中止回测, 实际 %v", err)
	}
	if fault.Index != WarmupBars || fault.Field == "" {
		t.Fatalf("应在第一根回放K线中止: %+v", fault)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBacktester(testConfig(), generateFlatCandles(200, 100)).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
	}
}

func TestObserverEvents(t *testing.T) {
	counts := make(map[EventType]int)
	var runIDs []string
	observer := ObserverFunc(func(e Event) {
		counts[e.Type]++
		runIDs = append(runIDs, e.RunID)
	})

	candles := generateFlatCandles(100, 100)
	candles = append(candles,
		indicators.Candle{OpenTime: baseTime + 100*hourMs, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		indicators.Candle{OpenTime: baseTime + 101*hourMs, Open: 100, High: 110, Low: 100, Close: 110, Volume: 1},
	)
	runBacktest(t, candles, WithSignalSource(buyAt(100)), WithObserver(observer), WithRunID("observed"))

	if counts[EventStart] != 1 || counts[EventDone] != 1 || counts[EventFill] != 2 {
		t.Fatalf("事件数量错误: %v", counts)
	}
	for _, id := range runIDs {
		if id != "observed" {
			t.Fatalf("事件应携带运行 ID, 实际 %q", id)
		}
	}
}

func TestFilterByDate(t *testing.T) {
	candles := generateFlatCandles(10, 1)
	start := time.UnixMilli(candles[2].OpenTime)
	end := time.UnixMilli(candles[5].OpenTime)
	got := FilterByDate(candles, &start, &end)
	if len(got) != 4 || got[0].OpenTime != candles[2].OpenTime || got[3].OpenTime != candles[5].OpenTime {
		t.Fatalf("日期过滤应为闭区间, 实际 %d 根", len(got))
	}
	if len(FilterByDate(candles, nil, nil)) != 10 {
		t.Fatalf("不指定日期时不应过滤")
	}
}

func TestReportGeneration(t *testing.T) {
	candles := generateFlatCandles(100, 100)
	candles = append(candles,
		indicators.Candle{OpenTime: baseTime + 100*hourMs, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		indicators.Candle{OpenTime: baseTime + 101*hourMs, Open: 100, High: 110, Low: 100, Close: 110, Volume: 1},
	)
	result := runBacktest(t, candles, WithSignalSource(buyAt(100)), WithRunID("report"))

	dir := t.TempDir()
	path, err := GenerateReport(result, dir, "en-US")
	if err != nil {
		t.Fatalf("生成报告失败: %v", err)
	}
	if filepath.Base(path) != "BTCUSDT_report.md" {
		t.Fatalf("报告文件名错误: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取报告失败: %v", err)
	}
	content := string(data)
	for _, want := range []string{"Backtest Report", "Win rate", "TAKE_PROFIT", "∞"} {
		if !strings.Contains(content, want) {
			t.Fatalf("报告缺少 %q:\n%s", want, content)
		}
	}

	zh, err := RenderReport(result, "zh-CN")
	if err != nil || !strings.Contains(zh, "胜率") {
		t.Fatalf("中文报告渲染失败: %v", err)
	}

	csvPath, err := SaveBalanceCurveCSV(result, dir)
	if err != nil {
		t.Fatalf("保存余额曲线失败: %v", err)
	}
	lines, _ := os.ReadFile(csvPath)
	if got := strings.Count(string(lines), "\n"); got != len(result.BalanceCurve)+1 {
		t.Fatalf("余额曲线行数 = %d, 期望 %d", got, len(result.BalanceCurve)+1)
	}
}

func TestRiskMetrics(t *testing.T) {
	if m := CalculateRiskMetrics(nil); m != (RiskMetrics{}) {
		t.Fatalf("空曲线风险指标应为 0")
	}
	curve := []ledger.BalancePoint{{Timestamp: 0, Balance: 100}, {Timestamp: 1, Balance: 90}, {Timestamp: 2, Balance: 99}, {Timestamp: 3, Balance: 99}}
	m := CalculateRiskMetrics(curve)
	if math.Abs(m.VaR95-10) > 1e-9 || math.Abs(m.CVaR95-10) > 1e-9 {
		t.Fatalf("VaR/CVaR = %v / %v, 期望 10 / 10", m.VaR95, m.CVaR95)
	}
}
