// Package backtest 逐根K线回放的回测驱动
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantsim/indicators"
	"quantsim/ledger"
	"quantsim/logger"
	"quantsim/metrics"
	"quantsim/position"
	"quantsim/strategy"
)

const (
	// MinCandles 日期过滤后至少需要的K线数量
	MinCandles = 100
	// WarmupBars 从该下标开始回放，之前的K线只用于指标预热
	WarmupBars = 100
	// progressEvery 每回放多少根K线输出一次进度
	progressEvery = 10000
)

// EventType 回测事件类型
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventFill     EventType = "fill"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event 回测过程中的事件，推送给观察者（例如 WebSocket）
type Event struct {
	RunID    string                    `json:"run_id"`
	Type     EventType                 `json:"type"`
	Symbol   string                    `json:"symbol"`
	Index    int                       `json:"index,omitempty"`
	Total    int                       `json:"total,omitempty"`
	Progress float64                   `json:"progress,omitempty"` // 0~100
	Balance  float64                   `json:"balance,omitempty"`
	Trade    *ledger.TradeRecord       `json:"trade,omitempty"`
	Report   *ledger.PerformanceReport `json:"report,omitempty"`
	Message  string                    `json:"message,omitempty"`
}

// Observer 回测事件观察者，在回放协程内同步调用
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc 函数形式的观察者
type ObserverFunc func(Event)

// OnEvent 实现 Observer
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

// BacktestResult 回测结果
type BacktestResult struct {
	// 基本信息
	RunID     string `json:"run_id"`
	Symbol    string `json:"symbol"`
	Interval  string `json:"interval"`
	Strategy  string `json:"strategy"`
	StartTime int64  `json:"start_time"` // 第一根回放K线的开盘时间（毫秒）
	EndTime   int64  `json:"end_time"`

	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"` // 已实现余额，不含持仓浮动盈亏
	ProfitLoss     float64 `json:"profit_loss"`
	ProfitLossPct  float64 `json:"profit_loss_pct"`

	// 交易与信号记录
	Trades  []ledger.TradeRecord `json:"trades"`
	Signals []strategy.Signal    `json:"signals"`

	// 指标
	Report       ledger.PerformanceReport `json:"report"`
	FIFO         ledger.FIFOSummary       `json:"fifo"`
	RiskMetrics  RiskMetrics              `json:"risk_metrics"`
	BalanceCurve []ledger.BalancePoint    `json:"balance_curve"`

	// 回测结束时仍未平仓的持仓，仅供参考
	OpenPosition  *position.Position `json:"open_position,omitempty"`
	BarsProcessed int                `json:"bars_processed"`
	Success       bool               `json:"success"`
}

// Backtester 单次回测的运行上下文，不同实例之间没有共享状态
type Backtester struct {
	cfg      RunConfig
	candles  []indicators.Candle
	source   strategy.SignalSource
	observer Observer
	runID    string
	metrics  *metrics.PrometheusMetrics
}

// Option 回测选项
type Option func(*Backtester)

// WithSignalSource 替换默认的规则级联信号源
func WithSignalSource(source strategy.SignalSource) Option {
	return func(bt *Backtester) {
		if source != nil {
			bt.source = source
		}
	}
}

// WithObserver 注册事件观察者
func WithObserver(observer Observer) Option {
	return func(bt *Backtester) {
		bt.observer = observer
	}
}

// WithRunID 指定运行 ID（默认随机 UUID）
func WithRunID(id string) Option {
	return func(bt *Backtester) {
		if id != "" {
			bt.runID = id
		}
	}
}

// NewBacktester 创建回测器
func NewBacktester(cfg RunConfig, candles []indicators.Candle, opts ...Option) *Backtester {
	bt := &Backtester{
		cfg:     cfg,
		candles: candles,
		source:  strategy.NewRuleCascade(),
		runID:   uuid.NewString(),
		metrics: metrics.GetPrometheusMetrics(),
	}
	for _, opt := range opts {
		opt(bt)
	}
	return bt
}

// RunID 运行 ID
func (bt *Backtester) RunID() string {
	return bt.runID
}

// Run 运行回测
func (bt *Backtester) Run(ctx context.Context) (*BacktestResult, error) {
	started := time.Now()
	result, err := bt.run(ctx)
	bt.metrics.RecordRun(bt.cfg.Symbol, bt.cfg.Interval, err == nil, time.Since(started))
	if err != nil {
		logger.Error("❌ 回测失败 [%s]: %v", bt.runID, err)
		bt.emit(Event{Type: EventError, Message: err.Error()})
		return nil, err
	}

	bt.metrics.AddBarsProcessed(bt.cfg.Symbol, result.BarsProcessed)
	bt.metrics.SetRunResult(bt.cfg.Symbol, result.FinalBalance, result.Report.WinRate)
	logger.Info("✅ 回测完成 [%s]: %d 笔交易, 最终余额 %.2f (%.2f%%), 耗时 %v",
		bt.runID, len(result.Trades), result.FinalBalance, result.ProfitLossPct, time.Since(started))
	bt.emit(Event{Type: EventDone, Balance: result.FinalBalance, Report: &result.Report})
	return result, nil
}

func (bt *Backtester) run(ctx context.Context) (*BacktestResult, error) {
	if err := bt.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := indicators.ValidateSeries(bt.candles); err != nil {
		return nil, err
	}

	candles := FilterByDate(bt.candles, bt.cfg.StartDate, bt.cfg.EndDate)
	if len(candles) < MinCandles {
		return nil, &InsufficientDataError{Have: len(candles), Need: MinCandles}
	}

	total := len(candles) - WarmupBars
	logger.Info("🚀 开始回测 [%s]: %s %s, %s 策略, %d 根K线 (回放 %d 根)",
		bt.runID, bt.cfg.Symbol, bt.cfg.Interval, bt.source.Name(), len(candles), total)
	bt.emit(Event{Type: EventStart, Total: total, Balance: bt.cfg.InitialBalance})

	frame := indicators.BuildFeatureFrame(candles)
	manager := position.NewManager(bt.cfg.Symbol, bt.cfg.InitialBalance, bt.cfg.RiskParams())
	book := ledger.New()
	signals := make([]strategy.Signal, 0, total)
	curve := make([]ledger.BalancePoint, 0, total+1)
	curve = append(curve, ledger.BalancePoint{
		Timestamp: candles[WarmupBars-1].OpenTime,
		Balance:   bt.cfg.InitialBalance,
	})

	for i := WarmupBars; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("回测已取消: %w", err)
		}

		// 1. 指标
		fs := frame.At(i)
		if bad, ok := fs.FirstNonFinite(); ok {
			value, _ := bad.Value.Float()
			return nil, &NumericFaultError{Index: i, Field: bad.Name, Value: value}
		}

		// 2. 信号
		sig, err := strategy.NewSignal(bt.source.Evaluate(fs), fs, bt.source.Name())
		if err != nil {
			return nil, fmt.Errorf("第 %d 根K线生成信号失败: %w", i, err)
		}
		signals = append(signals, sig)

		// 3. 持仓状态转换
		record, err := manager.OnBar(candles[i], sig)
		if err != nil {
			return nil, &NumericFaultError{Index: i, Field: "balance", Value: manager.Balance(), Err: err}
		}

		// 4. 记账
		if record != nil {
			if err := book.Append(*record); err != nil {
				return nil, &NumericFaultError{Index: i, Field: "trade", Value: record.Price, Err: err}
			}
			bt.metrics.RecordFill(record.Symbol, string(record.Side), string(record.CloseReason), record.PnL)
			bt.emit(Event{Type: EventFill, Index: i, Balance: manager.Balance(), Trade: record})
		}
		curve = append(curve, ledger.BalancePoint{Timestamp: candles[i].OpenTime, Balance: manager.Balance()})

		if done := i - WarmupBars + 1; done%progressEvery == 0 {
			progress := float64(done) / float64(total) * 100
			logger.Info("⏳ 回测进度: %.1f%%", progress)
			bt.emit(Event{Type: EventProgress, Index: i, Total: total, Progress: progress, Balance: manager.Balance()})
		}
	}

	return bt.buildResult(candles, manager, book, signals, curve)
}

func (bt *Backtester) buildResult(
	candles []indicators.Candle,
	manager *position.Manager,
	book *ledger.Ledger,
	signals []strategy.Signal,
	curve []ledger.BalancePoint,
) (*BacktestResult, error) {
	trades := book.Records()
	final := manager.Balance()
	if !isFinite(final) {
		return nil, &NumericFaultError{Index: len(candles) - 1, Field: "final_balance", Value: final}
	}

	result := &BacktestResult{
		RunID:          bt.runID,
		Symbol:         bt.cfg.Symbol,
		Interval:       bt.cfg.Interval,
		Strategy:       bt.source.Name(),
		InitialBalance: bt.cfg.InitialBalance,
		FinalBalance:   final,
		ProfitLoss:     final - bt.cfg.InitialBalance,
		ProfitLossPct:  (final - bt.cfg.InitialBalance) / bt.cfg.InitialBalance * 100,
		Trades:         trades,
		Signals:        signals,
		Report:         ledger.CalculatePerformance(trades, curve),
		FIFO:           ledger.MatchFIFO(trades),
		RiskMetrics:    CalculateRiskMetrics(curve),
		BalanceCurve:   curve,
		BarsProcessed:  len(candles) - WarmupBars,
		Success:        true,
	}
	if len(candles) > WarmupBars {
		result.StartTime = candles[WarmupBars].OpenTime
		result.EndTime = candles[len(candles)-1].OpenTime
	}
	if pos, ok := manager.Position(); ok {
		result.OpenPosition = &pos
		logger.Info("📊 回测结束时仍有持仓 (入场价 %.4f, 数量 %.6f)，不计入已实现盈亏", pos.EntryPrice, pos.Size)
	}
	return result, nil
}

func (bt *Backtester) emit(e Event) {
	if bt.observer == nil {
		return
	}
	e.RunID = bt.runID
	e.Symbol = bt.cfg.Symbol
	bt.observer.OnEvent(e)
}
