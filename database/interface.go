// Package database 回测结果持久化（GORM，支持 sqlite/postgres/mysql）
package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// Database 数据库接口
type Database interface {
	// 回测运行
	SaveRun(ctx context.Context, run *BacktestRun, trades []*TradeRow, signals []*SignalRow) error
	GetRun(ctx context.Context, id string) (*BacktestRun, error)
	ListRuns(ctx context.Context, filter *RunFilter) ([]*BacktestRun, int64, error)

	// 成交记录
	GetTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRow, error)
	GetAllTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRow, error)
	GetTradeSummary(ctx context.Context, filter *TradeFilter) (*TradeSummary, error)

	// 信号记录
	GetSignals(ctx context.Context, runID string) ([]*SignalRow, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// BacktestRun 一次回测运行
type BacktestRun struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Symbol         string    `gorm:"index:idx_run_symbol_time;size:50" json:"symbol"`
	Interval       string    `gorm:"size:10" json:"interval"`
	Strategy       string    `gorm:"size:50" json:"strategy"`
	StartTime      int64     `json:"start_time"`
	EndTime        int64     `json:"end_time"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	ProfitLoss     float64   `json:"profit_loss"`
	ProfitLossPct  float64   `json:"profit_loss_pct"`
	TotalTrades    int       `json:"total_trades"`
	WinRate        float64   `json:"win_rate"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	BarsProcessed  int       `json:"bars_processed"`
	ResultJSON     string    `gorm:"type:text" json:"-"` // 完整结果（含余额曲线）
	CreatedAt      time.Time `gorm:"index:idx_run_symbol_time" json:"created_at"`
}

// TableName 表名
func (BacktestRun) TableName() string { return "backtest_runs" }

// TradeRow 成交记录
type TradeRow struct {
	ID            int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID         string  `gorm:"index;size:36" json:"run_id"`
	Seq           int     `json:"seq"`
	Timestamp     int64   `gorm:"index:idx_trade_symbol_time" json:"timestamp"`
	Symbol        string  `gorm:"index:idx_trade_symbol_time;size:50" json:"symbol"`
	Side          string  `gorm:"size:10" json:"side"` // BUY, SELL
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
	Value         float64 `json:"value"`
	BalanceBefore float64 `json:"balance_before"`
	BalanceAfter  float64 `json:"balance_after"`
	PnL           float64 `gorm:"column:pnl" json:"pnl"`
	PnLPct        float64 `gorm:"column:pnl_pct" json:"pnl_pct"`
	CloseReason   string  `gorm:"size:20" json:"close_reason,omitempty"`
}

// TableName 表名
func (TradeRow) TableName() string { return "backtest_trades" }

// SignalRow 信号记录
type SignalRow struct {
	ID       int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID    string  `gorm:"index;size:36" json:"run_id"`
	OpenTime int64   `json:"open_time"`
	Action   string  `gorm:"size:10" json:"action"`
	Price    float64 `json:"price"`
	Source   string  `gorm:"size:50" json:"source"`
}

// TableName 表名
func (SignalRow) TableName() string { return "backtest_signals" }

// TradeSummary 成交统计
type TradeSummary struct {
	TotalTrades      int64   `json:"total_trades"`
	TotalVolume      float64 `json:"total_volume"`
	TotalValue       float64 `json:"total_value"`
	BuyCount         int64   `json:"buy_count"`
	SellCount        int64   `json:"sell_count"`
	AverageTradeSize float64 `json:"average_trade_size"`
	SymbolsTraded    int64   `json:"symbols_traded"`
	RealizedPnL      float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
}

// 过滤器

// RunFilter 回测运行过滤器
type RunFilter struct {
	Symbol string
	Limit  int
	Offset int
}

// TradeFilter 成交记录过滤器
type TradeFilter struct {
	RunID     string
	Symbol    string
	Side      string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// 分页限制
const (
	DefaultLimit = 100
	MaxLimit     = 1000
	batchSize    = 500
)

// normalizeLimit 将 limit 限制在 1..MaxLimit，0 使用默认值
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
