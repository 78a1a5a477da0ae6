package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// Config 数据库配置
type Config struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewDatabase 根据配置创建数据库实例
func NewDatabase(config *Config) (Database, error) {
	return NewGormDatabase(config)
}

// NewGormDatabase 创建 GORM 数据库实例并自动迁移
func NewGormDatabase(config *Config) (*GormDatabase, error) {
	var dialector gorm.Dialector
	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", config.Type)
	}

	logLevel := gormlogger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 sql.DB 失败: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&BacktestRun{}, &TradeRow{}, &SignalRow{}); err != nil {
		return nil, fmt.Errorf("自动迁移失败: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// SaveRun 在一个事务中保存运行、成交和信号
func (g *GormDatabase) SaveRun(ctx context.Context, run *BacktestRun, trades []*TradeRow, signals []*SignalRow) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("保存回测运行失败: %w", err)
		}
		if len(trades) > 0 {
			if err := tx.CreateInBatches(trades, 100).Error; err != nil {
				return fmt.Errorf("保存成交记录失败: %w", err)
			}
		}
		if len(signals) > 0 {
			if err := tx.CreateInBatches(signals, 500).Error; err != nil {
				return fmt.Errorf("保存信号记录失败: %w", err)
			}
		}
		return nil
	})
}

// GetRun 获取一次回测运行
func (g *GormDatabase) GetRun(ctx context.Context, id string) (*BacktestRun, error) {
	var run BacktestRun
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: 回测 %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns 列出回测运行（最新的在前），返回记录和总数
func (g *GormDatabase) ListRuns(ctx context.Context, filter *RunFilter) ([]*BacktestRun, int64, error) {
	if filter == nil {
		filter = &RunFilter{}
	}
	query := func() *gorm.DB {
		q := g.db.WithContext(ctx).Model(&BacktestRun{})
		if filter.Symbol != "" {
			q = q.Where("symbol = ?", filter.Symbol)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []*BacktestRun
	err := query().Omit("result_json").
		Order("created_at DESC").
		Limit(normalizeLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// tradeQuery 应用成交过滤条件
func (g *GormDatabase) tradeQuery(ctx context.Context, filter *TradeFilter) *gorm.DB {
	query := g.db.WithContext(ctx).Model(&TradeRow{})
	if filter == nil {
		return query
	}
	if filter.RunID != "" {
		query = query.Where("run_id = ?", filter.RunID)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Side != "" {
		query = query.Where("side = ?", filter.Side)
	}
	if filter.StartTime != nil {
		query = query.Where("timestamp >= ?", filter.StartTime.UnixMilli())
	}
	if filter.EndTime != nil {
		query = query.Where("timestamp <= ?", filter.EndTime.UnixMilli())
	}
	return query
}

// GetTrades 获取成交记录（最新的在前）
func (g *GormDatabase) GetTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRow, error) {
	limit, offset := DefaultLimit, 0
	if filter != nil {
		limit, offset = normalizeLimit(filter.Limit), filter.Offset
	}

	var trades []*TradeRow
	err := g.tradeQuery(ctx, filter).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// GetAllTrades 按时间升序分批读取全部匹配的成交，忽略 limit/offset
func (g *GormDatabase) GetAllTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRow, error) {
	var all []*TradeRow
	var batch []*TradeRow
	// FindInBatches 按主键翻页，时间顺序在内存中排
	err := g.tradeQuery(ctx, filter).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			all = append(all, batch...)
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp < all[j].Timestamp
	})
	return all, nil
}

// GetTradeSummary 成交统计（忽略 limit/offset）
func (g *GormDatabase) GetTradeSummary(ctx context.Context, filter *TradeFilter) (*TradeSummary, error) {
	var summary TradeSummary
	err := g.tradeQuery(ctx, filter).Select(`
		COUNT(*) AS total_trades,
		COALESCE(SUM(quantity), 0) AS total_volume,
		COALESCE(SUM(value), 0) AS total_value,
		COALESCE(SUM(CASE WHEN side = 'BUY' THEN 1 ELSE 0 END), 0) AS buy_count,
		COALESCE(SUM(CASE WHEN side = 'SELL' THEN 1 ELSE 0 END), 0) AS sell_count,
		COUNT(DISTINCT symbol) AS symbols_traded,
		COALESCE(SUM(pnl), 0) AS realized_pnl
	`).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	if summary.TotalTrades > 0 {
		summary.AverageTradeSize = summary.TotalValue / float64(summary.TotalTrades)
	}
	return &summary, nil
}

// GetSignals 获取一次运行的信号（按时间升序）
func (g *GormDatabase) GetSignals(ctx context.Context, runID string) ([]*SignalRow, error) {
	var signals []*SignalRow
	err := g.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("open_time ASC").
		Find(&signals).Error
	if err != nil {
		return nil, err
	}
	return signals, nil
}

// Ping 检查连接
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
