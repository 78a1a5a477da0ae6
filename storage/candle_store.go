// Package storage 本地 SQLite 存储：K线库与持久化日志
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quantsim/indicators"
	"quantsim/logger"
)

// SeriesInfo 已存储的K线序列
type SeriesInfo struct {
	Symbol    string `json:"symbol"`
	Interval  string `json:"interval"`
	Count     int64  `json:"count"`
	FirstOpen int64  `json:"first_open_time"`
	LastOpen  int64  `json:"last_open_time"`
}

// CandleStore SQLite K线库，可作为回测数据源
type CandleStore struct {
	db *sql.DB
}

// openSQLite 打开 SQLite 文件（WAL 模式，单连接）
func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}
	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite 并发限制
	db.SetMaxIdleConns(1)
	return db, nil
}

// NewCandleStore 创建K线库
func NewCandleStore(path string) (*CandleStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, interval, open_time)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建K线表失败: %w", err)
	}
	return &CandleStore{db: db}, nil
}

// SaveCandles 写入K线，相同 open_time 覆盖
func (s *CandleStore) SaveCandles(ctx context.Context, symbol, interval string, candles []indicators.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, interval, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备语句失败: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, interval, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("写入K线失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	logger.Debug("💾 写入K线库: %s %s %d 根", symbol, interval, len(candles))
	return nil
}

// GetCandles 按时间范围读取K线（升序，两端包含）
func (s *CandleStore) GetCandles(ctx context.Context, symbol, interval string, start, end *time.Time) ([]indicators.Candle, error) {
	query := `SELECT open_time, open, high, low, close, volume FROM candles WHERE symbol = ? AND interval = ?`
	args := []interface{}{symbol, interval}
	if start != nil {
		query += " AND open_time >= ?"
		args = append(args, start.UnixMilli())
	}
	if end != nil {
		query += " AND open_time <= ?"
		args = append(args, end.UnixMilli())
	}
	query += " ORDER BY open_time ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询K线失败: %w", err)
	}
	defer rows.Close()

	var candles []indicators.Candle
	for rows.Next() {
		var c indicators.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("读取K线失败: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取K线失败: %w", err)
	}
	logger.Info("📂 从K线库加载: %s %s (%d 根K线)", symbol, interval, len(candles))
	return candles, nil
}

// ListSeries 列出已存储的序列
func (s *CandleStore) ListSeries(ctx context.Context) ([]SeriesInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, interval, COUNT(*), MIN(open_time), MAX(open_time)
		FROM candles
		GROUP BY symbol, interval
		ORDER BY symbol, interval
	`)
	if err != nil {
		return nil, fmt.Errorf("查询K线序列失败: %w", err)
	}
	defer rows.Close()

	var series []SeriesInfo
	for rows.Next() {
		var info SeriesInfo
		if err := rows.Scan(&info.Symbol, &info.Interval, &info.Count, &info.FirstOpen, &info.LastOpen); err != nil {
			return nil, fmt.Errorf("读取K线序列失败: %w", err)
		}
		series = append(series, info)
	}
	return series, rows.Err()
}

// Close 关闭数据库
func (s *CandleStore) Close() error {
	return s.db.Close()
}
