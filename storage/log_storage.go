package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"quantsim/utils"
)

const (
	logBatchSize     = 100
	logFlushInterval = time.Second
)

// LogStorage 日志持久化，异步批量写入
type LogStorage struct {
	db     *sql.DB
	mu     sync.RWMutex
	logCh  chan logEntry
	done   chan struct{}
	closed bool
}

type logEntry struct {
	level     string
	message   string
	timestamp time.Time
}

// LogQueryParams 日志查询参数
type LogQueryParams struct {
	StartTime time.Time
	EndTime   time.Time
	Level     string
	Keyword   string
	Limit     int
	Offset    int
}

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// NewLogStorage 创建日志存储
func NewLogStorage(path string) (*LogStorage, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建日志表失败: %w", err)
	}

	ls := &LogStorage{
		db:    db,
		logCh: make(chan logEntry, 500),
		done:  make(chan struct{}),
	}
	go ls.processLogs()
	return ls, nil
}

// WriteLog 写入日志（异步，队列满时丢弃）
func (ls *LogStorage) WriteLog(level, message string) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.closed {
		return
	}

	select {
	case ls.logCh <- logEntry{level: level, message: message, timestamp: utils.NowUTC()}:
	default:
	}
}

// processLogs 后台协程：攒批或定时刷新
func (ls *LogStorage) processLogs() {
	defer close(ls.done)

	buffer := make([]logEntry, 0, logBatchSize)
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		// 写入失败时丢弃，不能再写日志，否则会递归
		_ = ls.batchInsert(buffer)
		buffer = buffer[:0]
	}

	for {
		select {
		case entry, ok := <-ls.logCh:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, entry)
			if len(buffer) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (ls *LogStorage) batchInsert(entries []logEntry) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO logs (timestamp, level, message) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(entry.timestamp, entry.level, entry.message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetLogs 查询日志，返回记录和总数
func (ls *LogStorage) GetLogs(params LogQueryParams) ([]*LogRecord, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if !params.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, params.StartTime)
	}
	if !params.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, params.EndTime)
	}
	if params.Level != "" {
		where = append(where, "level = ?")
		args = append(args, strings.ToUpper(params.Level))
	}
	if params.Keyword != "" {
		where = append(where, "message LIKE ?")
		args = append(args, "%"+params.Keyword+"%")
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := ls.db.QueryRow("SELECT COUNT(*) FROM logs WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("查询日志总数失败: %w", err)
	}

	if params.Limit <= 0 {
		params.Limit = 100
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}
	args = append(args, params.Limit, params.Offset)

	rows, err := ls.db.Query(`
		SELECT id, timestamp, level, message
		FROM logs
		WHERE `+whereClause+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	var logs []*LogRecord
	for rows.Next() {
		var rec LogRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Level, &rec.Message); err != nil {
			return nil, 0, fmt.Errorf("读取日志失败: %w", err)
		}
		logs = append(logs, &rec)
	}
	return logs, total, rows.Err()
}

// CleanOldLogs 清理超过指定天数的日志，返回删除条数
func (ls *LogStorage) CleanOldLogs(days int) (int64, error) {
	cutoff := utils.NowUTC().AddDate(0, 0, -days)
	result, err := ls.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理日志失败: %w", err)
	}
	return result.RowsAffected()
}

// Close 写完队列中的日志后关闭
func (ls *LogStorage) Close() error {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil
	}
	ls.closed = true
	close(ls.logCh)
	ls.mu.Unlock()

	<-ls.done
	return ls.db.Close()
}
