package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"quantsim/indicators"
	"quantsim/logger"
)

const cacheIndexFile = "cache_index.json"

// CacheIndexEntry 缓存索引条目
type CacheIndexEntry struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Candles  int       `json:"candles"`
	SizeMB   float64   `json:"size_mb"`
	Created  time.Time `json:"created"`
}

// CacheInfo 缓存信息
type CacheInfo struct {
	Name string `json:"name"`
	CacheIndexEntry
}

// CacheStats 缓存统计
type CacheStats struct {
	FileCount int     `json:"file_count"`
	TotalSize int64   `json:"total_size"`
	SizeMB    float64 `json:"size_mb"`
}

// CandleCache K线 CSV 缓存，每个键一个文件，外加 JSON 索引
type CandleCache struct {
	dir string
	mu  sync.Mutex
}

// NewCandleCache 创建K线缓存
func NewCandleCache(dir string) *CandleCache {
	if dir == "" {
		dir = filepath.Join("data", "cache")
	}
	return &CandleCache{dir: dir}
}

// Dir 缓存目录
func (c *CandleCache) Dir() string {
	return c.dir
}

// CandleCacheKey 生成缓存键，格式: BTCUSDT_1h_2023-01-01_2023-06-30
func CandleCacheKey(symbol, interval string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", symbol, interval, start.UTC().Format(time.DateOnly), end.UTC().Format(time.DateOnly))
}

func (c *CandleCache) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", &InvalidParameterError{Field: "key", Value: key, Reason: "非法缓存键"}
	}
	return filepath.Join(c.dir, key+".csv"), nil
}

// Load 读取缓存的K线
func (c *CandleCache) Load(key string) ([]indicators.Candle, error) {
	filename, err := c.path(key)
	if err != nil {
		return nil, err
	}
	candles, err := readCandleFile(filename)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("缓存文件为空: %s", key)
	}
	return candles, nil
}

// Save 写入缓存并更新索引
func (c *CandleCache) Save(key, symbol, interval string, start, end time.Time, candles []indicators.Candle) error {
	filename, err := c.path(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("创建缓存目录失败: %w", err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("创建缓存文件失败: %w", err)
	}
	if err := writeCandleCSV(file, candles); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("关闭缓存文件失败: %w", err)
	}

	var sizeMB float64
	if info, err := os.Stat(filename); err == nil {
		sizeMB = float64(info.Size()) / 1024 / 1024
	}

	index, err := c.readIndex()
	if err != nil {
		logger.Warn("⚠️ 缓存索引损坏，重建: %v", err)
		index = make(map[string]CacheIndexEntry)
	}
	index[key] = CacheIndexEntry{
		Symbol:   symbol,
		Interval: interval,
		Start:    start,
		End:      end,
		Candles:  len(candles),
		SizeMB:   sizeMB,
		Created:  time.Now(),
	}
	return c.writeIndex(index)
}

// List 列出所有缓存，按名称排序
func (c *CandleCache) List() ([]CacheInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.readIndex()
	if err != nil {
		return nil, err
	}
	caches := make([]CacheInfo, 0, len(index))
	for name, entry := range index {
		caches = append(caches, CacheInfo{Name: name, CacheIndexEntry: entry})
	}
	sort.Slice(caches, func(i, j int) bool { return caches[i].Name < caches[j].Name })
	return caches, nil
}

// Delete 删除指定缓存
func (c *CandleCache) Delete(key string) error {
	filename, err := c.path(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除缓存文件失败: %w", err)
	}
	index, err := c.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[key]; !ok {
		return nil
	}
	delete(index, key)
	return c.writeIndex(index)
}

// Clear 清理所有缓存
func (c *CandleCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("清理缓存失败: %w", err)
	}
	return nil
}

// Stats 获取缓存统计
func (c *CandleCache) Stats() (CacheStats, error) {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.csv"))
	if err != nil {
		return CacheStats{}, fmt.Errorf("读取缓存目录失败: %w", err)
	}

	var totalSize int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		totalSize += info.Size()
	}
	return CacheStats{
		FileCount: len(files),
		TotalSize: totalSize,
		SizeMB:    float64(totalSize) / 1024 / 1024,
	}, nil
}

// CleanOld 清理创建时间早于 days 天前的缓存，返回删除数量
func (c *CandleCache) CleanOld(days int) (int, error) {
	if days < 0 {
		return 0, &InvalidParameterError{Field: "days", Value: days, Reason: "天数不能为负"}
	}
	caches, err := c.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted := 0
	for _, cache := range caches {
		if !cache.Created.Before(cutoff) {
			continue
		}
		if err := c.Delete(cache.Name); err != nil {
			return deleted, fmt.Errorf("删除过期缓存 %s 失败: %w", cache.Name, err)
		}
		deleted++
	}
	if deleted > 0 {
		logger.Info("✅ 已清理 %d 个过期缓存", deleted)
	}
	return deleted, nil
}

// readIndex 读取索引，调用前必须持有 c.mu
func (c *CandleCache) readIndex() (map[string]CacheIndexEntry, error) {
	index := make(map[string]CacheIndexEntry)
	data, err := os.ReadFile(filepath.Join(c.dir, cacheIndexFile))
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取缓存索引失败: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("解析缓存索引失败: %w", err)
	}
	return index, nil
}

// writeIndex 写入索引，调用前必须持有 c.mu
func (c *CandleCache) writeIndex(index map[string]CacheIndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, cacheIndexFile), data, 0644)
}
