package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"quantsim/indicators"
	"quantsim/logger"
)

// CandleProvider 历史K线数据源
// 返回按 open_time 升序、无重复时间戳的K线
type CandleProvider interface {
	GetCandles(ctx context.Context, symbol, interval string, start, end *time.Time) ([]indicators.Candle, error)
}

// candleColumns K线文件必需的列
var candleColumns = []string{"open_time", "open", "high", "low", "close", "volume"}

// CSVProvider 从目录下的 <symbol>_<interval>.csv 读取K线
type CSVProvider struct {
	Dir string
}

// NewCSVProvider 创建 CSV 数据源
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir}
}

// GetCandles 实现 CandleProvider
func (p *CSVProvider) GetCandles(ctx context.Context, symbol, interval string, start, end *time.Time) ([]indicators.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename := filepath.Join(p.Dir, fmt.Sprintf("%s_%s.csv", symbol, interval))
	candles, err := readCandleFile(filename)
	if err != nil {
		return nil, err
	}
	logger.Info("📂 从 CSV 加载: %s (%d 根K线)", filename, len(candles))
	return FilterByDate(candles, start, end), nil
}

func readCandleFile(filename string) ([]indicators.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("打开K线文件失败: %w", err)
	}
	defer file.Close()
	return readCandleCSV(file)
}

// readCandleCSV 按表头列名解析K线，列的顺序不限
func readCandleCSV(r io.Reader) ([]indicators.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &InsufficientDataError{Need: MinCandles, Missing: candleColumns}
	}
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range candleColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &InsufficientDataError{Need: MinCandles, Missing: missing}
	}

	candles := make([]indicators.Candle, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取第 %d 行失败: %w", line, err)
		}
		candle, err := parseCSVRecord(record, columns)
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 行失败: %w", line, err)
		}
		candles = append(candles, candle)
	}
	return normalizeCandles(candles), nil
}

// parseCSVRecord 解析一行K线
func parseCSVRecord(record []string, columns map[string]int) (indicators.Candle, error) {
	var c indicators.Candle
	openTime, err := strconv.ParseInt(strings.TrimSpace(record[columns["open_time"]]), 10, 64)
	if err != nil {
		return c, fmt.Errorf("解析 open_time 失败: %w", err)
	}
	c.OpenTime = openTime

	fields := [...]struct {
		name string
		dst  *float64
	}{
		{"open", &c.Open},
		{"high", &c.High},
		{"low", &c.Low},
		{"close", &c.Close},
		{"volume", &c.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[columns[f.name]]), 64)
		if err != nil {
			return c, fmt.Errorf("解析 %s 失败: %w", f.name, err)
		}
		*f.dst = v
	}
	return c, nil
}

// writeCandleCSV 按标准表头写出K线
func writeCandleCSV(w io.Writer, candles []indicators.Candle) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(candleColumns); err != nil {
		return fmt.Errorf("写入表头失败: %w", err)
	}
	for _, c := range candles {
		record := []string{
			strconv.FormatInt(c.OpenTime, 10),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("写入数据失败: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// normalizeCandles 按 open_time 升序排序并去掉重复时间戳（保留先出现的）
func normalizeCandles(candles []indicators.Candle) []indicators.Candle {
	slices.SortStableFunc(candles, func(a, b indicators.Candle) int {
		switch {
		case a.OpenTime < b.OpenTime:
			return -1
		case a.OpenTime > b.OpenTime:
			return 1
		}
		return 0
	})
	return slices.CompactFunc(candles, func(a, b indicators.Candle) bool {
		return a.OpenTime == b.OpenTime
	})
}
