package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quantsim/indicators"
)

func makeCandles(start int64, n int) []indicators.Candle {
	candles := make([]indicators.Candle, n)
	for i := range candles {
		p := 100 + float64(i)
		candles[i] = indicators.Candle{
			OpenTime: start + int64(i)*60_000,
			Open:     p, High: p + 1, Low: p - 1, Close: p, Volume: 10,
		}
	}
	return candles
}

func TestCandleStoreSaveAndQuery(t *testing.T) {
	store, err := NewCandleStore(filepath.Join(t.TempDir(), "candles.db"))
	if err != nil {
		t.Fatalf("创建K线库失败: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.SaveCandles(ctx, "BTCUSDT", "1m", makeCandles(0, 10)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	// 重叠部分覆盖写入
	overlap := makeCandles(5*60_000, 10)
	overlap[0].Close = 999
	if err := store.SaveCandles(ctx, "BTCUSDT", "1m", overlap); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	store.SaveCandles(ctx, "ETHUSDT", "1h", makeCandles(0, 3))

	all, err := store.GetCandles(ctx, "BTCUSDT", "1m", nil, nil)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(all) != 15 {
		t.Fatalf("K线数 = %d, 期望 15", len(all))
	}
	if err := indicators.ValidateSeries(all); err != nil {
		t.Fatalf("结果应升序且无重复: %v", err)
	}
	if all[5].Close != 999 {
		t.Fatalf("重复 open_time 应被覆盖")
	}

	start := time.UnixMilli(2 * 60_000)
	end := time.UnixMilli(4 * 60_000)
	window, _ := store.GetCandles(ctx, "BTCUSDT", "1m", &start, &end)
	if len(window) != 3 || window[0].OpenTime != 2*60_000 {
		t.Fatalf("时间范围应包含两端: %+v", window)
	}

	series, err := store.ListSeries(ctx)
	if err != nil || len(series) != 2 {
		t.Fatalf("序列列表错误: %+v %v", series, err)
	}
	if series[0].Symbol != "BTCUSDT" || series[0].Count != 15 || series[0].LastOpen != 14*60_000 {
		t.Fatalf("BTCUSDT 序列信息错误: %+v", series[0])
	}
}

func TestLogStorage(t *testing.T) {
	ls, err := NewLogStorage(filepath.Join(t.TempDir(), "logs.db"))
	if err != nil {
		t.Fatalf("创建日志存储失败: %v", err)
	}

	ls.WriteLog("WARN", "⚠️ 收盘价为 0，无法开仓")
	ls.WriteLog("ERROR", "❌ 回测失败: 数值异常")
	ls.WriteLog("WARN", "⚠️ 释放锁失败")

	deadline := time.Now().Add(3 * time.Second)
	var total int
	for time.Now().Before(deadline) {
		_, total, _ = ls.GetLogs(LogQueryParams{})
		if total == 3 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if total != 3 {
		t.Fatalf("日志数 = %d, 期望 3", total)
	}

	warns, n, err := ls.GetLogs(LogQueryParams{Level: "warn"})
	if err != nil || n != 2 || len(warns) != 2 {
		t.Fatalf("按级别查询错误: %d %v", n, err)
	}
	hits, _, _ := ls.GetLogs(LogQueryParams{Keyword: "回测失败"})
	if len(hits) != 1 || !strings.Contains(hits[0].Message, "数值异常") {
		t.Fatalf("关键字查询错误: %+v", hits)
	}

	if deleted, err := ls.CleanOldLogs(1); err != nil || deleted != 0 {
		t.Fatalf("新日志不应被清理: %d %v", deleted, err)
	}

	if err := ls.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	ls.WriteLog("INFO", "关闭后写入不应 panic")
}
