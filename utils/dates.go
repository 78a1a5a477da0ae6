package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseDate 解析 YYYY-MM-DD（UTC），空字符串返回 nil
// endOfDay 为 true 时返回当天最后一毫秒，使结束日期包含当天
func ParseDate(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("无效的日期 %q，应为 YYYY-MM-DD: %w", s, err)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return &t, nil
}

// ParsePeriod 解析统计周期 1d|7d|30d|all，返回起始时间，all 返回 nil
func ParsePeriod(period string, now time.Time) (*time.Time, error) {
	var days int
	switch period {
	case "", "all":
		return nil, nil
	case "1d":
		days = 1
	case "7d":
		days = 7
	case "30d":
		days = 30
	default:
		return nil, fmt.Errorf("无效的统计周期: %s", period)
	}
	start := now.AddDate(0, 0, -days)
	return &start, nil
}
