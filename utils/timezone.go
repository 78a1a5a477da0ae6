// Package utils 时间相关工具
package utils

import (
	"sync"
	"time"

	"quantsim/logger"
)

var (
	globalLocation = time.FixedZone("UTC+8", 8*60*60)
	locationMu     sync.RWMutex
)

// SetLocation 设置全局显示时区（报告、日志），加载失败时保留原时区
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	locationMu.Lock()
	globalLocation = loc
	locationMu.Unlock()
	logger.SetLocation(loc)
	return nil
}

// Location 当前显示时区
func Location() *time.Location {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return globalLocation
}

// ToConfiguredTimezone 将时间转换为配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(Location())
}

// FormatMillis 将毫秒时间戳格式化为配置时区的时间
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).In(Location()).Format("2006-01-02 15:04")
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}
