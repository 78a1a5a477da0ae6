package metrics

import (
	"sync"
	"time"
)

// Metrics 进程内回测统计，供健康检查接口展示
type Metrics struct {
	TotalRuns       int           `json:"total_runs"`
	SuccessfulRuns  int           `json:"successful_runs"`
	FailedRuns      int           `json:"failed_runs"`
	SuccessRate     float64       `json:"success_rate"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	LastUpdate      time.Time     `json:"last_update"`
}

// MetricsCollector 指标收集器
type MetricsCollector struct {
	mu            sync.RWMutex
	metrics       Metrics
	totalDuration time.Duration
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: Metrics{
			LastUpdate: time.Now(),
		},
	}
}

// RecordRun 记录一次回测运行
func (mc *MetricsCollector) RecordRun(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.TotalRuns++
	if success {
		mc.metrics.SuccessfulRuns++
	} else {
		mc.metrics.FailedRuns++
	}
	mc.metrics.SuccessRate = float64(mc.metrics.SuccessfulRuns) / float64(mc.metrics.TotalRuns)

	mc.totalDuration += duration
	mc.metrics.LastRunDuration = duration
	mc.metrics.AverageDuration = mc.totalDuration / time.Duration(mc.metrics.TotalRuns)
	mc.metrics.LastUpdate = time.Now()
}

// GetMetrics 获取指标快照
func (mc *MetricsCollector) GetMetrics() Metrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}
