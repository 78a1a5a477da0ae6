package config

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// HotReloader 配置热更新器
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调函数类型
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{
		currentConfig:   initialConfig,
		updateCallbacks: []ConfigUpdateCallback{},
	}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 更新配置，只应用可热更新的变更，需要重启的变更保留旧值
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	if len(diff.Changes) == 0 {
		return diff, nil
	}

	var hotChanges []ConfigChange
	for _, change := range diff.Changes {
		if !change.RequiresRestart {
			hotChanges = append(hotChanges, change)
		}
	}
	if len(hotChanges) == 0 {
		return diff, nil
	}

	next, err := cloneConfig(hr.currentConfig)
	if err != nil {
		return nil, err
	}
	for _, change := range hotChanges {
		copyConfigField(next, newConfig, change.Path)
	}

	for _, callback := range hr.updateCallbacks {
		if err := callback(hr.currentConfig, next, hotChanges); err != nil {
			return nil, fmt.Errorf("配置更新回调执行失败: %w", err)
		}
	}

	hr.currentConfig = next
	return diff, nil
}

// copyConfigField 按路径从 src 复制可热更新的配置
func copyConfigField(dest, src *Config, path string) {
	switch {
	case path == "app.log_level":
		dest.App.LogLevel = src.App.LogLevel
	case path == "app.language":
		dest.App.Language = src.App.Language
	case strings.HasPrefix(path, "backtest."):
		dest.Backtest = src.Backtest
	case strings.HasPrefix(path, "report."):
		dest.Report = src.Report
	}
}

// GetCurrentConfig 获取当前配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

// cloneConfig 通过 YAML 序列化深度复制配置
func cloneConfig(cfg *Config) (*Config, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("复制配置失败: %w", err)
	}
	var out Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("复制配置失败: %w", err)
	}
	return &out, nil
}
