package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"quantsim/logger"
)

// debounceDelay 文件写入事件后等待写完的时间
const debounceDelay = 100 * time.Millisecond

// ConfigWatcher 配置文件监控器，变更交给 HotReloader 处理
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	hotReloader *HotReloader
	mu          sync.Mutex
	isWatching  bool
	lastModTime time.Time
	restartChan chan *ConfigDiff
	errorChan   chan error
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, hotReloader *HotReloader) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	cw := &ConfigWatcher{
		configPath:  absPath,
		watcher:     watcher,
		hotReloader: hotReloader,
		restartChan: make(chan *ConfigDiff, 1),
		errorChan:   make(chan error, 10),
	}
	if info, err := os.Stat(absPath); err == nil {
		cw.lastModTime = info.ModTime()
	}
	return cw, nil
}

// Start 开始监控配置文件（监控所在目录，兼容编辑器的重命名写入）
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}
	cw.isWatching = true

	go cw.watchLoop(ctx)
	logger.Info("👀 开始监控配置文件: %s", cw.configPath)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}
	cw.isWatching = false
	return cw.watcher.Close()
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			cw.Stop()
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				time.Sleep(debounceDelay)
				cw.handleConfigChange()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.reportError(err)
		}
	}
}

// handleConfigChange 重新加载配置并热更新
func (cw *ConfigWatcher) handleConfigChange() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	info, err := os.Stat(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("获取文件信息失败: %w", err))
		return
	}
	if !info.ModTime().After(cw.lastModTime) {
		return
	}
	cw.lastModTime = info.ModTime()

	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("重新加载配置失败: %w", err))
		return
	}

	diff, err := cw.hotReloader.UpdateConfig(newConfig)
	if err != nil {
		cw.reportError(fmt.Errorf("配置热更新失败: %w", err))
		return
	}
	if len(diff.Changes) > 0 {
		logger.Info("🔄 配置已更新: %v", diff.Paths())
	}

	if diff.RequiresRestart {
		logger.Warn("⚠️ 部分配置需要重启后生效")
		select {
		case cw.restartChan <- diff:
		default:
		}
	}
}

func (cw *ConfigWatcher) reportError(err error) {
	logger.Warn("⚠️ %v", err)
	select {
	case cw.errorChan <- err:
	default:
	}
}

// RestartChan 有需要重启才能生效的变更时收到差异
func (cw *ConfigWatcher) RestartChan() <-chan *ConfigDiff {
	return cw.restartChan
}

// ErrorChan 获取错误通道
func (cw *ConfigWatcher) ErrorChan() <-chan error {
	return cw.errorChan
}
