// Package lock 回测任务互斥锁，相同参数的回测同一时间只计算一次
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quantsim/logger"
)

// ErrNotHeld 锁未持有或已过期
var ErrNotHeld = errors.New("锁未持有或已过期")

const (
	retryInterval = 100 * time.Millisecond // 阻塞获取锁时的重试间隔
	defaultTTL    = time.Minute
)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或 ctx 结束
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// TryLock 尝试获取锁，立即返回
	// 返回 true 表示成功获取锁，false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}

// WithLock 持有锁执行 fn，执行期间每 ttl/2 续期一次，结束后释放
func WithLock(ctx context.Context, l DistributedLock, key string, ttl time.Duration, fn func() error) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if err := l.Lock(ctx, key, ttl); err != nil {
		return fmt.Errorf("获取锁 %s 失败: %w", key, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := l.Extend(context.Background(), key, ttl); err != nil {
					logger.Warn("⚠️ 锁 %s 续期失败: %v", key, err)
				}
			}
		}
	}()

	defer func() {
		close(stop)
		wg.Wait()
		// 使用独立 ctx，调用方取消后仍能释放
		if err := l.Unlock(context.Background(), key); err != nil {
			logger.Warn("⚠️ 释放锁 %s 失败: %v", key, err)
		}
	}()
	return fn()
}

// LocalLock 进程内锁（单实例模式），TTL 到期后自动失效
type LocalLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalLock 创建进程内锁
func NewLocalLock() *LocalLock {
	return &LocalLock{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// Lock 获取锁
func (l *LocalLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	return pollLock(ctx, func() (bool, error) {
		return l.TryLock(ctx, key, ttl)
	})
}

// TryLock 尝试获取锁
func (l *LocalLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Unlock 释放锁
func (l *LocalLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.held[key]
	delete(l.held, key)
	if !ok || !l.clock().Before(expiry) {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}
	return nil
}

// Extend 延长锁的过期时间
func (l *LocalLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[key]; !ok || !now.Before(expiry) {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}
	l.held[key] = now.Add(ttl)
	return nil
}

// Close 无需释放资源
func (l *LocalLock) Close() error {
	return nil
}

// pollLock 按固定间隔重试 try，直到成功或 ctx 结束
func pollLock(ctx context.Context, try func() (bool, error)) error {
	ok, err := try()
	if err != nil || ok {
		return err
	}

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok, err := try()
			if err != nil || ok {
				return err
			}
		}
	}
}
