// Package cache 回测结果缓存
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quantsim/metrics"
)

// ResultCache 按运行参数缓存回测结果（JSON）
type ResultCache interface {
	// Get 读取缓存并解码到 dst，未命中时返回 false
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	// Set 写入缓存
	Set(ctx context.Context, key string, value interface{}) error
	// Delete 删除缓存
	Delete(ctx context.Context, key string) error
	// Close 关闭连接
	Close() error
}

// Config 缓存配置
type Config struct {
	Enabled  bool
	TTL      time.Duration
	Prefix   string
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewResultCache 根据配置创建缓存，未启用 Redis 时使用进程内缓存
func NewResultCache(cfg *Config) ResultCache {
	if cfg == nil || !cfg.Enabled {
		ttl := time.Hour
		if cfg != nil && cfg.TTL > 0 {
			ttl = cfg.TTL
		}
		return NewMemoryCache(ttl)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return NewRedisCache(client, cfg.Prefix, cfg.TTL)
}

// RedisCache Redis 实现
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get 读取缓存
func (c *RedisCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.GetPrometheusMetrics().RecordCacheLookup("redis", false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取 Redis 缓存失败: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("解析缓存数据失败: %w", err)
	}
	metrics.GetPrometheusMetrics().RecordCacheLookup("redis", true)
	return true, nil
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存数据失败: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 缓存失败: %w", err)
	}
	return nil
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// Close 关闭连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache 进程内缓存（单实例模式）
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
}

// Get 读取缓存，过期条目视为未命中
func (c *MemoryCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !c.clock().Before(entry.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	metrics.GetPrometheusMetrics().RecordCacheLookup("memory", ok)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dst); err != nil {
		return false, fmt.Errorf("解析缓存数据失败: %w", err)
	}
	return true, nil
}

// Set 写入缓存
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存数据失败: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{data: data, expires: c.clock().Add(c.ttl)}
	return nil
}

// Delete 删除缓存
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Close 清空缓存
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}
