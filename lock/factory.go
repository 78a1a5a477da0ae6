package lock

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config 分布式锁配置
type Config struct {
	Enabled bool
	Type    string
	Prefix  string
	Redis   RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewDistributedLock 根据配置创建锁实例，未启用时返回进程内锁
func NewDistributedLock(config *Config) (DistributedLock, error) {
	if config == nil || !config.Enabled {
		return NewLocalLock(), nil
	}

	switch config.Type {
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})
		return NewRedisLock(client, config.Prefix), nil
	default:
		return nil, fmt.Errorf("不支持的锁类型: %s", config.Type)
	}
}
