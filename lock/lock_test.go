package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalLockTryAndUnlock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "BTCUSDT_1h", time.Minute)
	if !ok || err != nil {
		t.Fatalf("首次加锁应成功: %v %v", ok, err)
	}
	if ok, _ := l.TryLock(ctx, "BTCUSDT_1h", time.Minute); ok {
		t.Fatalf("重复加锁应失败")
	}
	if ok, _ := l.TryLock(ctx, "ETHUSDT_1h", time.Minute); !ok {
		t.Fatalf("不同 key 互不影响")
	}
	if err := l.Unlock(ctx, "BTCUSDT_1h"); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}
	if err := l.Unlock(ctx, "BTCUSDT_1h"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("重复释放应返回 ErrNotHeld, 实际 %v", err)
	}
}

func TestLocalLockExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLocalLock()
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	l.TryLock(ctx, "k", time.Second)
	if err := l.Extend(ctx, "k", 5*time.Second); err != nil {
		t.Fatalf("延期失败: %v", err)
	}
	now = now.Add(3 * time.Second)
	if ok, _ := l.TryLock(ctx, "k", time.Second); ok {
		t.Fatalf("延期后锁仍应有效")
	}
	now = now.Add(3 * time.Second)
	if err := l.Extend(ctx, "k", time.Second); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("过期锁不能延期")
	}
	if ok, _ := l.TryLock(ctx, "k", time.Second); !ok {
		t.Fatalf("过期后应可重新加锁")
	}
}

func TestWithLockSerializes(t *testing.T) {
	l := NewLocalLock()
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), l, "same-run", time.Minute, func() error {
				n := running.Add(1)
				if n > maxRunning.Load() {
					maxRunning.Store(n)
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock 失败: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxRunning.Load() != 1 {
		t.Fatalf("同一 key 同时只能有一个执行者, 实际 %d", maxRunning.Load())
	}
}

func TestLockHonoursContext(t *testing.T) {
	l := NewLocalLock()
	l.TryLock(context.Background(), "busy", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := l.Lock(ctx, "busy", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ctx 超时应返回 DeadlineExceeded, 实际 %v", err)
	}
}

func TestFactory(t *testing.T) {
	l, err := NewDistributedLock(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if _, ok := l.(*LocalLock); !ok {
		t.Fatalf("未启用时应返回进程内锁, 实际 %T", l)
	}
	if _, err := NewDistributedLock(&Config{Enabled: true, Type: "etcd"}); err == nil {
		t.Fatalf("不支持的类型应报错")
	}
}

func TestRedisLockUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	l := NewRedisLock(client, "quantsim:lock:")
	defer l.Close()

	if ok, err := l.TryLock(context.Background(), "k", time.Second); ok || err == nil {
		t.Fatalf("Redis 不可用时应返回错误")
	}
	if err := l.Unlock(context.Background(), "k"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("未持有的锁释放应返回 ErrNotHeld, 实际 %v", err)
	}
	if err := l.Ping(context.Background()); err == nil {
		t.Fatalf("Ping 应失败")
	}
}

func TestWithLockExtendsWhileRunning(t *testing.T) {
	l := NewLocalLock()
	err := WithLock(context.Background(), l, "slow-run", 60*time.Millisecond, func() error {
		time.Sleep(150 * time.Millisecond)
		// 续期后其他调用方仍拿不到锁
		if ok, _ := l.TryLock(context.Background(), "slow-run", time.Second); ok {
			t.Errorf("执行期间锁应保持有效")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock 失败: %v", err)
	}
	if ok, _ := l.TryLock(context.Background(), "slow-run", time.Second); !ok {
		t.Fatalf("结束后锁应已释放")
	}
}
