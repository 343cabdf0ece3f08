// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package feeder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"granule-backfill/pkg/config"
	pkgerrors "granule-backfill/pkg/errors"
)

// Locker 保证同一时刻系统内至多一个 submit_batch 在执行
type Locker interface {
	// TryLock 非阻塞加锁；已被持有时返回包装 ErrBusy 的错误
	TryLock(ctx context.Context) (unlock func(context.Context) error, err error)
}

// MemoryLocker 进程内互斥
type MemoryLocker struct {
	mu sync.Mutex
}

func NewMemoryLocker() *MemoryLocker { return &MemoryLocker{} }

func (l *MemoryLocker) TryLock(ctx context.Context) (func(context.Context) error, error) {
	if !l.mu.TryLock() {
		return nil, pkgerrors.Wrap(pkgerrors.ErrBusy, "feeder already running in this process")
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker 跨进程互斥：SET NX PX + token；TTL 兜底持有者崩溃的情况
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisLocker 创建 Redis 锁
func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrBusy, "lock %s held by another feeder", l.key)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", l.key, err)
		}
		return nil
	}, nil
}

// NewLocker 根据配置创建锁；type=redis 时使用传入的共享客户端
func NewLocker(cfg config.LockConfig, client redis.UniversalClient) (Locker, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		if client == nil {
			return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidConfig, "lock.type=redis requires a redis client")
		}
		return NewRedisLocker(client, cfg.Key, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("不支持的锁类型: %s", cfg.Type)
	}
}
