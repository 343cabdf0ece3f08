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

package channel

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"granule-backfill/internal/storage/postgres"
	"granule-backfill/pkg/config"
	pkgerrors "granule-backfill/pkg/errors"
)

// Set retry 与 failure 两条通道，按名称寻址
type Set struct {
	Retry   Channel
	Failure Channel

	closers []func() error
}

// NewSet 用现成的通道组装 Set（测试与内存模式）
func NewSet(retry, failure Channel) *Set {
	return &Set{Retry: retry, Failure: failure}
}

// NewMemorySet 内存通道
func NewMemorySet(retryName, failureName string) *Set {
	return NewSet(NewMemoryChannel(retryName), NewMemoryChannel(failureName))
}

// NewRedisClient 共享 Redis 客户端
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Open 根据配置打开通道（memory | redis | postgres）
func Open(ctx context.Context, cfg config.ChannelsConfig, redisCfg config.RedisConfig) (*Set, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemorySet(cfg.Retry, cfg.Failure), nil
	case "redis":
		client := NewRedisClient(redisCfg)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("连接 redis 失败: %w", err)
		}
		s := NewSet(NewRedisChannel(client, cfg.Retry), NewRedisChannel(client, cfg.Failure))
		s.closers = append(s.closers, client.Close)
		return s, nil
	case "postgres":
		pool, err := postgres.OpenWithSchema(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresSet(pool, cfg.Retry, cfg.Failure, true), nil
	default:
		return nil, fmt.Errorf("不支持的通道类型: %s", cfg.Type)
	}
}

// NewPostgresSet PostgreSQL 通道；owned 为 true 时 Close 关闭连接池
func NewPostgresSet(pool *pgxpool.Pool, retryName, failureName string, owned bool) *Set {
	s := NewSet(NewPostgresChannel(pool, retryName), NewPostgresChannel(pool, failureName))
	if owned {
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
	}
	return s
}

// Get 按名称取通道
func (s *Set) Get(name string) (Channel, error) {
	switch name {
	case s.Retry.Name():
		return s.Retry, nil
	case s.Failure.Name():
		return s.Failure, nil
	}
	return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "channel %q", name)
}

// All 全部通道
func (s *Set) All() []Channel {
	return []Channel{s.Retry, s.Failure}
}

// Close 关闭通道与共享连接
func (s *Set) Close() error {
	var first error
	for _, ch := range s.All() {
		if err := ch.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
