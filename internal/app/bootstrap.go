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

package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"granule-backfill/internal/channel"
	"granule-backfill/internal/cluster"
	"granule-backfill/internal/credentials"
	"granule-backfill/internal/feeder"
	"granule-backfill/internal/inventory"
	"granule-backfill/internal/logstore"
	"granule-backfill/internal/monitor"
	"granule-backfill/internal/policy"
	"granule-backfill/internal/requeuer"
	"granule-backfill/internal/tracker"
	"granule-backfill/pkg/config"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，cmd 内只做进程生命周期
type Bootstrap struct {
	Config *config.Config
	Logger *log.Logger

	// Redis lock.type=redis 时的共享客户端；否则为 nil
	Redis redis.UniversalClient

	Tracker   tracker.Store
	Inventory inventory.Reader
	Submitter *cluster.Submitter
	Logs      *logstore.Store
	Channels  *channel.Set
	Policy    *policy.Policy

	Feeder   *feeder.Feeder
	Monitor  *monitor.Monitor
	Requeuer *requeuer.Requeuer

	Secrets secrets.Store
	// Rotator credentials.enable=false 时为 nil
	Rotator *credentials.Rotator

	closers []func() error
}

// NewBootstrap 根据配置创建全部组件；任一组件失败时关闭已创建的部分
func NewBootstrap(ctx context.Context, cfg *config.Config) (b *Bootstrap, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置为空")
	}
	logger, err := log.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b = &Bootstrap{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if cfg.Lock.Type == "redis" {
		client := channel.NewRedisClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("连接 redis 失败: %w", err)
		}
		b.Redis = client
		b.closers = append(b.closers, client.Close)
	}

	if b.Tracker, err = tracker.NewStore(ctx, cfg.Tracker); err != nil {
		return nil, fmt.Errorf("初始化进度游标失败: %w", err)
	}
	b.closers = append(b.closers, b.Tracker.Close)

	if b.Inventory, err = inventory.NewReader(ctx, cfg.Inventory); err != nil {
		return nil, fmt.Errorf("初始化清单失败: %w", err)
	}
	b.closers = append(b.closers, b.Inventory.Close)

	c, err := cluster.NewCluster(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("初始化集群客户端失败: %w", err)
	}
	b.Submitter = cluster.NewSubmitter(c, cluster.SubmitterConfigFrom(cfg.Cluster), logger.With("component", "submitter"))

	if b.Logs, err = logstore.NewStore(ctx, cfg.LogStore, logger.With("component", "logstore")); err != nil {
		return nil, fmt.Errorf("初始化日志存储失败: %w", err)
	}
	b.closers = append(b.closers, b.Logs.Close)

	if b.Channels, err = channel.Open(ctx, cfg.Channels, cfg.Redis); err != nil {
		return nil, fmt.Errorf("初始化通道失败: %w", err)
	}
	b.closers = append(b.closers, b.Channels.Close)

	if b.Policy, err = policy.FromConfig(cfg.Monitor); err != nil {
		return nil, fmt.Errorf("初始化分类策略失败: %w", err)
	}

	locker, err := feeder.NewLocker(cfg.Lock, b.Redis)
	if err != nil {
		return nil, fmt.Errorf("初始化锁失败: %w", err)
	}
	b.Feeder = feeder.New(b.Inventory, b.Tracker, b.Submitter, locker, feeder.Config{
		BatchSize:     cfg.Feeder.BatchSize,
		MaxActiveJobs: cfg.Feeder.MaxActiveJobs,
		DebugBucket:   cfg.Feeder.DebugBucket,
	}, logger.With("component", "feeder"))
	b.Monitor = monitor.New(b.Policy, b.Logs, b.Channels, logger.With("component", "monitor"))
	b.Requeuer = requeuer.New(b.Channels, b.Submitter, requeuer.Config{
		Consumers:       cfg.Requeuer.Consumers,
		BatchSize:       cfg.Requeuer.BatchSize,
		PollInterval:    cfg.Requeuer.PollInterval,
		Visibility:      cfg.Channels.Visibility,
		MaxReceiveCount: cfg.Requeuer.MaxReceiveCount,
	}, logger.With("component", "requeuer"))

	if b.Secrets, err = secrets.NewStore(cfg.Secrets); err != nil {
		return nil, fmt.Errorf("初始化 secret 存储失败: %w", err)
	}
	if cfg.Credentials.Enable {
		b.Rotator = credentials.NewRotator(b.Secrets, credentials.Config{
			URL:            cfg.Credentials.URL,
			UserPassSecret: cfg.Credentials.UserPassSecret,
			OutputSecret:   cfg.Credentials.OutputSecret,
			Timeout:        cfg.API.Timeout,
		}, logger.With("component", "credentials"))
	}
	return b, nil
}

// Close 按创建的逆序释放资源
func (b *Bootstrap) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}
