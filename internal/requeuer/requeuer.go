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

// Package requeuer 消费 retry 通道：以 attempt+1 重新提交到集群，接受后确认消息。
package requeuer

import (
	"context"
	"sync"
	"time"

	"granule-backfill/internal/channel"
	"granule-backfill/internal/cluster"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/metrics"
	"granule-backfill/pkg/tracing"
	"granule-backfill/pkg/utils"
)

// Config Requeuer 参数
type Config struct {
	Consumers    int
	BatchSize    int
	PollInterval time.Duration
	Visibility   time.Duration
	// MaxReceiveCount 消息被接收超过该次数后转入 failure 通道；0 表示不限制
	MaxReceiveCount int
}

// Requeuer retry 通道消费者；多个消费者并发安全，从不读写进度游标
type Requeuer struct {
	channels  *channel.Set
	submitter *cluster.Submitter
	cfg       Config
	logger    *log.Logger
}

// New 创建 Requeuer
func New(channels *channel.Set, sub *cluster.Submitter, cfg Config, logger *log.Logger) *Requeuer {
	cfg.BatchSize = utils.PositiveInt(cfg.BatchSize, 10)
	cfg.Visibility = utils.PositiveDuration(cfg.Visibility, channel.DefaultVisibility)
	cfg.PollInterval = utils.PositiveDuration(cfg.PollInterval, 5*time.Second)
	if logger == nil {
		logger = log.Nop()
	}
	return &Requeuer{channels: channels, submitter: sub, cfg: cfg, logger: logger}
}

// Handle 处理一条 retry 消息。提交失败时 Nack 并返回错误，消息稍后重新投递
func (r *Requeuer) Handle(ctx context.Context, d channel.Delivery) (err error) {
	retry := r.channels.Retry
	next := d.Event.NewAttempt()
	ctx, span := tracing.StartGranuleSpan(ctx, "requeuer.handle", next.GranuleID, next.Attempt)
	defer func() { tracing.EndSpan(span, err) }()
	logger := r.logger.With("granule_id", d.Event.GranuleID, "attempt", next.Attempt, "receive_count", d.ReceiveCount)

	if r.cfg.MaxReceiveCount > 0 && d.ReceiveCount > r.cfg.MaxReceiveCount {
		if err = r.channels.Failure.Publish(ctx, d.Event); err != nil {
			if nerr := retry.Nack(context.WithoutCancel(ctx), d); nerr != nil {
				logger.Warn("Nack 失败，消息将在可见性超时后重新投递", "error", nerr)
			}
			return pkgerrors.Wrapf(err, "park %s on %s", d.ID, r.channels.Failure.Name())
		}
		metrics.RequeuerParkedTotal.Inc()
		logger.Warn("超过最大投递次数，转入 failure 通道")
		return r.ack(ctx, d, logger)
	}

	jobID, err := r.submitter.Submit(ctx, next)
	if err != nil {
		if nerr := retry.Nack(context.WithoutCancel(ctx), d); nerr != nil {
			logger.Warn("Nack 失败，消息将在可见性超时后重新投递", "error", nerr)
		}
		return pkgerrors.Wrapf(err, "resubmit %s", d.Event.GranuleID)
	}
	metrics.RequeuerResubmittedTotal.Inc()
	logger.Info("已重新提交", "job_id", jobID)
	return r.ack(ctx, d, logger)
}

// ack 已提交成功后确认；receipt 过期说明消息已被再次投递，重复提交是可接受的
func (r *Requeuer) ack(ctx context.Context, d channel.Delivery, logger *log.Logger) error {
	err := r.channels.Retry.Ack(context.WithoutCancel(ctx), d)
	if pkgerrors.Is(err, pkgerrors.ErrNotFound) {
		logger.Warn("确认时消息已被重新投递", "error", err)
		return nil
	}
	return err
}

// RunOnce 接收一批消息并逐条处理，返回处理数与第一个错误
func (r *Requeuer) RunOnce(ctx context.Context) (int, error) {
	ds, err := r.channels.Retry.Receive(ctx, r.cfg.BatchSize, r.cfg.Visibility)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "receive from %s", r.channels.Retry.Name())
	}
	var firstErr error
	handled := 0
	for _, d := range ds {
		if err := r.Handle(ctx, d); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		handled++
	}
	return handled, firstErr
}

// Runner 在后台运行 Consumers 个消费循环
type Runner struct {
	requeuer *Requeuer
	logger   *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner 创建 Runner
func NewRunner(r *Requeuer) *Runner {
	return &Runner{requeuer: r, logger: r.logger, stopCh: make(chan struct{})}
}

// Start 启动消费循环；队列为空或出错时等待 PollInterval
func (rn *Runner) Start(ctx context.Context) {
	n := utils.PositiveInt(rn.requeuer.cfg.Consumers, 1)
	for i := 0; i < n; i++ {
		rn.wg.Add(1)
		go func(id int) {
			defer rn.wg.Done()
			for {
				select {
				case <-rn.stopCh:
					return
				case <-ctx.Done():
					return
				default:
				}
				handled, err := rn.requeuer.RunOnce(ctx)
				if err != nil && ctx.Err() == nil {
					rn.logger.Error("requeuer 处理失败", "consumer", id, "error", err)
				}
				if handled > 0 && err == nil {
					continue
				}
				select {
				case <-rn.stopCh:
					return
				case <-ctx.Done():
					return
				case <-time.After(rn.requeuer.cfg.PollInterval):
				}
			}
		}(i)
	}
}

// Stop 关闭 stopCh，等待所有消费循环结束
func (rn *Runner) Stop() {
	close(rn.stopCh)
	rn.wg.Wait()
}
