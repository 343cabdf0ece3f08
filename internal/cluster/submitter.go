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

package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/metrics"
)

// SubmitterConfig 提交重试与限速
type SubmitterConfig struct {
	Retries   int           // 被拒或传输失败后的本地重试次数（不含首次）
	Backoff   time.Duration // 第 n 次重试前等待 n*Backoff
	RateLimit float64       // 每秒最多入队调用数，<=0 不限速
	Burst     int
}

// Submitter Feeder 与 Requeuer 共用的提交约定：有限次重试，仍失败则返回最后一次错误
type Submitter struct {
	cluster Cluster
	cfg     SubmitterConfig
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewSubmitter 创建 Submitter；logger 可为 nil
func NewSubmitter(c Cluster, cfg SubmitterConfig, logger *log.Logger) *Submitter {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Submitter{cluster: c, cfg: cfg, logger: logger}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Cluster 底层集群（Feeder 的深度检查使用）
func (s *Submitter) Cluster() Cluster { return s.cluster }

// Submit 提交事件直到被接受或重试耗尽；ctx 取消时立即返回
func (s *Submitter) Submit(ctx context.Context, ev granule.Event) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*s.cfg.Backoff); err != nil {
				return "", err
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait failed: %w", err)
			}
		}
		start := time.Now()
		jobID, err := s.cluster.Enqueue(ctx, ev)
		metrics.ClusterEnqueueDuration.WithLabelValues(enqueueResult(err)).Observe(time.Since(start).Seconds())
		if err == nil {
			return jobID, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		s.logger.Warn("集群入队失败", "granule_id", ev.GranuleID, "attempt", ev.Attempt, "try", attempt+1, "error", err)
	}
	return "", pkgerrors.Wrapf(lastErr, "enqueue %s attempt %d after %d tries", ev.GranuleID, ev.Attempt, s.cfg.Retries+1)
}

func enqueueResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, pkgerrors.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
