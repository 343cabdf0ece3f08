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

// Package monitor 处理集群回报的终态事件：分类、写尝试日志、路由到 retry / failure 通道，
// 成功时触发日志迁移。
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"granule-backfill/internal/channel"
	"granule-backfill/internal/cluster"
	"granule-backfill/internal/granule"
	"granule-backfill/internal/logstore"
	"granule-backfill/internal/policy"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/metrics"
	"granule-backfill/pkg/tracing"
)

// Monitor 终态事件处理器；不同 granule 的调用可任意并发
type Monitor struct {
	policy   *policy.Policy
	logs     *logstore.Store
	channels *channel.Set
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]struct{} // 日志迁移失败、待重试的 granule
}

// New 创建 Monitor
func New(p *policy.Policy, logs *logstore.Store, channels *channel.Set, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Monitor{
		policy:   p,
		logs:     logs,
		channels: channels,
		logger:   logger,
		now:      time.Now,
		pending:  make(map[string]struct{}),
	}
}

// HandleTerminalEvent 处理一次集群状态变化。日志写入先于通道发布：两者之间崩溃最多导致重复发布。
// 成功后的日志迁移失败不会作为错误返回，而是记入待重试集合。
func (m *Monitor) HandleTerminalEvent(ctx context.Context, o cluster.Outcome) (d policy.Decision, err error) {
	o, err = o.Normalize(m.now())
	if err != nil {
		return d, err
	}
	ctx, span := tracing.StartGranuleSpan(ctx, "monitor.handle_terminal_event", o.Event.GranuleID, o.Event.Attempt)
	defer func() { tracing.EndSpan(span, err) }()

	d = m.policy.Classify(o)
	logger := m.logger.With("granule_id", o.Event.GranuleID, "attempt", o.Event.Attempt, "job_id", o.JobID)
	if !d.Final {
		metrics.MonitorIgnoredTotal.Inc()
		logger.Debug("集群仍会重试，忽略", "reason", d.Reason, "cluster_attempts", o.ClusterAttempts)
		return d, nil
	}

	rec := granule.OutcomeRecord{
		GranuleID:       o.Event.GranuleID,
		Attempt:         o.Event.Attempt,
		Outcome:         d.Outcome,
		Platform:        o.Platform,
		AcquisitionDate: o.AcquisitionDate,
		JobID:           o.JobID,
		ObservedAt:      o.ObservedAt,
		StatusReason:    o.StatusReason,
		ExitCode:        o.ExitCode,
		ClusterAttempts: o.ClusterAttempts,
	}
	key, err := m.logs.Put(ctx, rec)
	if err != nil {
		return d, pkgerrors.Wrap(err, "write outcome log")
	}
	metrics.MonitorOutcomesTotal.WithLabelValues(string(d.Outcome)).Inc()

	switch d.Outcome {
	case granule.OutcomeSuccess:
		logger.Info("granule 处理成功", "log", key.String())
		m.relocate(ctx, o.Event.GranuleID)
	case granule.OutcomeRetryableFailure:
		if err = m.channels.Retry.Publish(ctx, o.Event); err != nil {
			return d, pkgerrors.Wrapf(err, "publish to %s", m.channels.Retry.Name())
		}
		logger.Info("可重试失败，已发布到 retry 通道", "reason", d.Reason)
	case granule.OutcomeNonRetryableFailure:
		if err = m.channels.Failure.Publish(ctx, o.Event); err != nil {
			return d, pkgerrors.Wrapf(err, "publish to %s", m.channels.Failure.Name())
		}
		logger.Warn("不可重试失败，已发布到 failure 通道", "reason", d.Reason, "status_reason", o.StatusReason)
	}
	return d, nil
}

// relocate 尽力执行日志迁移
func (m *Monitor) relocate(ctx context.Context, granuleID string) {
	if _, err := m.logs.Reconcile(ctx, granuleID); err != nil {
		metrics.RelocationFailuresTotal.Inc()
		m.logger.Warn("日志迁移失败，稍后重试", "granule_id", granuleID, "error", err)
		m.mu.Lock()
		m.pending[granuleID] = struct{}{}
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	delete(m.pending, granuleID)
	m.mu.Unlock()
}

// Pending 待重试迁移的 granule，按 id 排序
func (m *Monitor) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for id := range m.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RetryPending 重试所有待迁移的 granule，返回本次完成数；仍失败的保留在集合中
func (m *Monitor) RetryPending(ctx context.Context) (int, error) {
	done := 0
	var firstErr error
	for _, id := range m.Pending() {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := m.logs.Reconcile(ctx, id); err != nil {
			metrics.RelocationFailuresTotal.Inc()
			if firstErr == nil {
				firstErr = pkgerrors.Wrapf(err, "reconcile %s", id)
			}
			continue
		}
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		done++
	}
	return done, firstErr
}

// Reconcile 手动触发单个 granule 的日志迁移
func (m *Monitor) Reconcile(ctx context.Context, granuleID string) (logstore.ReconcileResult, error) {
	res, err := m.logs.Reconcile(ctx, granuleID)
	if err == nil {
		m.mu.Lock()
		delete(m.pending, granuleID)
		m.mu.Unlock()
	}
	return res, err
}
