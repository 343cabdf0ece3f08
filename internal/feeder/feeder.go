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

// Package feeder 按进度游标从清单读取窗口，在集群未过载时提交 attempt=0 的事件，
// 并只按集群确认接受的前缀推进游标。
package feeder

import (
	"context"

	"granule-backfill/internal/cluster"
	"granule-backfill/internal/granule"
	"granule-backfill/internal/inventory"
	"granule-backfill/internal/tracker"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/metrics"
	"granule-backfill/pkg/tracing"
)

// Config Feeder 参数
type Config struct {
	BatchSize     int
	MaxActiveJobs int
	DebugBucket   string
}

// Result 一次 submit_batch 的结果
type Result struct {
	RowStart    int64 `json:"row_start"`
	NewRowStart int64 `json:"new_row_start"`
	Submitted   int   `json:"submitted"`
	// Throttled 队列深度达到阈值，本次未提交
	Throttled bool `json:"throttled"`
	// Exhausted 清单窗口不足 n 条：backfill 已全部提交
	Exhausted bool `json:"exhausted"`
	Depth     int  `json:"depth"`
}

// Feeder 队列投喂器
type Feeder struct {
	inventory inventory.Reader
	tracker   tracker.Store
	submitter *cluster.Submitter
	locker    Locker
	cfg       Config
	logger    *log.Logger
}

// New 创建 Feeder；locker 为 nil 时使用进程内互斥
func New(inv inventory.Reader, tr tracker.Store, sub *cluster.Submitter, locker Locker, cfg Config, logger *log.Logger) *Feeder {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Feeder{
		inventory: inv,
		tracker:   tr,
		submitter: sub,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
	}
}

// SubmitBatch 提交清单中 [row_start, row_start+n) 的 granule；n <= 0 时使用配置的 BatchSize。
// 中途提交失败时游标只推进已确认的前缀，随后返回错误；下次调用从未确认处继续。
func (f *Feeder) SubmitBatch(ctx context.Context, n int) (res Result, err error) {
	if n <= 0 {
		n = f.cfg.BatchSize
	}
	if n <= 0 {
		return res, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "batch size must be > 0, got %d", n)
	}

	unlock, err := f.locker.TryLock(ctx)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.ErrBusy) {
			metrics.FeederRunsTotal.WithLabelValues("busy").Inc()
		}
		return res, err
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			f.logger.Warn("释放 feeder 锁失败", "error", uerr)
		}
	}()

	ctx, span := tracing.StartFeederSpan(ctx, n)
	defer func() {
		metrics.FeederRunsTotal.WithLabelValues(runResult(res, err)).Inc()
		tracing.EndSpan(span, err)
	}()

	// 1. 背压
	depth, err := f.submitter.Cluster().QueueDepth(ctx, f.cfg.MaxActiveJobs)
	if err != nil {
		return res, pkgerrors.Wrap(err, "query queue depth")
	}
	res.Depth = depth
	if depth >= f.cfg.MaxActiveJobs {
		res.Throttled = true
		metrics.FeederThrottledTotal.Inc()
		f.logger.Info("队列深度达到阈值，跳过本次提交", "depth", depth, "max_active_jobs", f.cfg.MaxActiveJobs)
		return res, nil
	}

	// 2. 游标
	cur, err := f.tracker.Read(ctx)
	if err != nil {
		return res, pkgerrors.Wrap(err, "read tracker")
	}
	res.RowStart = cur.RowStart
	res.NewRowStart = cur.RowStart
	metrics.TrackerRowStart.Set(float64(cur.RowStart))

	// 3. 清单窗口
	ids, err := f.inventory.ReadWindow(ctx, cur.RowStart, int64(n))
	if err != nil {
		return res, pkgerrors.Wrapf(err, "read inventory window [%d, %d)", cur.RowStart, cur.RowStart+int64(n))
	}
	if len(ids) < n {
		res.Exhausted = true
	}

	// 4. 逐个提交
	var submitErr error
	for _, id := range ids {
		ev := granule.NewEvent(id)
		ev.DebugBucket = f.cfg.DebugBucket
		if _, submitErr = f.submitter.Submit(ctx, ev); submitErr != nil {
			break
		}
		res.Submitted++
	}
	metrics.FeederSubmittedTotal.Add(float64(res.Submitted))

	// 5. 只推进已确认前缀；即便 ctx 已取消也要记下
	if res.Submitted > 0 {
		next, err := f.tracker.Advance(context.WithoutCancel(ctx), cur, cur.RowStart+int64(res.Submitted))
		if err != nil {
			f.logger.Error("游标推进失败", "row_start", cur.RowStart, "submitted", res.Submitted, "error", err)
			return res, pkgerrors.Wrapf(err, "advance tracker %d -> %d", cur.RowStart, cur.RowStart+int64(res.Submitted))
		}
		res.NewRowStart = next.RowStart
		metrics.TrackerRowStart.Set(float64(next.RowStart))
	}

	if submitErr != nil {
		f.logger.Error("feeder 提交中断", "row_start", res.RowStart, "confirmed", res.Submitted, "window", len(ids), "error", submitErr)
		return res, pkgerrors.Wrapf(submitErr, "feeder stopped after %d of %d granules", res.Submitted, len(ids))
	}
	if res.Exhausted {
		f.logger.Info("清单已全部提交", "row_start", res.NewRowStart, "submitted", res.Submitted)
	} else {
		f.logger.Info("feeder 提交完成", "row_start", res.RowStart, "new_row_start", res.NewRowStart, "submitted", res.Submitted)
	}
	return res, nil
}

// SubmitEvents 直接提交给定事件，不读也不推进游标（运维补交）。返回已接受的作业 ID；遇到第一个失败即停止
func (f *Feeder) SubmitEvents(ctx context.Context, events []granule.Event) ([]string, error) {
	jobIDs := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.DebugBucket == "" {
			ev.DebugBucket = f.cfg.DebugBucket
		}
		jobID, err := f.submitter.Submit(ctx, ev)
		if err != nil {
			return jobIDs, pkgerrors.Wrapf(err, "submitted %d of %d events", len(jobIDs), len(events))
		}
		jobIDs = append(jobIDs, jobID)
	}
	metrics.FeederSubmittedTotal.Add(float64(len(jobIDs)))
	return jobIDs, nil
}

// Cursor 当前游标（只读）
func (f *Feeder) Cursor(ctx context.Context) (tracker.Cursor, error) {
	return f.tracker.Read(ctx)
}

func runResult(res Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Throttled:
		return "throttled"
	case res.Exhausted:
		return "exhausted"
	default:
		return "submitted"
	}
}
