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

// Package cluster 对接外部计算集群：提交 granule 尝试、查询队列深度，以及集群回报的终态事件模型。
package cluster

import (
	"context"
	"time"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
)

// ActiveStatuses 计入队列深度的集群作业状态
var ActiveStatuses = []string{"SUBMITTED", "PENDING", "RUNNABLE", "STARTING", "RUNNING"}

// Cluster 计算集群
type Cluster interface {
	// Enqueue 提交一次尝试，返回集群作业 ID；集群拒绝时返回包装 ErrRejected 的错误
	Enqueue(ctx context.Context, ev granule.Event) (string, error)
	// QueueDepth 活跃作业数；计数达到 threshold 后可提前返回（threshold <= 0 表示完整计数）
	QueueDepth(ctx context.Context, threshold int) (int, error)
}

// Status 集群作业终态
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Outcome 集群回报的状态变化（ClusterOutcome）。ClusterAttempts 为集群内部的尝试次数，
// 与 Event.Attempt（本系统的重投次数）无关
type Outcome struct {
	Event           granule.Event `json:"event"`
	Status          Status        `json:"status"`
	ExitCode        *int          `json:"exit_code,omitempty"`
	StatusReason    string        `json:"status_reason,omitempty"`
	ClusterAttempts int           `json:"cluster_attempts"`
	JobID           string        `json:"job_id"`
	Platform        string        `json:"platform,omitempty"`
	AcquisitionDate string        `json:"acquisition_date,omitempty"`
	ObservedAt      time.Time     `json:"observed_at,omitempty"`
}

// Normalize 校验并补全元数据。granule id 可解析时平台与采集日期一律取自 id，
// 集群给出的不同值被覆盖，保证同一 granule 的日志落在同一日期分区；
// id 不可解析时两者都必须由集群提供。观测时间缺省取 now
func (o Outcome) Normalize(now time.Time) (Outcome, error) {
	if err := o.Event.Validate(); err != nil {
		return o, err
	}
	if o.Status != StatusSucceeded && o.Status != StatusFailed {
		return o, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "unknown cluster status %q", o.Status)
	}
	id, err := granule.ParseID(o.Event.GranuleID)
	switch {
	case err == nil:
		o.Platform = id.Platform
		o.AcquisitionDate = id.AcquisitionDate()
	case o.Platform == "" || o.AcquisitionDate == "":
		return o, pkgerrors.Wrap(err, "derive outcome metadata")
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = now.UTC()
	}
	return o, nil
}

// IntPtr 便于构造 ExitCode
func IntPtr(v int) *int { return &v }
