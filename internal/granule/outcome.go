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

package granule

import (
	"time"

	pkgerrors "granule-backfill/pkg/errors"
)

// Outcome 终态分类
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeRetryableFailure    Outcome = "retryable_failure"
	OutcomeNonRetryableFailure Outcome = "non_retryable_failure"
)

// Outcomes 全部结果，按日志分区扫描顺序
var Outcomes = []Outcome{OutcomeSuccess, OutcomeRetryableFailure, OutcomeNonRetryableFailure}

// ParseOutcome 解析 outcome 字符串
func ParseOutcome(s string) (Outcome, error) {
	for _, o := range Outcomes {
		if string(o) == s {
			return o, nil
		}
	}
	return "", pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "unknown outcome %q", s)
}

// IsFailure 是否失败类结果
func (o Outcome) IsFailure() bool {
	return o == OutcomeRetryableFailure || o == OutcomeNonRetryableFailure
}

// OutcomeRecord 一次终态事件的日志记录（JobOutcomeRecord）
type OutcomeRecord struct {
	GranuleID       string    `json:"granule_id"`
	Attempt         int       `json:"attempt"`
	Outcome         Outcome   `json:"outcome"`
	Platform        string    `json:"platform"`
	AcquisitionDate string    `json:"acquisition_date"`
	JobID           string    `json:"job_id"`
	ObservedAt      time.Time `json:"observed_at"`
	// 以下为诊断信息，不参与分区
	StatusReason    string `json:"status_reason,omitempty"`
	ExitCode        *int   `json:"exit_code,omitempty"`
	ClusterAttempts int    `json:"cluster_attempts,omitempty"`
}

// Event 记录对应的处理事件
func (r OutcomeRecord) Event() Event {
	return Event{GranuleID: r.GranuleID, Attempt: r.Attempt}
}
