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

// Package policy 将集群终态事件分类为 成功 / 可重试失败 / 不可重试失败 / 忽略。
//
// 失败特征是显式的、可配置的标签枚举（Signature），新增瞬时失败类型只需改配置。
package policy

import (
	"fmt"
	"strconv"
	"strings"

	"granule-backfill/internal/cluster"
	"granule-backfill/internal/granule"
	"granule-backfill/pkg/config"
	pkgerrors "granule-backfill/pkg/errors"
)

// Kind 失败特征种类
type Kind string

const (
	// KindMissingExitCode 没有退出码：容器未运行到结束（实例回收、镜像拉取失败等）
	KindMissingExitCode Kind = "missing_exit_code"
	// KindExitCode 退出码等于 Value
	KindExitCode Kind = "exit_code"
	// KindStatusReasonPrefix 集群状态原因以 Value 开头
	KindStatusReasonPrefix Kind = "status_reason_prefix"
)

// Signature 一个失败特征
type Signature struct {
	Kind     Kind
	Value    string
	exitCode int
}

// NewSignature 构造并校验特征
func NewSignature(kind Kind, value string) (Signature, error) {
	s := Signature{Kind: kind, Value: value}
	switch kind {
	case KindMissingExitCode:
	case KindExitCode:
		code, err := strconv.Atoi(value)
		if err != nil {
			return s, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "exit_code signature value %q", value)
		}
		s.exitCode = code
	case KindStatusReasonPrefix:
		if value == "" {
			return s, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "status_reason_prefix signature needs a value")
		}
	default:
		return s, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "unknown signature kind %q", kind)
	}
	return s, nil
}

// Matches 失败事件是否符合该特征
func (s Signature) Matches(o cluster.Outcome) bool {
	switch s.Kind {
	case KindMissingExitCode:
		return o.ExitCode == nil
	case KindExitCode:
		return o.ExitCode != nil && *o.ExitCode == s.exitCode
	case KindStatusReasonPrefix:
		return strings.HasPrefix(o.StatusReason, s.Value)
	}
	return false
}

func (s Signature) String() string {
	if s.Kind == KindMissingExitCode {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s=%s", s.Kind, s.Value)
}

// Policy 分类策略
type Policy struct {
	// ClusterRetryAttempts 集群自身的重试预算；失败事件的集群尝试数小于该值且不匹配 ClusterExit 时，集群仍会重试
	ClusterRetryAttempts int
	// ClusterExit 集群重试策略中直接退出（不再重试）的特征
	ClusterExit []Signature
	// Retryable 终态失败中交由 Requeuer 重投的特征；其余终态失败进入 failure 通道
	Retryable []Signature
	// MaxAttempts 重投上限，0 表示不限
	MaxAttempts int
}

// Decision 分类结果；Final=false 表示集群仍会自行重试，本系统不记录也不路由
type Decision struct {
	Final   bool            `json:"final"`
	Outcome granule.Outcome `json:"outcome,omitempty"`
	Reason  string          `json:"reason"`
}

// FromConfig 由配置构造策略
func FromConfig(cfg config.MonitorConfig) (*Policy, error) {
	p := &Policy{ClusterRetryAttempts: cfg.ClusterRetryAttempts, MaxAttempts: cfg.MaxAttempts}
	if p.ClusterRetryAttempts <= 0 {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "cluster_retry_attempts must be > 0")
	}
	if p.MaxAttempts < 0 {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "max_attempts must be >= 0")
	}
	var err error
	if p.ClusterExit, err = signatures(cfg.ClusterExit); err != nil {
		return nil, err
	}
	if p.Retryable, err = signatures(cfg.Retryable); err != nil {
		return nil, err
	}
	return p, nil
}

func signatures(in []config.SignatureConfig) ([]Signature, error) {
	out := make([]Signature, 0, len(in))
	for _, c := range in {
		s, err := NewSignature(Kind(c.Kind), c.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func firstMatch(sigs []Signature, o cluster.Outcome) (Signature, bool) {
	for _, s := range sigs {
		if s.Matches(o) {
			return s, true
		}
	}
	return Signature{}, false
}

// Classify 分类一个集群事件
func (p *Policy) Classify(o cluster.Outcome) Decision {
	if o.Status == cluster.StatusSucceeded {
		return Decision{Final: true, Outcome: granule.OutcomeSuccess, Reason: "succeeded"}
	}

	var finalReason string
	if sig, ok := firstMatch(p.ClusterExit, o); ok {
		finalReason = "cluster exits on " + sig.String()
	} else if o.ClusterAttempts >= p.ClusterRetryAttempts {
		finalReason = fmt.Sprintf("cluster retry budget exhausted (%d/%d)", o.ClusterAttempts, p.ClusterRetryAttempts)
	} else {
		return Decision{
			Final:  false,
			Reason: fmt.Sprintf("cluster will retry (%d/%d)", o.ClusterAttempts, p.ClusterRetryAttempts),
		}
	}

	if sig, ok := firstMatch(p.Retryable, o); ok {
		if p.MaxAttempts > 0 && o.Event.Attempt >= p.MaxAttempts {
			return Decision{
				Final:   true,
				Outcome: granule.OutcomeNonRetryableFailure,
				Reason:  fmt.Sprintf("%s; retryable %s but attempts exhausted (%d/%d)", finalReason, sig, o.Event.Attempt, p.MaxAttempts),
			}
		}
		return Decision{Final: true, Outcome: granule.OutcomeRetryableFailure, Reason: finalReason + "; retryable " + sig.String()}
	}
	return Decision{Final: true, Outcome: granule.OutcomeNonRetryableFailure, Reason: finalReason + "; no retryable signature"}
}
