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
	"encoding/json"
	"strconv"
	"strings"

	pkgerrors "granule-backfill/pkg/errors"
)

// Event 一次 granule 提交（GranuleProcessingEvent）。值类型，构造后不修改；新尝试通过 NewAttempt 得到
type Event struct {
	GranuleID   string `json:"granule_id"`
	Attempt     int    `json:"attempt"`
	DebugBucket string `json:"debug_bucket,omitempty"`
}

// NewEvent 首次提交（attempt=0）
func NewEvent(granuleID string) Event {
	return Event{GranuleID: granuleID}
}

// NewAttempt 返回 attempt+1 的新事件，保留 granule 身份与调试配置
func (e Event) NewAttempt() Event {
	next := e
	next.Attempt = e.Attempt + 1
	return next
}

// Validate 校验事件字段
func (e Event) Validate() error {
	if e.GranuleID == "" {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "granule_id is required")
	}
	if e.Attempt < 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "attempt must be >= 0, got %d", e.Attempt)
	}
	return nil
}

// JobName 集群作业名：点号替换为连字符并追加 _<attempt>
func (e Event) JobName() string {
	return strings.ReplaceAll(e.GranuleID, ".", "-") + "_" + strconv.Itoa(e.Attempt)
}

// Environment 传给集群容器的环境变量
func (e Event) Environment() map[string]string {
	env := map[string]string{
		"GRANULE_ID": e.GranuleID,
		"ATTEMPT":    strconv.Itoa(e.Attempt),
	}
	if e.DebugBucket != "" {
		env["DEBUG_BUCKET"] = e.DebugBucket
	}
	return env
}

// Marshal 序列化为通道消息体
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent 解析通道消息体并校验
func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "decode granule event: %v", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
