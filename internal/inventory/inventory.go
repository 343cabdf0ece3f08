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

// Package inventory 读取有序、稳定的候选 granule 清单。
package inventory

import (
	"context"
	"regexp"
	"strings"
	"time"

	pkgerrors "granule-backfill/pkg/errors"
)

// Reader 按偏移读取清单窗口；返回少于 count 条表示清单已耗尽
type Reader interface {
	ReadWindow(ctx context.Context, offset, count int64) ([]string, error)
	Close() error
}

// StatusCompleted 只有已完成的 granule 进入 backfill 清单
const StatusCompleted = "completed"

// Row 清单报告中的一行：granule id、开始时间、状态（completed | failed | queued）、是否已发布
type Row struct {
	GranuleID string
	StartTime *time.Time
	Status    string
	Published bool
}

var rowPattern = regexp.MustCompile(`^(\S+)\s(.*)\s(\S+)\s(t|f)$`)

// startTimeLayout 报告中的时间形如 2019-02-28\ 21:37:51.123+00
const startTimeLayout = "2006-01-02T15:04:05.999999Z07"

// ParseLine 解析一行清单报告；开始时间为 \N 时视为未知
func ParseLine(line string) (Row, error) {
	m := rowPattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return Row{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "inventory line %q", line)
	}
	row := Row{GranuleID: m[1], Status: m[3], Published: m[4] == "t"}
	if raw := m[2]; raw != `\N` {
		normalized := strings.Replace(raw, `\ `, "T", 1)
		t, err := time.Parse(startTimeLayout, normalized)
		if err != nil {
			return Row{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "inventory start time %q", raw)
		}
		t = t.UTC()
		row.StartTime = &t
	}
	return row, nil
}

// window 对内存切片取 [offset, offset+count)
func window(ids []string, offset, count int64) ([]string, error) {
	if offset < 0 || count < 0 {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "window offset=%d count=%d", offset, count)
	}
	n := int64(len(ids))
	if offset >= n || count == 0 {
		return []string{}, nil
	}
	end := offset + count
	if end > n {
		end = n
	}
	out := make([]string, end-offset)
	copy(out, ids[offset:end])
	return out, nil
}
