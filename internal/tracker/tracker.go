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

// Package tracker 持久化 backfill 进度游标：row_start 之前的清单位置均已至少提交一次。
//
// 游标推进是带版本的 compare-and-swap：调用方携带读到的 Cursor，存储仅在版本一致时写入，
// 因此单写者约束可在进程内检测，而不依赖外部调度不重叠。
package tracker

import (
	"context"

	pkgerrors "granule-backfill/pkg/errors"
)

// Cursor 进度游标；Version 每次成功写入加一，0 表示从未写入
type Cursor struct {
	RowStart int64 `json:"row_start"`
	Version  int64 `json:"version"`
}

var (
	// ErrConcurrentWriter 期望版本与存储不一致：存在另一个写者
	ErrConcurrentWriter = pkgerrors.Wrap(pkgerrors.ErrInvariantViolation, "tracker: concurrent writer detected")
	// ErrNonMonotonic 试图让 row_start 回退
	ErrNonMonotonic = pkgerrors.Wrap(pkgerrors.ErrInvariantViolation, "tracker: non-monotonic write")
)

// Store 进度游标存储；只有 Feeder 推进游标，Reset 仅供运维重启 backfill
type Store interface {
	// Read 读取当前游标；从未写入时返回零值
	Read(ctx context.Context) (Cursor, error)
	// Advance 在 expected 仍为当前值时写入 newRowStart，返回新游标
	Advance(ctx context.Context, expected Cursor, newRowStart int64) (Cursor, error)
	// Reset 无条件设置 row_start（运维操作），版本照常递增
	Reset(ctx context.Context, rowStart int64) (Cursor, error)
	Close() error
}

// checkAdvance 校验 CAS 前置条件；current 为存储中的实际值
func checkAdvance(current, expected Cursor, newRowStart int64) error {
	if newRowStart < 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "row_start must be >= 0, got %d", newRowStart)
	}
	if current != expected {
		return pkgerrors.Wrapf(ErrConcurrentWriter, "expected %+v, found %+v", expected, current)
	}
	if newRowStart < current.RowStart {
		return pkgerrors.Wrapf(ErrNonMonotonic, "row_start %d -> %d", current.RowStart, newRowStart)
	}
	return nil
}

func checkReset(rowStart int64) error {
	if rowStart < 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "row_start must be >= 0, got %d", rowStart)
	}
	return nil
}
