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

// Package granule 定义 backfill 的工作单元：granule 标识、处理事件与尝试结果记录。
package granule

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "granule-backfill/pkg/errors"
)

// beginTimeLayout 对应 YYYYDDDTHHMMSS（年 + 年内第几天）
const beginTimeLayout = "2006002T150405"

// ID 解析后的 granule 标识，形如 HLS.S30.T01GEL.2019059T213751.v2.0
type ID struct {
	Product   string
	Platform  string
	Tile      string
	BeginTime time.Time
	Version   string
}

// ParseID 解析 granule 标识；版本段本身含点号（v2.0），因此只按前四个点切分
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ".", 5)
	if len(parts) != 5 {
		return ID{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "granule id %q: want PRODUCT.PLATFORM.TILE.BEGIN.VERSION", s)
	}
	for _, p := range parts {
		if p == "" {
			return ID{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "granule id %q: empty segment", s)
		}
	}
	begin, err := time.Parse(beginTimeLayout, parts[3])
	if err != nil {
		return ID{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "granule id %q: begin time %q", s, parts[3])
	}
	return ID{
		Product:   parts[0],
		Platform:  parts[1],
		Tile:      parts[2],
		BeginTime: begin.UTC(),
		Version:   parts[4],
	}, nil
}

// String 还原为原始标识
func (id ID) String() string {
	return fmt.Sprintf("%s.%s.%s.%s.%s", id.Product, id.Platform, id.Tile, id.BeginTime.Format(beginTimeLayout), id.Version)
}

// AcquisitionDate 采集日期 YYYY-MM-DD，用作日志分区
func (id ID) AcquisitionDate() string {
	return id.BeginTime.Format("2006-01-02")
}
