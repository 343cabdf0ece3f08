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

package inventory

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// memoryReader 内存清单
type memoryReader struct {
	ids []string
}

// NewMemoryReader 以给定顺序构造清单
func NewMemoryReader(ids []string) Reader {
	cp := make([]string, len(ids))
	copy(cp, ids)
	return &memoryReader{ids: cp}
}

func (r *memoryReader) ReadWindow(ctx context.Context, offset, count int64) ([]string, error) {
	return window(r.ids, offset, count)
}

func (r *memoryReader) Close() error { return nil }

// ScanReport 逐行解析清单报告，对每个 completed 行调用 fn；空行跳过，解析失败立即返回
func ScanReport(r io.Reader, fn func(Row) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		row, err := ParseLine(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if row.Status != StatusCompleted {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return sc.Err()
}

// NewFileReader 一次性载入平面清单报告，仅保留 completed 行，保持文件顺序
func NewFileReader(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory %s: %w", path, err)
	}
	defer f.Close()
	var ids []string
	if err := ScanReport(f, func(row Row) error {
		ids = append(ids, row.GranuleID)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	return &memoryReader{ids: ids}, nil
}
