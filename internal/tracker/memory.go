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

package tracker

import (
	"context"
	"sync"
)

// memoryStore 内存实现，进程退出即丢失，仅用于开发与测试
type memoryStore struct {
	mu  sync.Mutex
	cur Cursor
}

// NewMemoryStore 创建内存游标存储
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Read(ctx context.Context) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, nil
}

func (s *memoryStore) Advance(ctx context.Context, expected Cursor, newRowStart int64) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkAdvance(s.cur, expected, newRowStart); err != nil {
		return s.cur, err
	}
	s.cur = Cursor{RowStart: newRowStart, Version: s.cur.Version + 1}
	return s.cur, nil
}

func (s *memoryStore) Reset(ctx context.Context, rowStart int64) (Cursor, error) {
	if err := checkReset(rowStart); err != nil {
		return Cursor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Cursor{RowStart: rowStart, Version: s.cur.Version + 1}
	return s.cur, nil
}

func (s *memoryStore) Close() error { return nil }
