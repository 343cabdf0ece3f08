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

package object

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "granule-backfill/pkg/errors"
)

// MemoryStore 内存对象存储实现
type MemoryStore struct {
	objects map[string]*object
	mu      sync.RWMutex
}

type object struct {
	data      []byte
	updatedAt time.Time
}

// NewMemoryStore 创建新的内存对象存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*object),
	}
}

// Put 写入对象（复制 data，调用方之后修改不影响存储）
func (s *MemoryStore) Put(ctx context.Context, path string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = &object{data: buf, updatedAt: time.Now().UTC()}
	return nil
}

// Get 读取对象
func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, exists := s.objects[path]
	if !exists {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "object %s", path)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// Delete 删除对象
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// List 列出对象
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*ObjectInfo
	for path, obj := range s.objects {
		if strings.HasPrefix(path, prefix) {
			results = append(results, &ObjectInfo{
				Path:      path,
				Size:      int64(len(obj.data)),
				UpdatedAt: obj.updatedAt,
			})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// Exists 检查对象是否存在
func (s *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.objects[path]
	return exists, nil
}

// Close 关闭存储连接
func (s *MemoryStore) Close() error {
	return nil
}
