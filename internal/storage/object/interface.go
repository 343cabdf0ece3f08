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

// Package object 提供按路径寻址的对象存储（内存 / PostgreSQL / GCS），供尝试日志使用。
package object

import (
	"context"
	"time"
)

// Store 对象存储接口
type Store interface {
	// Put 写入（覆盖）对象
	Put(ctx context.Context, path string, data []byte) error
	// Get 读取对象；不存在时返回包装 ErrNotFound 的错误
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete 删除对象；不存在视为成功（delete-if-exists）
	Delete(ctx context.Context, path string) error
	// List 列出前缀下的对象，按路径升序
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)
	// Exists 检查对象是否存在
	Exists(ctx context.Context, path string) (bool, error)
	// Close 关闭存储连接
	Close() error
}

// ObjectInfo 对象信息
type ObjectInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
