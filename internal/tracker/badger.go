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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	pkgerrors "granule-backfill/pkg/errors"
)

// badgerStore 单机持久化实现：键 tracker/<name>，值为 JSON 编码的 Cursor
type badgerStore struct {
	db  *badger.DB
	key []byte
}

// NewBadgerStore 打开 path 下的 badger 数据库；path 为空时使用内存模式
func NewBadgerStore(path, name string) (Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger tracker at %q: %w", path, err)
	}
	return &badgerStore{db: db, key: []byte("tracker/" + name)}, nil
}

func (s *badgerStore) get(txn *badger.Txn) (Cursor, error) {
	item, err := txn.Get(s.key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, err
	}
	var c Cursor
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	})
	return c, err
}

func (s *badgerStore) put(txn *badger.Txn, c Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return txn.Set(s.key, data)
}

func (s *badgerStore) Read(ctx context.Context) (Cursor, error) {
	var c Cursor
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = s.get(txn)
		return err
	})
	return c, err
}

// Advance 在单个读写事务中比较并写入；badger 的乐观并发检测到同键并发提交时返回 ErrConflict
func (s *badgerStore) Advance(ctx context.Context, expected Cursor, newRowStart int64) (Cursor, error) {
	var out Cursor
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := s.get(txn)
		if err != nil {
			return err
		}
		if err := checkAdvance(cur, expected, newRowStart); err != nil {
			out = cur
			return err
		}
		out = Cursor{RowStart: newRowStart, Version: cur.Version + 1}
		return s.put(txn, out)
	})
	if errors.Is(err, badger.ErrConflict) {
		return out, pkgerrors.Wrap(ErrConcurrentWriter, "badger txn conflict")
	}
	return out, err
}

func (s *badgerStore) Reset(ctx context.Context, rowStart int64) (Cursor, error) {
	if err := checkReset(rowStart); err != nil {
		return Cursor{}, err
	}
	var out Cursor
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := s.get(txn)
		if err != nil {
			return err
		}
		out = Cursor{RowStart: rowStart, Version: cur.Version + 1}
		return s.put(txn, out)
	})
	return out, err
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
