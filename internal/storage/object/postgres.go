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
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"granule-backfill/internal/storage/postgres"
	pkgerrors "granule-backfill/pkg/errors"
)

// PostgresStore backfill_logs 表实现；路径前缀查询走 text_pattern_ops 索引
type PostgresStore struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewPostgresStore 连接 dsn 并建表
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := postgres.OpenWithSchema(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, owned: true}, nil
}

// NewPostgresStoreWithPool 复用连接池
func NewPostgresStoreWithPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, path string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO backfill_logs (path, body, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (path) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`, path, data)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM backfill_logs WHERE path = $1`, path).Scan(&data)
	if postgres.IsNoRows(err) {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "object %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return data, nil
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM backfill_logs WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, octet_length(body), updated_at FROM backfill_logs
		 WHERE path LIKE $1 ESCAPE '\' ORDER BY path`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()
	var out []*ObjectInfo
	for rows.Next() {
		info := &ObjectInfo{}
		if err := rows.Scan(&info.Path, &info.Size, &info.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM backfill_logs WHERE path = $1)`, path).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// likePrefix 转义 LIKE 通配符后追加 %
func likePrefix(prefix string) string {
	var b []byte
	for i := 0; i < len(prefix); i++ {
		switch c := prefix[i]; c {
		case '%', '_', '\\':
			b = append(b, '\\', c)
		default:
			b = append(b, c)
		}
	}
	return string(b) + "%"
}
