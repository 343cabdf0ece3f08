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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"granule-backfill/internal/storage/postgres"
)

// pgStore PostgreSQL 实现：backfill_tracker 表中每个 name 一行
type pgStore struct {
	pool  *pgxpool.Pool
	name  string
	owned bool
}

// NewPostgresStore 连接 dsn 并建表；name 区分同库中的多个 backfill
func NewPostgresStore(ctx context.Context, dsn, name string) (Store, error) {
	pool, err := postgres.OpenWithSchema(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &pgStore{pool: pool, name: name, owned: true}, nil
}

// NewPostgresStoreWithPool 复用已有连接池（调用方负责建表与关闭）
func NewPostgresStoreWithPool(pool *pgxpool.Pool, name string) Store {
	return &pgStore{pool: pool, name: name}
}

func (s *pgStore) Read(ctx context.Context) (Cursor, error) {
	var c Cursor
	err := s.pool.QueryRow(ctx,
		`SELECT row_start, version FROM backfill_tracker WHERE name = $1`, s.name).Scan(&c.RowStart, &c.Version)
	if postgres.IsNoRows(err) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("read tracker %s: %w", s.name, err)
	}
	return c, nil
}

// Advance 行锁内比较并写入；行不存在时先补一行 (0, 0)，与 Read 的零值语义一致
func (s *pgStore) Advance(ctx context.Context, expected Cursor, newRowStart int64) (Cursor, error) {
	var out Cursor
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backfill_tracker (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, s.name); err != nil {
			return err
		}
		var cur Cursor
		if err := tx.QueryRow(ctx,
			`SELECT row_start, version FROM backfill_tracker WHERE name = $1 FOR UPDATE`, s.name).Scan(&cur.RowStart, &cur.Version); err != nil {
			return err
		}
		if err := checkAdvance(cur, expected, newRowStart); err != nil {
			out = cur
			return err
		}
		return tx.QueryRow(ctx,
			`UPDATE backfill_tracker SET row_start = $2, version = version + 1, updated_at = now()
			 WHERE name = $1 RETURNING row_start, version`, s.name, newRowStart).Scan(&out.RowStart, &out.Version)
	})
	return out, err
}

func (s *pgStore) Reset(ctx context.Context, rowStart int64) (Cursor, error) {
	if err := checkReset(rowStart); err != nil {
		return Cursor{}, err
	}
	var out Cursor
	err := s.pool.QueryRow(ctx,
		`INSERT INTO backfill_tracker (name, row_start, version) VALUES ($1, $2, 1)
		 ON CONFLICT (name) DO UPDATE SET row_start = EXCLUDED.row_start,
		   version = backfill_tracker.version + 1, updated_at = now()
		 RETURNING row_start, version`, s.name, rowStart).Scan(&out.RowStart, &out.Version)
	if err != nil {
		return Cursor{}, fmt.Errorf("reset tracker %s: %w", s.name, err)
	}
	return out, nil
}

func (s *pgStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
