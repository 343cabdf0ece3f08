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
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"granule-backfill/internal/storage/postgres"
)

// pgReader 从 backfill_inventory 表读取；row_id 决定顺序，导入后不再变化
type pgReader struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewPostgresReader 连接 dsn 并建表
func NewPostgresReader(ctx context.Context, dsn string) (Reader, error) {
	pool, err := postgres.OpenWithSchema(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &pgReader{pool: pool, owned: true}, nil
}

// NewPostgresReaderWithPool 复用连接池
func NewPostgresReaderWithPool(pool *pgxpool.Pool) Reader {
	return &pgReader{pool: pool}
}

func (r *pgReader) ReadWindow(ctx context.Context, offset, count int64) ([]string, error) {
	if offset < 0 || count < 0 {
		return window(nil, offset, count)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT granule_id FROM backfill_inventory ORDER BY row_id OFFSET $1 LIMIT $2`, offset, count)
	if err != nil {
		return nil, fmt.Errorf("read inventory window: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read inventory window: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (r *pgReader) Close() error {
	if r.owned {
		r.pool.Close()
	}
	return nil
}

// ImportStats 导入统计
type ImportStats struct {
	Inserted int64
	Skipped  int64 // 已存在的 granule，顺序保持首次导入时的位置
}

// Import 将平面清单报告中的 completed 行按文件顺序追加到 backfill_inventory；
// 重复导入同一报告是幂等的
func Import(ctx context.Context, pool *pgxpool.Pool, report io.Reader, batchSize int) (ImportStats, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var stats ImportStats
	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		n := batch.Len()
		br := pool.SendBatch(ctx, batch)
		for i := 0; i < n; i++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("import inventory batch: %w", err)
			}
			if tag.RowsAffected() == 1 {
				stats.Inserted++
			} else {
				stats.Skipped++
			}
		}
		batch = &pgx.Batch{}
		return br.Close()
	}
	err := ScanReport(report, func(row Row) error {
		batch.Queue(
			`INSERT INTO backfill_inventory (granule_id, start_datetime, published) VALUES ($1, $2, $3)
			 ON CONFLICT (granule_id) DO NOTHING`,
			row.GranuleID, row.StartTime, row.Published)
		if batch.Len() >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}
