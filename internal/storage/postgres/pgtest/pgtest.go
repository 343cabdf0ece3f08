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

// Package pgtest 提供 PostgreSQL 集成测试辅助。
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"granule-backfill/internal/storage/postgres"
)

// TestDSNEnv 集成测试使用的连接串环境变量；未设置时跳过依赖 PostgreSQL 的测试
const TestDSNEnv = "TEST_BACKFILL_DSN"

// OpenTestPool 打开测试库并建表，未配置 DSN 时 Skip
func OpenTestPool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(TestDSNEnv)
	if dsn == "" {
		t.Skip(TestDSNEnv + " not set, skipping postgres integration test")
	}
	ctx := context.Background()
	pool, err := postgres.OpenWithSchema(ctx, dsn)
	if err != nil {
		t.Fatalf("open test postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
