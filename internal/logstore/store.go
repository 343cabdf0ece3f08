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

package logstore

import (
	"context"

	"granule-backfill/internal/storage/object"
	"granule-backfill/pkg/config"
	"granule-backfill/pkg/log"
)

// NewStore 根据配置创建日志存储
func NewStore(ctx context.Context, cfg config.LogStoreConfig, logger *log.Logger) (*Store, error) {
	backend, err := object.NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.Prefix, RelocationMode(cfg.RelocationMode), logger), nil
}
