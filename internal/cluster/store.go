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

package cluster

import (
	"fmt"

	"granule-backfill/pkg/config"
)

// NewCluster 根据配置创建集群客户端（memory | http）
func NewCluster(cfg config.ClusterConfig) (Cluster, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCluster(), nil
	case "http":
		return NewHTTPCluster(HTTPConfig{
			Endpoint:      cfg.Endpoint,
			Queue:         cfg.Queue,
			JobDefinition: cfg.JobDefinition,
			Token:         cfg.Token,
			Timeout:       cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("不支持的 cluster 类型: %s", cfg.Type)
	}
}

// SubmitterConfigFrom 从集群配置提取提交参数
func SubmitterConfigFrom(cfg config.ClusterConfig) SubmitterConfig {
	return SubmitterConfig{
		Retries:   cfg.SubmitRetries,
		Backoff:   cfg.SubmitBackoff,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}
}
