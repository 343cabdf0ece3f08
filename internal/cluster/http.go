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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
)

// HTTPConfig 批处理集群 REST 接口配置
type HTTPConfig struct {
	Endpoint      string
	Queue         string
	JobDefinition string
	Token         string
	Timeout       time.Duration
}

// HTTPCluster 通过 REST 接口提交作业与统计队列深度
//
//	POST {endpoint}/v1/queues/{queue}/jobs           -> 201 {"job_id": "..."}
//	GET  {endpoint}/v1/queues/{queue}/jobs?status=S  -> 200 {"count": n}
type HTTPCluster struct {
	client *resty.Client
	cfg    HTTPConfig
}

type submitJobRequest struct {
	JobName       string            `json:"job_name"`
	JobDefinition string            `json:"job_definition,omitempty"`
	Environment   map[string]string `json:"environment"`
	GranuleID     string            `json:"granule_id"`
	Attempt       int               `json:"attempt"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

type countResponse struct {
	Count int `json:"count"`
}

// NewHTTPCluster 创建 REST 集群客户端；重试由 Submitter 负责，此处不开启 resty 自带重试
func NewHTTPCluster(cfg HTTPConfig) *HTTPCluster {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPCluster{client: client, cfg: cfg}
}

func (c *HTTPCluster) jobsPath() string {
	return "/v1/queues/" + url.PathEscape(c.cfg.Queue) + "/jobs"
}

func (c *HTTPCluster) Enqueue(ctx context.Context, ev granule.Event) (string, error) {
	var out submitJobResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(submitJobRequest{
			JobName:       ev.JobName(),
			JobDefinition: c.cfg.JobDefinition,
			Environment:   ev.Environment(),
			GranuleID:     ev.GranuleID,
			Attempt:       ev.Attempt,
		}).
		SetResult(&out).
		Post(c.jobsPath())
	if err != nil {
		return "", fmt.Errorf("提交集群作业失败: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", pkgerrors.Wrapf(pkgerrors.ErrRejected, "cluster returned %d: %s", resp.StatusCode(), resp.String())
	}
	if out.JobID == "" {
		return "", pkgerrors.Wrap(pkgerrors.ErrRejected, "cluster response missing job_id")
	}
	return out.JobID, nil
}

// QueueDepth 逐个活跃状态计数，累计达到 threshold 即停止
func (c *HTTPCluster) QueueDepth(ctx context.Context, threshold int) (int, error) {
	total := 0
	for _, status := range ActiveStatuses {
		var out countResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParam("status", status).
			SetResult(&out).
			Get(c.jobsPath())
		if err != nil {
			return 0, fmt.Errorf("查询队列深度失败: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return 0, fmt.Errorf("queue depth %s: status %d: %s", status, resp.StatusCode(), resp.String())
		}
		total += out.Count
		if threshold > 0 && total >= threshold {
			break
		}
	}
	return total, nil
}
