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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPIURL = "http://localhost:8080"

func apiBaseURL() string {
	if u := os.Getenv("GRANULE_BACKFILL_API_URL"); u != "" {
		return u
	}
	return defaultAPIURL
}

// apiClient 控制面 HTTP 客户端
type apiClient struct {
	rc *resty.Client
}

func newClient(baseURL string) *apiClient {
	if baseURL == "" {
		baseURL = apiBaseURL()
	}
	return &apiClient{rc: resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")}
}

// do 发送请求并把响应体原样解码到 out；非 2xx 时返回服务端的 error 字段
func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	req := c.rc.R()
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), e.Error)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), resp.String())
	}
	if out != nil {
		return json.Unmarshal(resp.Body(), out)
	}
	return nil
}

// printJSON 缩进输出
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
