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

// Package credentials 定期用 Earthdata Login 账号换取临时 S3 凭证并写回 secret 存储，
// 供处理作业读取。
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/secrets"
	"granule-backfill/pkg/utils"
)

// AuthHost Earthdata Login 认证域；重定向到该域时保留 basic auth
const AuthHost = "urs.earthdata.nasa.gov"

const maxRedirects = 10

// Config 轮换参数
type Config struct {
	URL            string
	UserPassSecret string
	OutputSecret   string
	Timeout        time.Duration
}

// userPass 账号 secret 的内容
type userPass struct {
	Username string `json:"USERNAME"`
	Password string `json:"PASSWORD"`
}

// s3Credentials s3credentials 接口响应
type s3Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
	Expiration      string `json:"expiration"`
}

// Output 写回 secret 的内容
type Output struct {
	AccessKeyID     string `json:"ACCESS_KEY_ID"`
	SecretAccessKey string `json:"SECRET_ACCESS_KEY"`
	SessionToken    string `json:"SESSION_TOKEN"`
}

// Rotator 凭证轮换器
type Rotator struct {
	store  secrets.Store
	cfg    Config
	client *resty.Client
	logger *log.Logger
}

// NewRotator 创建轮换器
func NewRotator(store secrets.Store, cfg Config, logger *log.Logger) *Rotator {
	cfg.Timeout = utils.PositiveDuration(cfg.Timeout, 30*time.Second)
	if logger == nil {
		logger = log.Nop()
	}
	return &Rotator{
		store:  store,
		cfg:    cfg,
		client: resty.New().SetTimeout(cfg.Timeout).SetRedirectPolicy(authRedirectPolicy()),
		logger: logger,
	}
}

// Rotate 读取账号、换取临时凭证并写回输出 secret
func (r *Rotator) Rotate(ctx context.Context) (Output, error) {
	raw, err := r.store.Get(ctx, r.cfg.UserPassSecret)
	if err != nil {
		return Output{}, pkgerrors.Wrapf(err, "read secret %s", r.cfg.UserPassSecret)
	}
	var up userPass
	if err := json.Unmarshal([]byte(raw), &up); err != nil {
		return Output{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "secret %s is not {USERNAME, PASSWORD} json: %v", r.cfg.UserPassSecret, err)
	}
	if up.Username == "" || up.Password == "" {
		return Output{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "secret %s missing USERNAME or PASSWORD", r.cfg.UserPassSecret)
	}

	var creds s3Credentials
	resp, err := r.client.R().
		SetContext(ctx).
		SetBasicAuth(up.Username, up.Password).
		SetResult(&creds).
		Get(r.cfg.URL)
	if err != nil {
		return Output{}, fmt.Errorf("request s3 credentials: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Output{}, fmt.Errorf("request s3 credentials: unexpected status %d", resp.StatusCode())
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" || creds.SessionToken == "" {
		return Output{}, fmt.Errorf("request s3 credentials: incomplete response")
	}

	out := Output{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}
	body, err := json.Marshal(out)
	if err != nil {
		return Output{}, err
	}
	if err := r.store.Set(ctx, r.cfg.OutputSecret, string(body)); err != nil {
		return Output{}, pkgerrors.Wrapf(err, "write secret %s", r.cfg.OutputSecret)
	}
	r.logger.Info("临时 S3 凭证已更新", "secret", r.cfg.OutputSecret, "expiration", creds.Expiration)
	return out, nil
}

// authRedirectPolicy 只在同域或认证域之间的重定向上携带 basic auth
func authRedirectPolicy() resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		prev := via[len(via)-1].URL.Hostname()
		next := req.URL.Hostname()
		if prev == next || next == AuthHost || prev == AuthHost {
			if auth := via[0].Header.Get("Authorization"); auth != "" {
				req.Header.Set("Authorization", auth)
			}
		} else {
			req.Header.Del("Authorization")
		}
		return nil
	})
}

// Run 立即轮换一次，之后每 interval 轮换一次，直到 ctx 结束
func (r *Rotator) Run(ctx context.Context, interval time.Duration) error {
	interval = utils.PositiveDuration(interval, 30*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Rotate(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("凭证轮换失败", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
