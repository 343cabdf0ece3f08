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

package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"granule-backfill/internal/app"
	"granule-backfill/internal/requeuer"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/tracing"
	"granule-backfill/pkg/utils"
)

// App Worker 应用：Feeder 定时投喂、requeuer 消费、日志迁移清扫、凭证轮换
type App struct {
	config *app.Bootstrap
	runner *requeuer.Runner
	tracer *sdktrace.TracerProvider

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp 创建 Worker 应用（由 cmd/worker 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	return &App{
		config: bootstrap,
		runner: requeuer.NewRunner(bootstrap.Requeuer),
	}, nil
}

// Start 启动全部后台循环，立即返回
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return errors.New("worker 已启动")
	}
	cfg := a.config.Config
	logger := a.config.Logger

	tr := cfg.Monitoring.Tracing
	endpoint := utils.CoalesceString(tr.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if tr.Enable && endpoint != "" {
		serviceName := utils.CoalesceString(tr.ServiceName, "granule-backfill-worker")
		tp, err := tracing.InitTracer(tracing.OTelConfig{ServiceName: serviceName, ExportEndpoint: endpoint, Insecure: tr.Insecure})
		if err != nil {
			logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			a.tracer = tp
			logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g

	g.Go(func() error {
		a.runner.Start(gctx)
		<-gctx.Done()
		a.runner.Stop()
		return nil
	})
	g.Go(func() error {
		return a.feedLoop(gctx, cfg.Worker.FeedInterval, cfg.Worker.FeedOnStart)
	})
	g.Go(func() error {
		return every(gctx, cfg.Worker.ReconcileInterval, func(ctx context.Context) { a.Sweep(ctx) })
	})
	if a.config.Rotator != nil {
		g.Go(func() error {
			return a.config.Rotator.Run(gctx, cfg.Credentials.Interval)
		})
	}
	logger.Info("Worker 已启动",
		"feed_interval", cfg.Worker.FeedInterval.String(),
		"consumers", cfg.Requeuer.Consumers,
		"credentials", a.config.Rotator != nil)
	return nil
}

// Feed 执行一次 submit_batch；锁被占用与背压均不视为错误
func (a *App) Feed(ctx context.Context) {
	res, err := a.config.Feeder.SubmitBatch(ctx, 0)
	switch {
	case pkgerrors.Is(err, pkgerrors.ErrBusy):
		a.config.Logger.Info("另一次 submit_batch 正在运行，跳过本轮")
	case err != nil:
		a.config.Logger.Error("submit_batch 失败", "error", err, "submitted", res.Submitted, "row_start", res.NewRowStart)
	case res.Throttled:
		a.config.Logger.Info("队列已满，本轮不提交", "depth", res.Depth)
	default:
		a.config.Logger.Info("submit_batch 完成", "submitted", res.Submitted, "row_start", res.NewRowStart, "exhausted", res.Exhausted)
	}
}

// Sweep 对失败分区中已有成功记录的 granule 执行迁移
func (a *App) Sweep(ctx context.Context) {
	n, err := a.config.Logs.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		a.config.Logger.Warn("日志迁移清扫失败", "error", err, "removed", n)
		return
	}
	if n > 0 {
		a.config.Logger.Info("日志迁移清扫完成", "removed", n)
	}
}

func (a *App) feedLoop(ctx context.Context, interval time.Duration, onStart bool) error {
	if onStart {
		a.Feed(ctx)
	}
	return every(ctx, interval, a.Feed)
}

// every 每 interval 执行一次 fn；interval <= 0 时不执行，阻塞到 ctx 结束
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Shutdown 停止后台循环并释放资源；ctx 超时时不再等待循环退出
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	cancel, g := a.cancel, a.group
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				a.config.Logger.Warn("后台循环退出异常", "error", err)
			}
		case <-ctx.Done():
			a.config.Logger.Warn("等待后台循环退出超时", "error", ctx.Err())
		}
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	return a.config.Close()
}
