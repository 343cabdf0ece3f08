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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"google.golang.org/grpc"

	apigrpc "granule-backfill/internal/api/grpc"
	"granule-backfill/internal/api/http"
	"granule-backfill/internal/api/http/middleware"
	"granule-backfill/internal/app"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/utils"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用：hertz 控制面 + 可选 gRPC health
type App struct {
	config       *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	health       *apigrpc.Server
	grpcServer   *grpcRun
	otelProvider otelProviderShutdown

	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type grpcRun struct {
	srv *grpc.Server
	lis net.Listener
}

func (g *grpcRun) GracefulStop() {
	if g.lis != nil {
		_ = g.lis.Close()
	}
	if g.srv != nil {
		g.srv.GracefulStop()
	}
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	handler := http.NewHandler(http.Deps{
		Feeder:     bootstrap.Feeder,
		Monitor:    bootstrap.Monitor,
		Channels:   bootstrap.Channels,
		Logs:       bootstrap.Logs,
		Tracker:    bootstrap.Tracker,
		Visibility: bootstrap.Config.Channels.Visibility,
		Logger:     bootstrap.Logger.With("component", "http"),
	})
	mw := middleware.NewMiddleware(bootstrap.Logger.With("component", "access"))
	router := http.NewRouter(handler, mw)

	health := apigrpc.NewServer(bootstrap.Logger.With("component", "health"))
	health.AddProbe("tracker", func(ctx context.Context) error {
		_, err := bootstrap.Tracker.Read(ctx)
		return err
	})
	for _, ch := range bootstrap.Channels.All() {
		ch := ch
		health.AddProbe("channel:"+ch.Name(), func(ctx context.Context) error {
			_, err := ch.Len(ctx)
			return err
		})
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	appObj := &App{
		config: bootstrap,
		router: router,
		health: health,
		bgCtx:  bgCtx,
		cancel: cancel,
	}
	if port := bootstrap.Config.API.GrpcPort; port > 0 {
		gs, err := startGRPC(health, port)
		if err != nil {
			bootstrap.Logger.Warn("gRPC 服务启动失败", "error", err)
		} else {
			appObj.grpcServer = gs
			bootstrap.Logger.Info("gRPC health 已启动", "port", port)
		}
	}
	return appObj, nil
}

// Router HTTP 路由（测试使用）
func (a *App) Router() *http.Router { return a.router }

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.config.Config
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(cfg.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	// 可选：启用链路追踪（OpenTelemetry）
	tracing := cfg.Monitoring.Tracing
	exportEndpoint := utils.CoalesceString(tracing.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if tracing.Enable && exportEndpoint != "" {
		serviceName := utils.CoalesceString(tracing.ServiceName, "granule-backfill-api")
		opts := []provider.Option{
			provider.WithServiceName(serviceName),
			provider.WithExportEndpoint(exportEndpoint),
		}
		if tracing.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
		tracerOpt, tcfg := hertztracing.NewServerTracer()
		a.hertz = a.router.Build(addr, tracerOpt)
		a.hertz.Use(hertztracing.ServerMiddleware(tcfg))
		a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
	} else {
		a.hertz = a.router.Build(addr)
	}

	a.startBackground(a.bgCtx)
	return a.hertz.Run()
}

// startBackground 周期探活与迁移补偿；迁移失败的 granule 只记录在本进程的 Monitor 中
func (a *App) startBackground(ctx context.Context) {
	interval := a.config.Config.Worker.ReconcileInterval
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.health.Run(ctx, 0)
	}()
	go func() {
		defer a.wg.Done()
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := a.config.Monitor.RetryPending(ctx)
				if err != nil {
					a.config.Logger.Warn("补偿日志迁移失败", "error", err, "done", n)
				} else if n > 0 {
					a.config.Logger.Info("补偿日志迁移完成", "granules", n)
				}
			}
		}
	}()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	a.cancel()
	a.wg.Wait()
	a.health.Shutdown()
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	return a.config.Close()
}

// startGRPC 创建并启动 gRPC 服务（在 goroutine 中 Serve），返回 grpcRun 以便 Shutdown 时 GracefulStop
func startGRPC(health *apigrpc.Server, port int) (*grpcRun, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer()
	health.Register(srv)
	go func() {
		_ = srv.Serve(lis)
	}()
	return &grpcRun{srv: srv, lis: lis}, nil
}
