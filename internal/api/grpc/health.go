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

// Package grpc 提供 gRPC 健康检查服务，供编排系统探活；业务接口只走 HTTP。
package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"granule-backfill/pkg/log"
	"granule-backfill/pkg/utils"
)

// ServiceName 健康检查中登记的服务名
const ServiceName = "granule-backfill"

// Probe 组件探活函数
type Probe func(ctx context.Context) error

// Server 健康检查服务，周期执行 Probe 并更新服务状态
type Server struct {
	health *health.Server
	probes map[string]Probe
	logger *log.Logger
}

// NewServer 创建健康检查服务；初始状态为 SERVING
func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Server{health: health.NewServer(), probes: map[string]Probe{}, logger: logger}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// AddProbe 注册组件探活；任一 Probe 失败时服务状态置为 NOT_SERVING
func (s *Server) AddProbe(name string, p Probe) {
	s.probes[name] = p
}

// Register 注册到 grpc.Server
func (s *Server) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, s.health)
}

// Check 执行一轮探活并更新状态
func (s *Server) Check(ctx context.Context) error {
	var firstErr error
	for name, p := range s.probes {
		if err := p(ctx); err != nil {
			s.logger.Warn("组件探活失败", "component", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	status := healthpb.HealthCheckResponse_SERVING
	if firstErr != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	return firstErr
}

// Run 按 interval 周期探活，直到 ctx 取消
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(utils.PositiveDuration(interval, 15*time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Check(ctx)
		}
	}
}

// Shutdown 将全部服务置为 NOT_SERVING
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
