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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"granule-backfill/internal/api/http/middleware"
)

// Router HTTP 路由
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	rateLimit  float64
	burst      int
}

// NewRouter 创建路由
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetRateLimit 为 /v1 写接口设置限流
func (r *Router) SetRateLimit(rps float64, burst int) {
	r.rateLimit = rps
	r.burst = burst
}

// Build 创建 Hertz 实例并注册路由；opts 用于追加 tracer 等服务端选项
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	all := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(all...)
	r.register(h)
	return h
}

func (r *Router) register(h *server.Hertz) {
	h.Use(r.middleware.AccessLog(), r.middleware.CORS())

	h.GET("/health", r.handler.HealthCheck)
	h.GET("/metrics", r.handler.Metrics)

	v1 := h.Group("/v1")
	{
		v1.GET("/tracker", r.handler.GetTracker)
		v1.GET("/channels/:name", r.handler.ChannelStats)
		v1.GET("/granules/:id", r.handler.GetGranule)
		v1.GET("/logs/:outcome", r.handler.ListLogs)
	}

	write := v1.Group("", r.middleware.RateLimit(r.rateLimit, r.burst))
	{
		write.POST("/events", r.handler.ReportOutcome)
		write.POST("/feeder/run", r.handler.RunFeeder)
		write.POST("/feeder/submit", r.handler.SubmitEvents)
		write.POST("/channels/redrive", r.handler.Redrive)
		write.POST("/tracker/reset", r.handler.ResetTracker)
		write.POST("/granules/:id/reconcile", r.handler.ReconcileGranule)
	}
}
