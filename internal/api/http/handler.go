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
	"bytes"
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"granule-backfill/internal/channel"
	"granule-backfill/internal/cluster"
	"granule-backfill/internal/feeder"
	"granule-backfill/internal/granule"
	"granule-backfill/internal/logstore"
	"granule-backfill/internal/monitor"
	"granule-backfill/internal/tracker"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/metrics"
)

// Deps Handler 依赖的组件；为 nil 的组件对应路由返回 503
type Deps struct {
	Feeder     *feeder.Feeder
	Monitor    *monitor.Monitor
	Channels   *channel.Set
	Logs       *logstore.Store
	Tracker    tracker.Store
	Visibility time.Duration
	Logger     *log.Logger
}

// Handler HTTP 处理器
type Handler struct {
	deps Deps
}

// NewHandler 创建 Handler
func NewHandler(deps Deps) *Handler {
	if deps.Visibility <= 0 {
		deps.Visibility = channel.DefaultVisibility
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	return &Handler{deps: deps}
}

// errorStatus 哨兵错误到 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case pkgerrors.Is(err, pkgerrors.ErrInvalidArg), pkgerrors.Is(err, pkgerrors.ErrInvalidConfig):
		return consts.StatusBadRequest
	case pkgerrors.Is(err, pkgerrors.ErrNotFound):
		return consts.StatusNotFound
	case pkgerrors.Is(err, pkgerrors.ErrBusy), pkgerrors.Is(err, pkgerrors.ErrConflict):
		return consts.StatusConflict
	case pkgerrors.Is(err, pkgerrors.ErrRejected):
		return consts.StatusBadGateway
	default:
		return consts.StatusInternalServerError
	}
}

func (h *Handler) fail(ctx *app.RequestContext, err error) {
	status := errorStatus(err)
	if status >= consts.StatusInternalServerError {
		h.deps.Logger.Error("请求处理失败", "path", string(ctx.Path()), "error", err)
	}
	ctx.JSON(status, map[string]string{"error": err.Error()})
}

func unavailable(ctx *app.RequestContext, component string) {
	ctx.JSON(consts.StatusServiceUnavailable, map[string]string{"error": component + " not configured"})
}

// bind 解析可选 JSON body 并校验
func bind(ctx *app.RequestContext, req interface{}) error {
	if len(ctx.Request.Body()) > 0 {
		if err := ctx.BindJSON(req); err != nil {
			return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, err.Error())
		}
	}
	return validateRequest(req)
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, utils.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "granule-backfill",
	})
}

// Metrics Prometheus 文本格式指标
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// ReportOutcome 接收集群的作业终态事件
// POST /v1/events
func (h *Handler) ReportOutcome(c context.Context, ctx *app.RequestContext) {
	if h.deps.Monitor == nil {
		unavailable(ctx, "monitor")
		return
	}
	var o cluster.Outcome
	if err := ctx.BindJSON(&o); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid outcome: " + err.Error()})
		return
	}
	d, err := h.deps.Monitor.HandleTerminalEvent(c, o)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

// RunFeeder 执行一次 submit_batch
// POST /v1/feeder/run
func (h *Handler) RunFeeder(c context.Context, ctx *app.RequestContext) {
	if h.deps.Feeder == nil {
		unavailable(ctx, "feeder")
		return
	}
	var req feederRunRequest
	if err := bind(ctx, &req); err != nil {
		h.fail(ctx, err)
		return
	}
	res, err := h.deps.Feeder.SubmitBatch(c, req.Count)
	if err != nil {
		status := errorStatus(err)
		if status >= consts.StatusInternalServerError {
			h.deps.Logger.Error("submit_batch 失败", "error", err, "submitted", res.Submitted)
		}
		ctx.JSON(status, utils.H{"error": err.Error(), "result": res})
		return
	}
	ctx.JSON(consts.StatusOK, res)
}

// SubmitEvents 直接提交指定事件，不经过游标
// POST /v1/feeder/submit
func (h *Handler) SubmitEvents(c context.Context, ctx *app.RequestContext) {
	if h.deps.Feeder == nil {
		unavailable(ctx, "feeder")
		return
	}
	var req submitEventsRequest
	if err := bind(ctx, &req); err != nil {
		h.fail(ctx, err)
		return
	}
	events := make([]granule.Event, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, e.event())
	}
	ids, err := h.deps.Feeder.SubmitEvents(c, events)
	if err != nil {
		ctx.JSON(errorStatus(err), utils.H{"error": err.Error(), "job_ids": ids})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"job_ids": ids})
}

// Redrive 在通道之间搬移消息，默认 failure -> retry
// POST /v1/channels/redrive
func (h *Handler) Redrive(c context.Context, ctx *app.RequestContext) {
	if h.deps.Channels == nil {
		unavailable(ctx, "channels")
		return
	}
	var req redriveRequest
	if err := bind(ctx, &req); err != nil {
		h.fail(ctx, err)
		return
	}
	if req.From == "" {
		req.From = h.deps.Channels.Failure.Name()
	}
	if req.To == "" {
		req.To = h.deps.Channels.Retry.Name()
	}
	from, err := h.deps.Channels.Get(req.From)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	to, err := h.deps.Channels.Get(req.To)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	moved, err := channel.Redrive(c, from, to, req.Limit, h.deps.Visibility)
	if err != nil {
		ctx.JSON(errorStatus(err), utils.H{"error": err.Error(), "moved": moved})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"from": req.From, "to": req.To, "moved": moved})
}

// ChannelStats 通道深度
// GET /v1/channels/:name
func (h *Handler) ChannelStats(c context.Context, ctx *app.RequestContext) {
	if h.deps.Channels == nil {
		unavailable(ctx, "channels")
		return
	}
	ch, err := h.deps.Channels.Get(ctx.Param("name"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	st, err := ch.Stats(c)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, st)
}

// GetTracker 当前游标
// GET /v1/tracker
func (h *Handler) GetTracker(c context.Context, ctx *app.RequestContext) {
	if h.deps.Tracker == nil {
		unavailable(ctx, "tracker")
		return
	}
	cur, err := h.deps.Tracker.Read(c)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, cur)
}

// ResetTracker 运维重置游标
// POST /v1/tracker/reset
func (h *Handler) ResetTracker(c context.Context, ctx *app.RequestContext) {
	if h.deps.Tracker == nil {
		unavailable(ctx, "tracker")
		return
	}
	var req trackerResetRequest
	if err := bind(ctx, &req); err != nil {
		h.fail(ctx, err)
		return
	}
	cur, err := h.deps.Tracker.Reset(c, *req.RowStart)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	h.deps.Logger.Warn("游标已被重置", "row_start", cur.RowStart, "version", cur.Version)
	ctx.JSON(consts.StatusOK, cur)
}

// GetGranule granule 的日志历史与当前状态
// GET /v1/granules/:id
func (h *Handler) GetGranule(c context.Context, ctx *app.RequestContext) {
	if h.deps.Logs == nil {
		unavailable(ctx, "logstore")
		return
	}
	id := ctx.Param("id")
	history, err := h.deps.Logs.History(c, id)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	if len(history) == 0 {
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": "no log records for " + id})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{
		"granule_id": id,
		"current":    history[len(history)-1],
		"history":    history,
	})
}

// ReconcileGranule 手动触发日志迁移
// POST /v1/granules/:id/reconcile
func (h *Handler) ReconcileGranule(c context.Context, ctx *app.RequestContext) {
	if h.deps.Monitor == nil {
		unavailable(ctx, "monitor")
		return
	}
	res, err := h.deps.Monitor.Reconcile(c, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, res)
}

// ListLogs 列出某 outcome 分区下的日志键，可按 ?date=YYYY-MM-DD 过滤
// GET /v1/logs/:outcome
func (h *Handler) ListLogs(c context.Context, ctx *app.RequestContext) {
	if h.deps.Logs == nil {
		unavailable(ctx, "logstore")
		return
	}
	o, err := granule.ParseOutcome(ctx.Param("outcome"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	keys, err := h.deps.Logs.ListOutcome(c, o, ctx.Query("date"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"outcome": o, "keys": keys, "count": len(keys)})
}
