package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		FeederSubmittedTotal, FeederThrottledTotal, FeederRunsTotal, TrackerRowStart,
		ClusterEnqueueDuration,
		MonitorOutcomesTotal, MonitorIgnoredTotal, RelocationFailuresTotal,
		RequeuerResubmittedTotal, RequeuerParkedTotal,
		ChannelRedrivenTotal,
	)
}

// FeederSubmittedTotal Feeder 成功交给集群的 granule 数
var FeederSubmittedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "backfill_feeder_submitted_total",
		Help: "Feeder 成功提交的 granule 总数",
	},
)

// FeederThrottledTotal 因队列深度达到阈值而跳过的 Feeder 调用次数
var FeederThrottledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "backfill_feeder_throttled_total",
		Help: "因背压跳过的 Feeder 调用次数",
	},
)

// FeederRunsTotal Feeder 调用次数（按结果）
var FeederRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backfill_feeder_runs_total",
		Help: "Feeder 调用次数（按结果）",
	},
	[]string{"result"}, // submitted | throttled | exhausted | busy | error
)

// TrackerRowStart 当前游标位置
var TrackerRowStart = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "backfill_tracker_row_start",
		Help: "Progress tracker 当前 row_start",
	},
)

// ClusterEnqueueDuration 单次集群入队调用耗时（秒）
var ClusterEnqueueDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "backfill_cluster_enqueue_seconds",
		Help:    "集群入队调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"result"}, // accepted | rejected | error
)

// MonitorOutcomesTotal Monitor 记录的终态结果数
var MonitorOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backfill_monitor_outcomes_total",
		Help: "Monitor 记录的终态结果（按 outcome）",
	},
	[]string{"outcome"},
)

// MonitorIgnoredTotal 集群仍会自行重试、因此被忽略的事件数
var MonitorIgnoredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "backfill_monitor_ignored_total",
		Help: "被忽略的非终态事件数",
	},
)

// RelocationFailuresTotal 成功后日志迁移失败次数
var RelocationFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "backfill_logstore_relocation_failures_total",
		Help: "日志迁移（reconcile）失败次数",
	},
)

// RequeuerResubmittedTotal Requeuer 重新提交的尝试数
var RequeuerResubmittedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "backfill_requeuer_resubmitted_total",
		Help: "Requeuer 重新提交总数",
	},
)

// RequeuerParkedTotal 超过最大投递次数被转入 failure 通道的消息数
var RequeuerParkedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "backfill_requeuer_parked_total",
		Help: "Requeuer 转入 failure 通道的消息数",
	},
)

// ChannelRedrivenTotal redrive 移动的消息数
var ChannelRedrivenTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backfill_channel_redriven_total",
		Help: "redrive 移动的消息数",
	},
	[]string{"from", "to"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
