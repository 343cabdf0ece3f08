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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
)

// Config 应用配置结构体
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Log         log.Config        `mapstructure:"log"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Tracker     TrackerConfig     `mapstructure:"tracker"`
	Inventory   InventoryConfig   `mapstructure:"inventory"`
	Cluster     ClusterConfig     `mapstructure:"cluster"`
	LogStore    LogStoreConfig    `mapstructure:"logstore"`
	Channels    ChannelsConfig    `mapstructure:"channels"`
	Feeder      FeederConfig      `mapstructure:"feeder"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Requeuer    RequeuerConfig    `mapstructure:"requeuer"`
	Lock        LockConfig        `mapstructure:"lock"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

// APIConfig 控制面 HTTP 服务配置
type APIConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	GrpcPort int           `mapstructure:"grpc_port" validate:"gte=0,lte=65535"` // 0 表示不启动 gRPC health
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// RedisConfig 共享 Redis 连接（channels.type=redis 与 lock.type=redis 使用）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TrackerConfig 进度游标存储
type TrackerConfig struct {
	Type       string `mapstructure:"type" validate:"oneof=memory postgres badger"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres"`
	Name       string `mapstructure:"name" validate:"required"` // 同一存储中可并存多个 backfill 游标
	BadgerPath string `mapstructure:"badger_path" validate:"required_if=Type badger"`
}

// InventoryConfig 有序 granule 清单来源
type InventoryConfig struct {
	Type       string   `mapstructure:"type" validate:"oneof=memory file postgres"`
	DSN        string   `mapstructure:"dsn" validate:"required_if=Type postgres"`
	Path       string   `mapstructure:"path" validate:"required_if=Type file"`
	GranuleIDs []string `mapstructure:"granule_ids"` // type=memory 时的种子数据
}

// ClusterConfig 计算集群客户端
type ClusterConfig struct {
	Type          string        `mapstructure:"type" validate:"oneof=memory http"`
	Endpoint      string        `mapstructure:"endpoint" validate:"required_if=Type http"`
	Queue         string        `mapstructure:"queue" validate:"required"`
	JobDefinition string        `mapstructure:"job_definition"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// SubmitRetries 单个 granule 入队被拒后的本地重试次数（不含首次）
	SubmitRetries int           `mapstructure:"submit_retries" validate:"gte=0"`
	SubmitBackoff time.Duration `mapstructure:"submit_backoff"`
	// RateLimit 每秒最多入队调用数，<=0 不限速
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// LogStoreConfig 尝试日志存储
type LogStoreConfig struct {
	Type            string `mapstructure:"type" validate:"oneof=memory postgres gcs"`
	DSN             string `mapstructure:"dsn" validate:"required_if=Type postgres"`
	Prefix          string `mapstructure:"prefix"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Type gcs"`
	CredentialsFile string `mapstructure:"credentials_file"`
	RelocationMode  string `mapstructure:"relocation_mode" validate:"oneof=delete archive"`
}

// ChannelsConfig retry / failure 通道
type ChannelsConfig struct {
	Type       string        `mapstructure:"type" validate:"oneof=memory redis postgres"`
	DSN        string        `mapstructure:"dsn" validate:"required_if=Type postgres"`
	Retry      string        `mapstructure:"retry" validate:"required"`
	Failure    string        `mapstructure:"failure" validate:"required,nefield=Retry"`
	Visibility time.Duration `mapstructure:"visibility"`
}

// FeederConfig submit_batch 参数
type FeederConfig struct {
	BatchSize     int    `mapstructure:"batch_size" validate:"gt=0"`
	MaxActiveJobs int    `mapstructure:"max_active_jobs" validate:"gt=0"` // 背压阈值：队列深度 >= 该值时本次不提交
	DebugBucket   string `mapstructure:"debug_bucket"`
}

// SignatureConfig 失败特征；kind 为 missing_exit_code | exit_code | status_reason_prefix
type SignatureConfig struct {
	Kind  string `mapstructure:"kind" validate:"oneof=missing_exit_code exit_code status_reason_prefix"`
	Value string `mapstructure:"value"`
}

// MonitorConfig 终态分类策略
type MonitorConfig struct {
	// ClusterRetryAttempts 集群自身的重试预算；集群尝试数达到该值的失败才视为终态
	ClusterRetryAttempts int               `mapstructure:"cluster_retry_attempts" validate:"gt=0"`
	ClusterExit          []SignatureConfig `mapstructure:"cluster_exit" validate:"dive"`
	Retryable            []SignatureConfig `mapstructure:"retryable" validate:"dive"`
	// MaxAttempts 重投上限；attempt 达到该值的可重试失败改记为不可重试并进入 failure 通道，0 表示不限
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=0"`
}

// RequeuerConfig retry 通道消费者
type RequeuerConfig struct {
	Consumers       int           `mapstructure:"consumers" validate:"gte=0"`
	BatchSize       int           `mapstructure:"batch_size" validate:"gt=0"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxReceiveCount int           `mapstructure:"max_receive_count" validate:"gte=0"` // 0 表示不转入 failure 通道
}

// LockConfig Feeder 互斥锁
type LockConfig struct {
	Type string        `mapstructure:"type" validate:"oneof=memory redis"`
	Key  string        `mapstructure:"key"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// SecretsConfig Secret 存储
type SecretsConfig struct {
	Provider string      `mapstructure:"provider" validate:"oneof=memory env vault"`
	Vault    VaultConfig `mapstructure:"vault"`
	// Seed memory provider 的初始内容，仅用于本地开发
	Seed map[string]string `mapstructure:"seed"`
}

// VaultConfig Vault 连接
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// CredentialsConfig Earthdata 临时凭证轮换
type CredentialsConfig struct {
	Enable         bool          `mapstructure:"enable"`
	URL            string        `mapstructure:"url" validate:"required_if=Enable true"`
	UserPassSecret string        `mapstructure:"user_pass_secret"`
	OutputSecret   string        `mapstructure:"output_secret"`
	Interval       time.Duration `mapstructure:"interval"`
}

// WorkerConfig Worker 进程调度
type WorkerConfig struct {
	FeedInterval      time.Duration `mapstructure:"feed_interval"`
	FeedOnStart       bool          `mapstructure:"feed_on_start"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.grpc_port", 0)
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("monitoring.prometheus.enable", true)
	v.SetDefault("monitoring.tracing.enable", false)
	v.SetDefault("monitoring.tracing.service_name", "granule-backfill")
	v.SetDefault("monitoring.tracing.export_endpoint", "")
	v.SetDefault("monitoring.tracing.insecure", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("tracker.type", "memory")
	v.SetDefault("tracker.dsn", "")
	v.SetDefault("tracker.name", "default")
	v.SetDefault("tracker.badger_path", "")
	v.SetDefault("inventory.type", "memory")
	v.SetDefault("inventory.dsn", "")
	v.SetDefault("inventory.path", "")
	v.SetDefault("cluster.type", "memory")
	v.SetDefault("cluster.endpoint", "")
	v.SetDefault("cluster.queue", "granule-processing")
	v.SetDefault("cluster.job_definition", "")
	v.SetDefault("cluster.token", "")
	v.SetDefault("cluster.timeout", "30s")
	v.SetDefault("cluster.submit_retries", 3)
	v.SetDefault("cluster.submit_backoff", "1s")
	v.SetDefault("cluster.rate_limit", 0)
	v.SetDefault("cluster.burst", 1)
	v.SetDefault("logstore.type", "memory")
	v.SetDefault("logstore.dsn", "")
	v.SetDefault("logstore.prefix", "logs")
	v.SetDefault("logstore.bucket", "")
	v.SetDefault("logstore.credentials_file", "")
	v.SetDefault("logstore.relocation_mode", "delete")
	v.SetDefault("channels.type", "memory")
	v.SetDefault("channels.dsn", "")
	v.SetDefault("channels.retry", "retry")
	v.SetDefault("channels.failure", "failure")
	v.SetDefault("channels.visibility", "5m")
	v.SetDefault("feeder.batch_size", 50)
	v.SetDefault("feeder.max_active_jobs", 10000)
	v.SetDefault("feeder.debug_bucket", "")
	v.SetDefault("monitor.cluster_retry_attempts", 3)
	v.SetDefault("monitor.max_attempts", 3)
	v.SetDefault("requeuer.consumers", 1)
	v.SetDefault("requeuer.batch_size", 10)
	v.SetDefault("requeuer.poll_interval", "5s")
	v.SetDefault("requeuer.max_receive_count", 3)
	v.SetDefault("lock.type", "memory")
	v.SetDefault("lock.key", "granule-backfill:feeder")
	v.SetDefault("lock.ttl", "15m")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path_prefix", "secret")
	v.SetDefault("credentials.enable", false)
	v.SetDefault("credentials.url", "")
	v.SetDefault("credentials.user_pass_secret", "edl-user-pass")
	v.SetDefault("credentials.output_secret", "edl-s3-credentials")
	v.SetDefault("credentials.interval", "30m")
	v.SetDefault("worker.feed_interval", "60m")
	v.SetDefault("worker.feed_on_start", false)
	v.SetDefault("worker.reconcile_interval", "5m")
}

// DefaultClusterExit 集群重试策略中直接 EXIT（不再由集群重试）的失败特征
func DefaultClusterExit() []SignatureConfig {
	return []SignatureConfig{
		{Kind: "status_reason_prefix", Value: "CannotPullContainerError"},
		{Kind: "status_reason_prefix", Value: "Host EC2"},
	}
}

// DefaultRetryable 默认可重试失败特征：无退出码（实例回收、镜像拉取失败等基础设施中断）
func DefaultRetryable() []SignatureConfig {
	return []SignatureConfig{
		{Kind: "missing_exit_code"},
	}
}

// LoadConfig 加载配置文件；configPath 为空时只使用默认值与环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	if config.Monitor.ClusterExit == nil {
		config.Monitor.ClusterExit = DefaultClusterExit()
	}
	if config.Monitor.Retryable == nil {
		config.Monitor.Retryable = DefaultRetryable()
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

var validate = validator.New()

// Validate 校验配置；失败时返回 ErrInvalidConfig 包装的字段错误
func Validate(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidConfig, err)
	}
	return nil
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}
