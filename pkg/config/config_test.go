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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	pkgerrors "granule-backfill/pkg/errors"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9000
  host: "127.0.0.1"
log:
  level: "debug"
feeder:
  batch_size: 25
  max_active_jobs: 500
monitor:
  cluster_retry_attempts: 2
  retryable:
    - kind: missing_exit_code
    - kind: exit_code
      value: "137"
worker:
  feed_interval: 15m
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 || cfg.API.Host != "127.0.0.1" {
		t.Errorf("API: got %+v", cfg.API)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
	if cfg.Feeder.BatchSize != 25 || cfg.Feeder.MaxActiveJobs != 500 {
		t.Errorf("Feeder: got %+v", cfg.Feeder)
	}
	if cfg.Monitor.ClusterRetryAttempts != 2 {
		t.Errorf("Monitor.ClusterRetryAttempts: got %d", cfg.Monitor.ClusterRetryAttempts)
	}
	if len(cfg.Monitor.Retryable) != 2 || cfg.Monitor.Retryable[1].Value != "137" {
		t.Errorf("Monitor.Retryable: got %+v", cfg.Monitor.Retryable)
	}
	if len(cfg.Monitor.ClusterExit) != len(DefaultClusterExit()) {
		t.Errorf("Monitor.ClusterExit should fall back to defaults, got %+v", cfg.Monitor.ClusterExit)
	}
	if cfg.Monitor.MaxAttempts != 3 {
		t.Errorf("Monitor.MaxAttempts default: got %d", cfg.Monitor.MaxAttempts)
	}
	if cfg.Worker.FeedInterval != 15*time.Minute {
		t.Errorf("Worker.FeedInterval: got %v", cfg.Worker.FeedInterval)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Feeder.BatchSize != 50 {
		t.Errorf("Feeder.BatchSize default: got %d", cfg.Feeder.BatchSize)
	}
	if cfg.Feeder.MaxActiveJobs != 10000 {
		t.Errorf("Feeder.MaxActiveJobs default: got %d", cfg.Feeder.MaxActiveJobs)
	}
	if cfg.Worker.FeedInterval != time.Hour {
		t.Errorf("Worker.FeedInterval default: got %v", cfg.Worker.FeedInterval)
	}
	if cfg.Tracker.Type != "memory" || cfg.Channels.Retry != "retry" || cfg.Channels.Failure != "failure" {
		t.Errorf("store defaults: tracker=%q channels=%+v", cfg.Tracker.Type, cfg.Channels)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("FEEDER_BATCH_SIZE", "7")
	t.Setenv("TRACKER_NAME", "hls-vi")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Feeder.BatchSize != 7 {
		t.Errorf("FEEDER_BATCH_SIZE override: got %d", cfg.Feeder.BatchSize)
	}
	if cfg.Tracker.Name != "hls-vi" {
		t.Errorf("TRACKER_NAME override: got %q", cfg.Tracker.Name)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown tracker type": "tracker:\n  type: etcd\n",
		"postgres without dsn": "tracker:\n  type: postgres\n",
		"zero batch size":      "feeder:\n  batch_size: 0\n",
		"same channel names":   "channels:\n  retry: q\n  failure: q\n",
		"bad signature kind":   "monitor:\n  retryable:\n    - kind: regex\n      value: x\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, yaml))
			if !errors.Is(err, pkgerrors.ErrInvalidConfig) {
				t.Fatalf("want ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfig_ShippedFiles(t *testing.T) {
	for _, name := range []string{"api.yaml", "worker.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadConfig(filepath.Join("..", "..", "configs", name))
			if err != nil {
				t.Fatalf("load %s: %v", name, err)
			}
			if cfg.Feeder.BatchSize != 50 || cfg.Feeder.MaxActiveJobs != 10000 {
				t.Fatalf("feeder = %+v", cfg.Feeder)
			}
			if len(cfg.Monitor.Retryable) != 1 || cfg.Monitor.Retryable[0].Kind != "missing_exit_code" {
				t.Fatalf("retryable = %+v", cfg.Monitor.Retryable)
			}
			if cfg.Channels.Retry == cfg.Channels.Failure {
				t.Fatalf("channels share a name: %s", cfg.Channels.Retry)
			}
		})
	}
}
