// Copyright 2026 fanjia1024
// Environment variable based secret store

package secrets

import (
	"context"
	"os"
	"strings"

	pkgerrors "granule-backfill/pkg/errors"
)

type envStore struct{}

// NewEnvStore 创建环境变量 secret store；key 中的 - 与 . 映射为 _ 并转大写
func NewEnvStore() Store {
	return &envStore{}
}

func envKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(key))
}

func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	value := os.Getenv(envKey(key))
	if value == "" {
		return "", pkgerrors.Wrapf(pkgerrors.ErrNotFound, "environment variable %s", envKey(key))
	}
	return value, nil
}

func (e *envStore) Set(ctx context.Context, key string, value string) error {
	return os.Setenv(envKey(key), value)
}

func (e *envStore) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(envKey(key))
}

func (e *envStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := envKey(prefix)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) > 0 && strings.HasPrefix(parts[0], p) {
			keys = append(keys, parts[0])
		}
	}
	return keys, nil
}
