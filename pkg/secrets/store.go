// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"fmt"

	"granule-backfill/pkg/config"
)

// Store Secret 存储接口；不存在的 key 返回包装 ErrNotFound 的错误
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	// List 列出带前缀的 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewStore 按 provider 创建 Secret Store
func NewStore(cfg config.SecretsConfig) (Store, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemoryStore(cfg.Seed), nil
	case "env", "":
		return NewEnvStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    cfg.Vault.Address,
			Token:      cfg.Vault.Token,
			PathPrefix: cfg.Vault.PathPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}
