// Copyright 2026 fanjia1024
// In-memory secret store (for development and tests)

package secrets

import (
	"context"
	"sort"
	"strings"
	"sync"

	pkgerrors "granule-backfill/pkg/errors"
)

// MemoryStore 进程内 secret store；可用 secrets.seed 预置凭据，
// 并记录每个 key 的写入次数，便于观察凭据轮换
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
	writes  map[string]int
}

// NewMemoryStore 创建内存 secret store，seed 中的值作为初始内容（不计入写入次数）
func NewMemoryStore(seed ...map[string]string) *MemoryStore {
	m := &MemoryStore{
		secrets: make(map[string]string),
		writes:  make(map[string]int),
	}
	for _, s := range seed {
		for k, v := range s {
			m.secrets[k] = v
		}
	}
	return m
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[key]
	if !ok {
		return "", pkgerrors.Wrapf(pkgerrors.ErrNotFound, "secret %s", key)
	}
	return value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value string) error {
	if key == "" {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "secret key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	m.writes[key]++
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.secrets))
	for key := range m.secrets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Writes key 被 Set 的次数
func (m *MemoryStore) Writes(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[key]
}
