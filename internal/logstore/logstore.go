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

package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"granule-backfill/internal/granule"
	"granule-backfill/internal/storage/object"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/log"
)

// RelocationMode 成功后失败记录的处理方式
type RelocationMode string

const (
	RelocationDelete  RelocationMode = "delete"
	RelocationArchive RelocationMode = "archive"
)

// Store 尝试日志存储（granule logger）
type Store struct {
	backend object.Store
	root    string
	mode    RelocationMode
	logger  *log.Logger
}

// New 创建日志存储；root 为对象路径根前缀
func New(backend object.Store, root string, mode RelocationMode, logger *log.Logger) *Store {
	if mode == "" {
		mode = RelocationDelete
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{
		backend: backend,
		root:    strings.Trim(root, "/"),
		mode:    mode,
		logger:  logger,
	}
}

// Backend 底层对象存储
func (s *Store) Backend() object.Store { return s.backend }

// Put 写入一条记录；同一键重复写入为覆盖，结果相同
func (s *Store) Put(ctx context.Context, rec granule.OutcomeRecord) (Key, error) {
	if err := validateRecord(rec); err != nil {
		return Key{}, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Key{}, fmt.Errorf("encode outcome record: %w", err)
	}
	k := KeyOf(rec)
	if err := s.backend.Put(ctx, k.Path(s.root), data); err != nil {
		return Key{}, fmt.Errorf("write log %s: %w", k, err)
	}
	return k, nil
}

// Get 按键读取
func (s *Store) Get(ctx context.Context, k Key) (granule.OutcomeRecord, error) {
	data, err := s.backend.Get(ctx, k.Path(s.root))
	if err != nil {
		return granule.OutcomeRecord{}, err
	}
	var rec granule.OutcomeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return granule.OutcomeRecord{}, fmt.Errorf("decode log %s: %w", k, err)
	}
	return rec, nil
}

// Entry 列表项
type Entry struct {
	Key  Key
	Path string
}

// keys 列出 granule 在所有 outcome 分区下的键
func (s *Store) keys(ctx context.Context, granuleID string) ([]Entry, error) {
	date := PartitionDate(granuleID, "")
	var out []Entry
	for _, o := range granule.Outcomes {
		var prefix string
		if date != "" {
			prefix = GranulePrefix(s.root, o, date, granuleID)
		} else {
			// 无法从 id 推出日期时退化为扫描整个 outcome 分区
			prefix = OutcomePrefix(s.root, o, "")
		}
		infos, err := s.backend.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, info := range infos {
			k, err := ParseKey(info.Path)
			if err != nil {
				s.logger.Warn("跳过无法解析的日志键", "path", info.Path, "error", err)
				continue
			}
			if k.GranuleID != granuleID {
				continue
			}
			out = append(out, Entry{Key: k, Path: info.Path})
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	return out, nil
}

// lessKey attempt 升序；同 attempt 时失败排在成功之前
func lessKey(a, b Key) bool {
	if a.Attempt != b.Attempt {
		return a.Attempt < b.Attempt
	}
	return rank(a.Outcome) < rank(b.Outcome)
}

func rank(o granule.Outcome) int {
	switch o {
	case granule.OutcomeSuccess:
		return 2
	case granule.OutcomeRetryableFailure:
		return 1
	default:
		return 0
	}
}

// History granule 的全部记录，按 attempt 升序
func (s *Store) History(ctx context.Context, granuleID string) ([]granule.OutcomeRecord, error) {
	entries, err := s.keys(ctx, granuleID)
	if err != nil {
		return nil, err
	}
	out := make([]granule.OutcomeRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := s.Get(ctx, e.Key)
		if pkgerrors.Is(err, pkgerrors.ErrNotFound) {
			// 并发迁移
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Current granule 当前状态：attempt 最高的记录，同 attempt 时成功优先
func (s *Store) Current(ctx context.Context, granuleID string) (granule.OutcomeRecord, error) {
	history, err := s.History(ctx, granuleID)
	if err != nil {
		return granule.OutcomeRecord{}, err
	}
	if len(history) == 0 {
		return granule.OutcomeRecord{}, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "no log for granule %s", granuleID)
	}
	return history[len(history)-1], nil
}

// ListOutcome 某 outcome 分区（可选限定采集日期）下的键
func (s *Store) ListOutcome(ctx context.Context, o granule.Outcome, acquisitionDate string) ([]Key, error) {
	if _, err := granule.ParseOutcome(string(o)); err != nil {
		return nil, err
	}
	prefix := OutcomePrefix(s.root, o, acquisitionDate)
	infos, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	keys := make([]Key, 0, len(infos))
	for _, info := range infos {
		k, err := ParseKey(info.Path)
		if err != nil {
			s.logger.Warn("跳过无法解析的日志键", "path", info.Path, "error", err)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ReconcileResult 一次迁移的结果
type ReconcileResult struct {
	// Kept 保留的成功记录；granule 无成功记录时为 nil
	Kept     *Key  `json:"kept,omitempty"`
	Removed  []Key `json:"removed"`
	Archived []Key `json:"archived,omitempty"`
}

// Reconcile 幂等的日志迁移：保留 attempt 最高的成功记录，移除该 granule 的所有失败记录
// 与较低 attempt 的成功记录。无成功记录时不做任何事。
func (s *Store) Reconcile(ctx context.Context, granuleID string) (ReconcileResult, error) {
	var res ReconcileResult
	entries, err := s.keys(ctx, granuleID)
	if err != nil {
		return res, err
	}

	var kept *Entry
	for i := range entries {
		if entries[i].Key.Outcome == granule.OutcomeSuccess {
			kept = &entries[i]
		}
	}
	if kept == nil {
		return res, nil
	}
	k := kept.Key
	res.Kept = &k

	for _, e := range entries {
		if e.Path == kept.Path {
			continue
		}
		if s.mode == RelocationArchive {
			if err := s.archive(ctx, e); err != nil {
				return res, err
			}
			res.Archived = append(res.Archived, e.Key)
		}
		if err := s.backend.Delete(ctx, e.Path); err != nil {
			return res, fmt.Errorf("relocate %s: %w", e.Key, err)
		}
		res.Removed = append(res.Removed, e.Key)
	}
	if len(res.Removed) > 0 {
		s.logger.Info("日志迁移完成", "granule_id", granuleID, "kept", k.String(), "removed", len(res.Removed), "mode", string(s.mode))
	}
	return res, nil
}

// archive 复制到 <root>/resolved/...
func (s *Store) archive(ctx context.Context, e Entry) error {
	data, err := s.backend.Get(ctx, e.Path)
	if pkgerrors.Is(err, pkgerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive read %s: %w", e.Key, err)
	}
	dst := e.Key.Path(path.Join(s.root, ResolvedDir))
	if err := s.backend.Put(ctx, dst, data); err != nil {
		return fmt.Errorf("archive write %s: %w", dst, err)
	}
	return nil
}

// Sweep 扫描失败分区，对其中已有成功记录的 granule 执行 Reconcile，返回迁出的记录数。
// 只需扫描失败分区，成本与当前未解决的问题数成正比
func (s *Store) Sweep(ctx context.Context) (int, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, o := range granule.Outcomes {
		if !o.IsFailure() {
			continue
		}
		keys, err := s.ListOutcome(ctx, o, "")
		if err != nil {
			return 0, err
		}
		for _, k := range keys {
			if _, ok := seen[k.GranuleID]; ok {
				continue
			}
			seen[k.GranuleID] = struct{}{}
			ids = append(ids, k.GranuleID)
		}
	}
	removed := 0
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		res, err := s.Reconcile(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed += len(res.Removed)
	}
	return removed, firstErr
}

// ListResolved archive 模式下已迁出的键
func (s *Store) ListResolved(ctx context.Context) ([]Key, error) {
	prefix := path.Join(s.root, ResolvedDir) + "/"
	infos, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var keys []Key
	for _, info := range infos {
		if k, err := ParseKey(info.Path); err == nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close 关闭底层存储
func (s *Store) Close() error {
	return s.backend.Close()
}
