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

// Package logstore 按 outcome / 采集日期 / granule / attempt 分区保存每次尝试的终态记录，
// 并负责成功后的失败日志迁移（Reconcile）。
package logstore

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
)

const (
	// ResolvedDir archive 模式下被迁出的记录所在子目录
	ResolvedDir = "resolved"

	keyExt = ".json"
)

// Key 日志记录的结构化键
type Key struct {
	Outcome         granule.Outcome `json:"outcome"`
	AcquisitionDate string          `json:"acquisition_date"`
	GranuleID       string          `json:"granule_id"`
	Attempt         int             `json:"attempt"`
}

// PartitionDate granule 的日期分区：id 可解析时取自 id，否则用 fallback
func PartitionDate(granuleID, fallback string) string {
	if id, err := granule.ParseID(granuleID); err == nil {
		return id.AcquisitionDate()
	}
	return fallback
}

// KeyOf 记录对应的键；日期分区与按 granule 查找时一致
func KeyOf(rec granule.OutcomeRecord) Key {
	return Key{
		Outcome:         rec.Outcome,
		AcquisitionDate: PartitionDate(rec.GranuleID, rec.AcquisitionDate),
		GranuleID:       rec.GranuleID,
		Attempt:         rec.Attempt,
	}
}

// Path 键在 root 下的对象路径：
// <root>/outcome=<o>/acquisition_date=<d>/granule_id=<id>/attempt=<n>.json
func (k Key) Path(root string) string {
	return path.Join(root,
		"outcome="+string(k.Outcome),
		"acquisition_date="+k.AcquisitionDate,
		"granule_id="+k.GranuleID,
		"attempt="+strconv.Itoa(k.Attempt)+keyExt)
}

// String 不带前缀的相对路径
func (k Key) String() string {
	return k.Path("")
}

// OutcomePrefix 某 outcome（可选再限定采集日期）的扫描前缀，以 / 结尾
func OutcomePrefix(root string, o granule.Outcome, acquisitionDate string) string {
	p := path.Join(root, "outcome="+string(o))
	if acquisitionDate != "" {
		p = path.Join(p, "acquisition_date="+acquisitionDate)
	}
	return p + "/"
}

// GranulePrefix 某 outcome 下单个 granule 的扫描前缀
func GranulePrefix(root string, o granule.Outcome, acquisitionDate, granuleID string) string {
	return path.Join(root,
		"outcome="+string(o),
		"acquisition_date="+acquisitionDate,
		"granule_id="+granuleID) + "/"
}

// ParseKey 从对象路径解析键；root 之前的部分被忽略
func ParseKey(p string) (Key, error) {
	parts := strings.Split(p, "/")
	if len(parts) < 4 {
		return Key{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "log key %q: too few segments", p)
	}
	parts = parts[len(parts)-4:]

	var (
		k      Key
		fields = [4]string{"outcome=", "acquisition_date=", "granule_id=", "attempt="}
		values [4]string
	)
	for i, f := range fields {
		if !strings.HasPrefix(parts[i], f) {
			return Key{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "log key %q: expected %s segment", p, strings.TrimSuffix(f, "="))
		}
		values[i] = strings.TrimPrefix(parts[i], f)
	}

	o, err := granule.ParseOutcome(values[0])
	if err != nil {
		return Key{}, err
	}
	if !strings.HasSuffix(values[3], keyExt) {
		return Key{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "log key %q: missing %s suffix", p, keyExt)
	}
	attempt, err := strconv.Atoi(strings.TrimSuffix(values[3], keyExt))
	if err != nil || attempt < 0 {
		return Key{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "log key %q: bad attempt", p)
	}
	k.Outcome = o
	k.AcquisitionDate = values[1]
	k.GranuleID = values[2]
	k.Attempt = attempt
	if k.GranuleID == "" || k.AcquisitionDate == "" {
		return Key{}, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "log key %q: empty segment", p)
	}
	return k, nil
}

func validateRecord(rec granule.OutcomeRecord) error {
	if err := rec.Event().Validate(); err != nil {
		return err
	}
	if _, err := granule.ParseOutcome(string(rec.Outcome)); err != nil {
		return err
	}
	if rec.AcquisitionDate == "" {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "acquisition_date is required")
	}
	if strings.Contains(rec.GranuleID, "/") || strings.Contains(rec.AcquisitionDate, "/") {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, fmt.Sprintf("key segment must not contain '/': %s %s", rec.GranuleID, rec.AcquisitionDate))
	}
	return nil
}
