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
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"granule-backfill/internal/granule"
	"granule-backfill/internal/storage/object"
	pkgerrors "granule-backfill/pkg/errors"
)

const (
	g1   = "HLS.S30.T01GEL.2019059T213751.v2.0"
	g2   = "HLS.L30.T18TYN.2020120T153211.v2.0"
	date = "2019-02-28"
)

func record(id string, attempt int, o granule.Outcome) granule.OutcomeRecord {
	gid, err := granule.ParseID(id)
	if err != nil {
		panic(err)
	}
	return granule.OutcomeRecord{
		GranuleID:       id,
		Attempt:         attempt,
		Outcome:         o,
		Platform:        gid.Platform,
		AcquisitionDate: gid.AcquisitionDate(),
		JobID:           "job-" + string(o),
		ObservedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKeyPathRoundTrip(t *testing.T) {
	k := Key{Outcome: granule.OutcomeRetryableFailure, AcquisitionDate: date, GranuleID: g1, Attempt: 3}
	p := k.Path("logs")
	assert.Equal(t, "logs/outcome=retryable_failure/acquisition_date=2019-02-28/granule_id="+g1+"/attempt=3.json", p)

	parsed, err := ParseKey(p)
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	// resolved 目录下的路径同样可解析
	parsed, err = ParseKey(k.Path("logs/resolved"))
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseKey_Invalid(t *testing.T) {
	cases := []string{
		"",
		"outcome=success/acquisition_date=2019-02-28/granule_id=x",
		"outcome=bogus/acquisition_date=2019-02-28/granule_id=x/attempt=0.json",
		"outcome=success/date=2019-02-28/granule_id=x/attempt=0.json",
		"outcome=success/acquisition_date=2019-02-28/granule_id=x/attempt=-1.json",
		"outcome=success/acquisition_date=2019-02-28/granule_id=x/attempt=0.txt",
		"outcome=success/acquisition_date=2019-02-28/granule_id=/attempt=0.json",
	}
	for _, c := range cases {
		_, err := ParseKey(c)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg, c)
	}
}

func TestPut_RejectsInvalid(t *testing.T) {
	s := New(object.NewMemoryStore(), "logs", RelocationDelete, nil)
	ctx := context.Background()

	rec := record(g1, 0, granule.OutcomeSuccess)
	rec.Outcome = "maybe"
	_, err := s.Put(ctx, rec)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)

	rec = record(g1, 0, granule.OutcomeSuccess)
	rec.AcquisitionDate = ""
	_, err = s.Put(ctx, rec)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)

	rec = record(g1, 0, granule.OutcomeSuccess)
	rec.GranuleID = "a/b"
	_, err = s.Put(ctx, rec)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)
}

func TestHistoryAndCurrent(t *testing.T) {
	ctx := context.Background()
	s := New(object.NewMemoryStore(), "logs", RelocationDelete, nil)

	_, err := s.Current(ctx, g1)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	for _, rec := range []granule.OutcomeRecord{
		record(g1, 1, granule.OutcomeRetryableFailure),
		record(g1, 0, granule.OutcomeRetryableFailure),
		record(g1, 2, granule.OutcomeNonRetryableFailure),
		record(g2, 0, granule.OutcomeSuccess),
	} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	history, err := s.History(ctx, g1)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, rec := range history {
		assert.Equal(t, i, rec.Attempt)
		assert.Equal(t, g1, rec.GranuleID)
	}

	cur, err := s.Current(ctx, g1)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Attempt)
	assert.Equal(t, granule.OutcomeNonRetryableFailure, cur.Outcome)

	// 同 attempt 的成功优先
	_, err = s.Put(ctx, record(g1, 2, granule.OutcomeSuccess))
	require.NoError(t, err)
	cur, err = s.Current(ctx, g1)
	require.NoError(t, err)
	assert.Equal(t, granule.OutcomeSuccess, cur.Outcome)
}

func TestPut_Idempotent(t *testing.T) {
	ctx := context.Background()
	backend := object.NewMemoryStore()
	s := New(backend, "logs", RelocationDelete, nil)
	rec := record(g1, 0, granule.OutcomeRetryableFailure)

	_, err := s.Put(ctx, rec)
	require.NoError(t, err)
	_, err = s.Put(ctx, rec)
	require.NoError(t, err)

	all, _ := backend.List(ctx, "")
	assert.Len(t, all, 1)
	got, err := s.Get(ctx, KeyOf(rec))
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestListOutcome(t *testing.T) {
	ctx := context.Background()
	s := New(object.NewMemoryStore(), "logs", RelocationDelete, nil)
	for _, rec := range []granule.OutcomeRecord{
		record(g1, 0, granule.OutcomeRetryableFailure),
		record(g2, 0, granule.OutcomeRetryableFailure),
		record(g2, 1, granule.OutcomeSuccess),
	} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	keys, err := s.ListOutcome(ctx, granule.OutcomeRetryableFailure, "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = s.ListOutcome(ctx, granule.OutcomeRetryableFailure, date)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, g1, keys[0].GranuleID)

	_, err = s.ListOutcome(ctx, "unknown", "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)
}

func TestReconcile_DeleteMode(t *testing.T) {
	ctx := context.Background()
	s := New(object.NewMemoryStore(), "logs", RelocationDelete, nil)
	for _, rec := range []granule.OutcomeRecord{
		record(g1, 0, granule.OutcomeRetryableFailure),
		record(g1, 1, granule.OutcomeNonRetryableFailure),
		record(g1, 1, granule.OutcomeSuccess),
		record(g1, 2, granule.OutcomeSuccess),
		record(g2, 0, granule.OutcomeRetryableFailure),
	} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	res, err := s.Reconcile(ctx, g1)
	require.NoError(t, err)
	require.NotNil(t, res.Kept)
	assert.Equal(t, 2, res.Kept.Attempt)
	assert.Len(t, res.Removed, 3)
	assert.Empty(t, res.Archived)

	history, err := s.History(ctx, g1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, granule.OutcomeSuccess, history[0].Outcome)
	assert.Equal(t, 2, history[0].Attempt)

	// 其他 granule 不受影响
	other, err := s.History(ctx, g2)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	// 再次执行无副作用
	res, err = s.Reconcile(ctx, g1)
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
}

func TestReconcile_NoSuccessIsNoop(t *testing.T) {
	ctx := context.Background()
	s := New(object.NewMemoryStore(), "logs", RelocationDelete, nil)
	_, err := s.Put(ctx, record(g1, 0, granule.OutcomeRetryableFailure))
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, g1)
	require.NoError(t, err)
	assert.Nil(t, res.Kept)
	history, _ := s.History(ctx, g1)
	assert.Len(t, history, 1)
}

func TestReconcile_ArchiveMode(t *testing.T) {
	ctx := context.Background()
	s := New(object.NewMemoryStore(), "logs", RelocationArchive, nil)
	_, err := s.Put(ctx, record(g1, 0, granule.OutcomeRetryableFailure))
	require.NoError(t, err)
	_, err = s.Put(ctx, record(g1, 1, granule.OutcomeSuccess))
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, g1)
	require.NoError(t, err)
	assert.Len(t, res.Archived, 1)

	failures, err := s.ListOutcome(ctx, granule.OutcomeRetryableFailure, "")
	require.NoError(t, err)
	assert.Empty(t, failures)

	resolved, err := s.ListResolved(ctx)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, granule.OutcomeRetryableFailure, resolved[0].Outcome)
	assert.Equal(t, 0, resolved[0].Attempt)
}

// failingDelete 模拟迁移阶段的后端故障
type failingDelete struct {
	*object.MemoryStore
}

var errBackend = errors.New("backend unavailable")

func (f failingDelete) Delete(ctx context.Context, path string) error { return errBackend }

func TestReconcile_BackendFailureKeepsSuccess(t *testing.T) {
	ctx := context.Background()
	s := New(failingDelete{object.NewMemoryStore()}, "logs", RelocationDelete, nil)
	_, err := s.Put(ctx, record(g1, 0, granule.OutcomeRetryableFailure))
	require.NoError(t, err)
	_, err = s.Put(ctx, record(g1, 1, granule.OutcomeSuccess))
	require.NoError(t, err)

	_, err = s.Reconcile(ctx, g1)
	require.ErrorIs(t, err, errBackend)

	cur, err := s.Current(ctx, g1)
	require.NoError(t, err)
	assert.Equal(t, granule.OutcomeSuccess, cur.Outcome)
}

func TestHistory_UnparseableGranuleID(t *testing.T) {
	ctx := context.Background()
	s := New(object.NewMemoryStore(), "", RelocationDelete, nil)
	rec := granule.OutcomeRecord{GranuleID: "opaque-1", Attempt: 0, Outcome: granule.OutcomeSuccess, AcquisitionDate: "2020-01-01"}
	_, err := s.Put(ctx, rec)
	require.NoError(t, err)

	history, err := s.History(ctx, "opaque-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "opaque-1", history[0].GranuleID)
}

func TestPut_PartitionsByGranuleDate(t *testing.T) {
	ctx := context.Background()
	s := New(object.NewMemoryStore(), "logs", RelocationDelete, nil)

	failure := record(g1, 0, granule.OutcomeRetryableFailure)
	failure.AcquisitionDate = "2019-03-01"
	k, err := s.Put(ctx, failure)
	require.NoError(t, err)
	assert.Equal(t, date, k.AcquisitionDate)

	success := record(g1, 1, granule.OutcomeSuccess)
	success.AcquisitionDate = "2019-03-01"
	_, err = s.Put(ctx, success)
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, g1)
	require.NoError(t, err)
	assert.Len(t, res.Removed, 1)

	history, err := s.History(ctx, g1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, granule.OutcomeSuccess, history[0].Outcome)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	backend := object.NewMemoryStore()
	s := New(backend, "logs", RelocationDelete, nil)
	for _, rec := range []granule.OutcomeRecord{
		record(g1, 0, granule.OutcomeRetryableFailure),
		record(g1, 1, granule.OutcomeNonRetryableFailure),
		record(g2, 0, granule.OutcomeRetryableFailure),
	} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}
	// 成功记录绕过 Reconcile 直接写入，模拟迁移失败后遗留的状态
	_, err := s.Put(ctx, record(g1, 2, granule.OutcomeSuccess))
	require.NoError(t, err)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	failures, err := s.ListOutcome(ctx, granule.OutcomeRetryableFailure, "")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, g2, failures[0].GranuleID)

	removed, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
