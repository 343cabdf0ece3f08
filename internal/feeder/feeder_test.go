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

package feeder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"granule-backfill/internal/cluster"
	"granule-backfill/internal/granule"
	"granule-backfill/internal/inventory"
	"granule-backfill/internal/tracker"
	pkgerrors "granule-backfill/pkg/errors"
)

// inventoryIDs 生成 n 个按偏移编号的 granule id
func inventoryIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("HLS.S30.T%05d.2019059T213751.v2.0", i)
	}
	return ids
}

type fixture struct {
	ids     []string
	cluster *cluster.MemoryCluster
	tracker tracker.Store
	feeder  *Feeder
}

func newFixture(t *testing.T, inventorySize int, rowStart int64, maxActive int) *fixture {
	t.Helper()
	ids := inventoryIDs(inventorySize)
	c := cluster.NewMemoryCluster()
	tr := tracker.NewMemoryStore()
	if rowStart > 0 {
		_, err := tr.Reset(context.Background(), rowStart)
		require.NoError(t, err)
	}
	sub := cluster.NewSubmitter(c, cluster.SubmitterConfig{Retries: 2}, nil)
	f := New(inventory.NewMemoryReader(ids), tr, sub, nil, Config{BatchSize: 50, MaxActiveJobs: 100}, nil)
	if maxActive > 0 {
		f.cfg.MaxActiveJobs = maxActive
	}
	return &fixture{ids: ids, cluster: c, tracker: tr, feeder: f}
}

func (fx *fixture) rowStart(t *testing.T) int64 {
	cur, err := fx.tracker.Read(context.Background())
	require.NoError(t, err)
	return cur.RowStart
}

func TestSubmitBatch_AdvancesByAccepted(t *testing.T) {
	// 清单偏移 100..124 共 25 个 granule，游标在 100
	fx := newFixture(t, 125, 100, 0)

	res, err := fx.feeder.SubmitBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Submitted)
	assert.Equal(t, int64(100), res.RowStart)
	assert.Equal(t, int64(110), res.NewRowStart)
	assert.False(t, res.Exhausted)
	assert.Equal(t, int64(110), fx.rowStart(t))

	events := fx.cluster.AcceptedEvents()
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, granule.Event{GranuleID: fx.ids[100+i], Attempt: 0}, ev)
	}
}

func TestSubmitBatch_Backpressure(t *testing.T) {
	fx := newFixture(t, 125, 100, 0)
	fx.cluster.SetDepth(100)

	res, err := fx.feeder.SubmitBatch(context.Background(), 50)
	require.NoError(t, err)
	assert.True(t, res.Throttled)
	assert.Zero(t, res.Submitted)
	assert.Equal(t, 100, res.Depth)
	assert.Equal(t, int64(100), fx.rowStart(t))
	assert.Equal(t, 1, fx.cluster.DepthCalls())
	assert.Zero(t, fx.cluster.EnqueueCalls())

	// 深度低于阈值后恢复
	fx.cluster.SetDepth(99)
	res, err = fx.feeder.SubmitBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Submitted)
}

func TestSubmitBatch_PartialFailureAdvancesConfirmedPrefix(t *testing.T) {
	fx := newFixture(t, 125, 100, 0)
	bad := fx.ids[104]
	fx.cluster.RejectWhen(func(ev granule.Event, call int) bool { return ev.GranuleID == bad })

	res, err := fx.feeder.SubmitBatch(context.Background(), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrRejected)
	assert.Equal(t, 4, res.Submitted)
	assert.Equal(t, int64(104), fx.rowStart(t))
	// 首次 + 2 次重试
	assert.Equal(t, 4+3, fx.cluster.EnqueueCalls())

	// 故障解除后从未确认处继续，且不重复提交已确认的 granule
	fx.cluster.RejectWhen(nil)
	res, err = fx.feeder.SubmitBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(104), res.RowStart)
	assert.Equal(t, int64(114), fx.rowStart(t))

	seen := map[string]int{}
	for _, ev := range fx.cluster.AcceptedEvents() {
		seen[ev.GranuleID]++
	}
	assert.Len(t, seen, 14)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestSubmitBatch_FirstGranuleFailsLeavesTracker(t *testing.T) {
	fx := newFixture(t, 125, 100, 0)
	fx.cluster.RejectWhen(func(granule.Event, int) bool { return true })

	res, err := fx.feeder.SubmitBatch(context.Background(), 10)
	require.Error(t, err)
	assert.Zero(t, res.Submitted)
	assert.Equal(t, int64(100), fx.rowStart(t))

	cur, _ := fx.tracker.Read(context.Background())
	assert.Equal(t, int64(1), cur.Version, "tracker must not be written when nothing was accepted")
}

func TestSubmitBatch_Exhausted(t *testing.T) {
	fx := newFixture(t, 125, 120, 0)

	res, err := fx.feeder.SubmitBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, 5, res.Submitted)
	assert.Equal(t, int64(125), fx.rowStart(t))

	res, err = fx.feeder.SubmitBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Zero(t, res.Submitted)
	assert.Equal(t, int64(125), fx.rowStart(t))
}

func TestSubmitBatch_WindowProperty(t *testing.T) {
	for _, tc := range []struct {
		start  int64
		n      int
		reject int // 窗口内第几个被拒（-1 表示全部接受）
	}{
		{0, 1, -1}, {0, 50, -1}, {37, 13, 6}, {90, 50, 0}, {124, 3, -1}, {60, 7, 6},
	} {
		t.Run(fmt.Sprintf("start=%d/n=%d/reject=%d", tc.start, tc.n, tc.reject), func(t *testing.T) {
			fx := newFixture(t, 125, tc.start, 0)
			fx.feeder.submitter = cluster.NewSubmitter(fx.cluster, cluster.SubmitterConfig{}, nil)
			if tc.reject >= 0 {
				bad := fx.ids[tc.start+int64(tc.reject)]
				fx.cluster.RejectWhen(func(ev granule.Event, _ int) bool { return ev.GranuleID == bad })
			}
			_, _ = fx.feeder.SubmitBatch(context.Background(), tc.n)

			accepted := fx.cluster.AcceptedEvents()
			assert.Equal(t, tc.start+int64(len(accepted)), fx.rowStart(t))
			for i, ev := range accepted {
				assert.Equal(t, fx.ids[tc.start+int64(i)], ev.GranuleID, "submitted outside window order")
				assert.Zero(t, ev.Attempt)
			}
			assert.LessOrEqual(t, len(accepted), tc.n)
		})
	}
}

func TestSubmitBatch_Busy(t *testing.T) {
	fx := newFixture(t, 125, 100, 0)
	unlock, err := fx.feeder.locker.TryLock(context.Background())
	require.NoError(t, err)

	_, err = fx.feeder.SubmitBatch(context.Background(), 10)
	assert.ErrorIs(t, err, pkgerrors.ErrBusy)
	assert.Zero(t, fx.cluster.DepthCalls())
	assert.Equal(t, int64(100), fx.rowStart(t))

	require.NoError(t, unlock(context.Background()))
	_, err = fx.feeder.SubmitBatch(context.Background(), 10)
	assert.NoError(t, err)
}

// racingTracker 在 Read 与 Advance 之间模拟另一个写者
type racingTracker struct {
	tracker.Store
}

func (r racingTracker) Advance(ctx context.Context, expected tracker.Cursor, newRowStart int64) (tracker.Cursor, error) {
	if _, err := r.Store.Reset(ctx, expected.RowStart); err != nil {
		return tracker.Cursor{}, err
	}
	return r.Store.Advance(ctx, expected, newRowStart)
}

func TestSubmitBatch_ConcurrentWriterIsFatal(t *testing.T) {
	fx := newFixture(t, 125, 100, 0)
	fx.feeder.tracker = racingTracker{fx.tracker}

	_, err := fx.feeder.SubmitBatch(context.Background(), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrInvariantViolation)
	assert.ErrorIs(t, err, tracker.ErrConcurrentWriter)
}

func TestSubmitBatch_DefaultBatchSizeAndDebugBucket(t *testing.T) {
	fx := newFixture(t, 125, 0, 0)
	fx.feeder.cfg.BatchSize = 3
	fx.feeder.cfg.DebugBucket = "debug-bucket"

	res, err := fx.feeder.SubmitBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Submitted)
	for _, ev := range fx.cluster.AcceptedEvents() {
		assert.Equal(t, "debug-bucket", ev.DebugBucket)
	}
}

func TestSubmitEvents(t *testing.T) {
	fx := newFixture(t, 10, 0, 0)
	events := []granule.Event{
		{GranuleID: fx.ids[3], Attempt: 2},
		{GranuleID: fx.ids[7], Attempt: 0},
	}
	jobIDs, err := fx.feeder.SubmitEvents(context.Background(), events)
	require.NoError(t, err)
	assert.Len(t, jobIDs, 2)
	assert.Equal(t, events, fx.cluster.AcceptedEvents())
	assert.Zero(t, fx.rowStart(t), "SubmitEvents must not touch the tracker")

	_, err = fx.feeder.SubmitEvents(context.Background(), []granule.Event{{}})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.TryLock(context.Background())
	require.NoError(t, err)
	_, err = l.TryLock(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrBusy)
	require.NoError(t, unlock(context.Background()))
	// 重复释放安全
	require.NoError(t, unlock(context.Background()))
	unlock, err = l.TryLock(context.Background())
	require.NoError(t, err)
	_ = unlock(context.Background())
}

func TestRedisLocker(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisLocker(client, "feeder-lock", time.Minute)
	b := NewRedisLocker(client, "feeder-lock", time.Minute)

	unlockA, err := a.TryLock(ctx)
	require.NoError(t, err)
	_, err = b.TryLock(ctx)
	assert.ErrorIs(t, err, pkgerrors.ErrBusy)

	require.NoError(t, unlockA(ctx))
	unlockB, err := b.TryLock(ctx)
	require.NoError(t, err)

	// 过期后 A 的迟到释放不能删掉 B 的锁
	require.NoError(t, unlockA(ctx))
	assert.True(t, s.Exists("feeder-lock"))

	// TTL 到期后锁自动释放
	s.FastForward(2 * time.Minute)
	unlockA, err = a.TryLock(ctx)
	require.NoError(t, err)
	require.NoError(t, unlockA(ctx))
	require.NoError(t, unlockB(ctx))
}
