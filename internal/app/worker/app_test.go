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

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"granule-backfill/internal/app"
	"granule-backfill/internal/cluster"
	"granule-backfill/internal/granule"
	"granule-backfill/internal/logstore"
	"granule-backfill/pkg/config"
)

var ids = []string{
	"HLS.S30.T01GEL.2019059T213751.v2.0",
	"HLS.L30.T18TYN.2020120T153211.v2.0",
	"HLS.S30.T33UUP.2021001T101031.v2.0",
}

func newBootstrap(t *testing.T, mutate func(*config.Config)) *app.Bootstrap {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Log.Level = "error"
	cfg.Inventory.GranuleIDs = ids
	cfg.Feeder.BatchSize = 2
	cfg.Worker.FeedInterval = time.Hour
	cfg.Worker.ReconcileInterval = 0
	cfg.Requeuer.PollInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	b, err := app.NewBootstrap(context.Background(), cfg)
	require.NoError(t, err)
	return b
}

func TestWorker_FeedOnStart(t *testing.T) {
	b := newBootstrap(t, func(cfg *config.Config) { cfg.Worker.FeedOnStart = true })
	w, err := NewApp(b)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.Error(t, w.Start())

	require.Eventually(t, func() bool {
		cur, err := b.Tracker.Read(context.Background())
		return err == nil && cur.RowStart == 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))

	mc := b.Submitter.Cluster().(*cluster.MemoryCluster)
	assert.Len(t, mc.AcceptedEvents(), 2)
}

func TestWorker_RequeuesRetryChannel(t *testing.T) {
	b := newBootstrap(t, nil)
	require.NoError(t, b.Channels.Retry.Publish(context.Background(), granule.Event{GranuleID: ids[0], Attempt: 1}))

	w, err := NewApp(b)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	mc := b.Submitter.Cluster().(*cluster.MemoryCluster)
	require.Eventually(t, func() bool { return len(mc.AcceptedEvents()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, granule.Event{GranuleID: ids[0], Attempt: 2}, mc.AcceptedEvents()[0])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))

	cur, err := b.Tracker.Read(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cur.RowStart)
}

func TestWorker_Sweep(t *testing.T) {
	b := newBootstrap(t, nil)
	ctx := context.Background()
	rec := granule.OutcomeRecord{
		GranuleID:       ids[0],
		Outcome:         granule.OutcomeRetryableFailure,
		Platform:        "S30",
		AcquisitionDate: "2019-02-28",
		JobID:           "job-0",
		ObservedAt:      time.Now().UTC(),
	}
	_, err := b.Logs.Put(ctx, rec)
	require.NoError(t, err)
	rec.Attempt, rec.Outcome, rec.JobID = 1, granule.OutcomeSuccess, "job-1"
	_, err = b.Logs.Put(ctx, rec)
	require.NoError(t, err)

	w, err := NewApp(b)
	require.NoError(t, err)
	w.Sweep(ctx)

	keys, err := b.Logs.ListOutcome(ctx, granule.OutcomeRetryableFailure, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	cur, err := b.Logs.Current(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, logstore.KeyOf(rec), logstore.KeyOf(cur))
}
