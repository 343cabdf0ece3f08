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

package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
)

func TestOutcome_Normalize(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := Outcome{
		Event:  granule.Event{GranuleID: "HLS.S30.T01GEL.2019059T213751.v2.0"},
		Status: StatusFailed,
	}
	got, err := o.Normalize(now)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Platform != "S30" || got.AcquisitionDate != "2019-02-28" || !got.ObservedAt.Equal(now) {
		t.Errorf("Normalize: got %+v", got)
	}

	// id 可解析时以 id 为准，集群给出的不同日期被覆盖
	o.Platform, o.AcquisitionDate = "L30", "2019-03-01"
	got, _ = o.Normalize(now)
	if got.Platform != "S30" || got.AcquisitionDate != "2019-02-28" {
		t.Errorf("id-derived metadata not enforced: %+v", got)
	}

	// id 不可解析时沿用集群提供的元数据
	opaque := Outcome{Event: granule.Event{GranuleID: "opaque-1"}, Status: StatusSucceeded, Platform: "L30", AcquisitionDate: "2020-01-01"}
	got, err = opaque.Normalize(now)
	if err != nil {
		t.Fatalf("Normalize opaque: %v", err)
	}
	if got.Platform != "L30" || got.AcquisitionDate != "2020-01-01" {
		t.Errorf("explicit metadata overwritten: %+v", got)
	}

	if _, err := (Outcome{Event: granule.Event{GranuleID: "x"}, Status: "RUNNING"}).Normalize(now); !errors.Is(err, pkgerrors.ErrInvalidArg) {
		t.Errorf("unknown status: want ErrInvalidArg, got %v", err)
	}
	if _, err := (Outcome{Event: granule.Event{GranuleID: "bad-id"}, Status: StatusSucceeded}).Normalize(now); !errors.Is(err, pkgerrors.ErrInvalidArg) {
		t.Errorf("unparseable id without metadata: want ErrInvalidArg, got %v", err)
	}
}

func TestSubmitter_RetriesThenAccepts(t *testing.T) {
	c := NewMemoryCluster()
	c.RejectWhen(func(ev granule.Event, call int) bool { return call <= 2 })
	s := NewSubmitter(c, SubmitterConfig{Retries: 3, Backoff: time.Millisecond}, nil)

	jobID, err := s.Submit(context.Background(), granule.NewEvent("G1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == "" {
		t.Error("Submit should return a job id")
	}
	if c.EnqueueCalls() != 3 {
		t.Errorf("EnqueueCalls: got %d want 3", c.EnqueueCalls())
	}
	if len(c.Accepted()) != 1 {
		t.Errorf("Accepted: got %d want 1", len(c.Accepted()))
	}
}

func TestSubmitter_ExhaustsRetries(t *testing.T) {
	c := NewMemoryCluster()
	c.RejectWhen(func(granule.Event, int) bool { return true })
	s := NewSubmitter(c, SubmitterConfig{Retries: 2}, nil)

	_, err := s.Submit(context.Background(), granule.NewEvent("G1"))
	if !errors.Is(err, pkgerrors.ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if c.EnqueueCalls() != 3 {
		t.Errorf("EnqueueCalls: got %d want 3 (1 + 2 retries)", c.EnqueueCalls())
	}
}

func TestSubmitter_InvalidEvent(t *testing.T) {
	c := NewMemoryCluster()
	s := NewSubmitter(c, SubmitterConfig{}, nil)
	if _, err := s.Submit(context.Background(), granule.Event{}); !errors.Is(err, pkgerrors.ErrInvalidArg) {
		t.Fatalf("want ErrInvalidArg, got %v", err)
	}
	if c.EnqueueCalls() != 0 {
		t.Error("invalid event must not reach the cluster")
	}
}

func TestSubmitter_ContextCancelledDuringBackoff(t *testing.T) {
	c := NewMemoryCluster()
	c.RejectWhen(func(granule.Event, int) bool { return true })
	s := NewSubmitter(c, SubmitterConfig{Retries: 5, Backoff: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Submit(ctx, granule.NewEvent("G1"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	if c.EnqueueCalls() != 1 {
		t.Errorf("EnqueueCalls: got %d want 1", c.EnqueueCalls())
	}
}

func TestSubmitter_RateLimited(t *testing.T) {
	c := NewMemoryCluster()
	s := NewSubmitter(c, SubmitterConfig{RateLimit: 50, Burst: 1}, nil)
	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := s.Submit(context.Background(), granule.NewEvent("G")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	// 50/s、burst 1：4 次至少约 60ms
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("rate limit not applied, elapsed %v", elapsed)
	}
}

type fakeBatchAPI struct {
	mu        sync.Mutex
	requests  []submitJobRequest
	counts    map[string]int
	queried   []string
	rejectAll bool
}

func (f *fakeBatchAPI) takeQueried() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queried
	f.queried = nil
	return q
}

func (f *fakeBatchAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/queues/hls/jobs":
			if f.rejectAll {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"queue disabled"}`))
				return
			}
			var req submitJobRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode submit body: %v", err)
			}
			f.requests = append(f.requests, req)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"job_id":"job-` + req.JobName + `"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/queues/hls/jobs" && r.URL.Query().Has("status"):
			status := r.URL.Query().Get("status")
			f.queried = append(f.queried, status)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(countResponse{Count: f.counts[status]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestHTTPCluster_Enqueue(t *testing.T) {
	api := &fakeBatchAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	c := NewHTTPCluster(HTTPConfig{Endpoint: srv.URL, Queue: "hls", JobDefinition: "hls-vi:3", Token: "tok"})

	ev := granule.Event{GranuleID: "HLS.S30.T01GEL.2019059T213751.v2.0", Attempt: 1, DebugBucket: "dbg"}
	jobID, err := c.Enqueue(context.Background(), ev)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if jobID != "job-"+ev.JobName() {
		t.Errorf("jobID: got %q", jobID)
	}
	api.mu.Lock()
	requests := append([]submitJobRequest(nil), api.requests...)
	api.mu.Unlock()
	if len(requests) != 1 {
		t.Fatalf("requests: got %d", len(requests))
	}
	req := requests[0]
	if req.JobDefinition != "hls-vi:3" || req.Environment["ATTEMPT"] != "1" || req.Environment["DEBUG_BUCKET"] != "dbg" {
		t.Errorf("request body: %+v", req)
	}

	api.mu.Lock()
	api.rejectAll = true
	api.mu.Unlock()
	_, err = c.Enqueue(context.Background(), ev)
	if !errors.Is(err, pkgerrors.ErrRejected) {
		t.Fatalf("503: want ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestHTTPCluster_QueueDepthStopsAtThreshold(t *testing.T) {
	api := &fakeBatchAPI{counts: map[string]int{"SUBMITTED": 4, "PENDING": 7, "RUNNABLE": 100, "RUNNING": 3}}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	c := NewHTTPCluster(HTTPConfig{Endpoint: srv.URL, Queue: "hls", Token: "tok"})

	depth, err := c.QueueDepth(context.Background(), 10)
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 11 {
		t.Errorf("depth: got %d want 11", depth)
	}
	if q := api.takeQueried(); len(q) != 2 {
		t.Errorf("should stop after reaching threshold, queried %v", q)
	}

	depth, err = c.QueueDepth(context.Background(), 0)
	if err != nil {
		t.Fatalf("QueueDepth full: %v", err)
	}
	if q := api.takeQueried(); depth != 114 || len(q) != len(ActiveStatuses) {
		t.Errorf("full count: depth=%d queried=%v", depth, q)
	}
}
