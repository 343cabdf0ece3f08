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

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const g1 = "HLS.S30.T01GEL.2019059T213751.v2.0"

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

// fakeAPI 记录请求并按路径返回固定响应
type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	reply    string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	reply := f.reply
	if reply == "" {
		reply = `{"ok":true}`
	}
	_, _ = w.Write([]byte(reply))
}

func (f *fakeAPI) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func run(t *testing.T, api *fakeAPI, stdin string, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--api", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_RoutesToAPI(t *testing.T) {
	cases := []struct {
		name   string
		args   []string
		method string
		path   string
		query  string
		body   map[string]interface{}
	}{
		{"feed", []string{"feed", "-n", "7"}, "POST", "/v1/feeder/run", "", map[string]interface{}{"count": float64(7)}},
		{"redrive", []string{"redrive", "--limit", "5"}, "POST", "/v1/channels/redrive", "",
			map[string]interface{}{"from": "", "to": "", "limit": float64(5)}},
		{"channel", []string{"channel", "failure"}, "GET", "/v1/channels/failure", "", nil},
		{"tracker show", []string{"tracker", "show"}, "GET", "/v1/tracker", "", nil},
		{"tracker reset", []string{"tracker", "reset", "100", "--yes"}, "POST", "/v1/tracker/reset", "",
			map[string]interface{}{"row_start": float64(100)}},
		{"logs show", []string{"logs", "show", g1}, "GET", "/v1/granules/" + g1, "", nil},
		{"logs list", []string{"logs", "list", "retryable_failure", "--date", "2019-02-28"}, "GET",
			"/v1/logs/retryable_failure", "date=2019-02-28", nil},
		{"reconcile", []string{"reconcile", g1}, "POST", "/v1/granules/" + g1 + "/reconcile", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{}
			out, err := run(t, api, "", tc.args...)
			require.NoError(t, err)
			assert.Contains(t, out, `"ok": true`)

			req := api.last(t)
			assert.Equal(t, tc.method, req.Method)
			assert.Equal(t, tc.path, req.Path)
			assert.Equal(t, tc.query, req.Query)
			assert.Equal(t, tc.body, req.Body)
		})
	}
}

func TestCLI_Submit(t *testing.T) {
	api := &fakeAPI{}
	_, err := run(t, api, "", "submit", g1, "--attempt", "2")
	require.NoError(t, err)
	req := api.last(t)
	assert.Equal(t, "/v1/feeder/submit", req.Path)
	events := req.Body["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, g1, events[0].(map[string]interface{})["granule_id"])
	assert.Equal(t, float64(2), events[0].(map[string]interface{})["attempt"])

	_, err = run(t, &fakeAPI{}, "", "submit", "not-a-granule")
	require.Error(t, err)
}

func TestCLI_EventFromStdin(t *testing.T) {
	api := &fakeAPI{reply: `{"final":true,"outcome":"success","reason":"succeeded"}`}
	outcome := `{"event":{"granule_id":"` + g1 + `","attempt":1},"status":"SUCCEEDED","exit_code":0,"cluster_attempts":1,"job_id":"j"}`
	out, err := run(t, api, outcome, "event")
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome": "success"`)

	req := api.last(t)
	assert.Equal(t, "/v1/events", req.Path)
	assert.Equal(t, "SUCCEEDED", req.Body["status"])
}

func TestCLI_APIErrorSurfaces(t *testing.T) {
	api := &fakeAPI{status: http.StatusConflict, reply: `{"error":"feeder: busy"}`}
	_, err := run(t, api, "", "feed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "feeder: busy")
}

func TestCLI_LocalValidation(t *testing.T) {
	api := &fakeAPI{}
	_, err := run(t, api, "", "tracker", "reset", "10")
	require.Error(t, err)
	_, err = run(t, api, "", "tracker", "reset", "-3", "--yes")
	require.Error(t, err)
	_, err = run(t, api, "", "logs", "list", "pending")
	require.Error(t, err)
	assert.Empty(t, api.requests)
}

func TestCLI_InventoryCount(t *testing.T) {
	report := "HLS.S30.T01GEL.2019059T213751.v2.0 2019-02-28\\ 21:37:51.024+00 completed t\n" +
		"HLS.L30.T10SEG.2020001T184512.v2.0 \\N queued f\n" +
		"HLS.S30.T01GEM.2019059T213751.v2.0 2019-02-28\\ 21:37:51+00 completed f\n"
	out, err := run(t, &fakeAPI{}, report, "inventory", "count", "-")
	require.NoError(t, err)
	assert.Equal(t, "completed=2 published=1\n", out)
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, &fakeAPI{}, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "granulectl "+version+"\n", out)
}
