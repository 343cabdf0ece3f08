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

package granule

import (
	"errors"
	"testing"
	"time"

	pkgerrors "granule-backfill/pkg/errors"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("HLS.S30.T01GEL.2019059T213751.v2.0")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id.Product != "HLS" || id.Platform != "S30" || id.Tile != "T01GEL" || id.Version != "v2.0" {
		t.Errorf("segments: got %+v", id)
	}
	want := time.Date(2019, 2, 28, 21, 37, 51, 0, time.UTC)
	if !id.BeginTime.Equal(want) {
		t.Errorf("BeginTime: got %v want %v", id.BeginTime, want)
	}
	if id.AcquisitionDate() != "2019-02-28" {
		t.Errorf("AcquisitionDate: got %q", id.AcquisitionDate())
	}
	if id.String() != "HLS.S30.T01GEL.2019059T213751.v2.0" {
		t.Errorf("String: got %q", id.String())
	}
}

func TestParseID_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"HLS.S30.T01GEL",
		"HLS.S30.T01GEL.notadate.v2.0",
		"HLS..T01GEL.2019059T213751.v2.0",
	} {
		if _, err := ParseID(s); !errors.Is(err, pkgerrors.ErrInvalidArg) {
			t.Errorf("ParseID(%q): want ErrInvalidArg, got %v", s, err)
		}
	}
}

func TestEvent_NewAttempt(t *testing.T) {
	e := Event{GranuleID: "HLS.L30.T10SEG.2020001T184512.v2.0", DebugBucket: "dbg"}
	next := e.NewAttempt()
	if e.Attempt != 0 {
		t.Errorf("original must stay unchanged, got attempt %d", e.Attempt)
	}
	if next.Attempt != 1 || next.GranuleID != e.GranuleID || next.DebugBucket != "dbg" {
		t.Errorf("NewAttempt: got %+v", next)
	}
	if next.NewAttempt().Attempt != 2 {
		t.Errorf("attempts should increase by one")
	}
}

func TestEvent_JobNameAndEnvironment(t *testing.T) {
	e := Event{GranuleID: "HLS.S30.T01GEL.2019059T213751.v2.0", Attempt: 2}
	if got := e.JobName(); got != "HLS-S30-T01GEL-2019059T213751-v2-0_2" {
		t.Errorf("JobName: got %q", got)
	}
	env := e.Environment()
	if env["GRANULE_ID"] != e.GranuleID || env["ATTEMPT"] != "2" {
		t.Errorf("Environment: got %v", env)
	}
	if _, ok := env["DEBUG_BUCKET"]; ok {
		t.Errorf("DEBUG_BUCKET should be omitted when empty")
	}
}

func TestUnmarshalEvent(t *testing.T) {
	e := Event{GranuleID: "G1", Attempt: 3}
	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if got != e {
		t.Errorf("got %+v want %+v", got, e)
	}
	for _, bad := range []string{`{`, `{"attempt":1}`, `{"granule_id":"G1","attempt":-1}`} {
		if _, err := UnmarshalEvent([]byte(bad)); !errors.Is(err, pkgerrors.ErrInvalidArg) {
			t.Errorf("UnmarshalEvent(%s): want ErrInvalidArg, got %v", bad, err)
		}
	}
}

func TestParseOutcome(t *testing.T) {
	for _, o := range Outcomes {
		got, err := ParseOutcome(string(o))
		if err != nil || got != o {
			t.Errorf("ParseOutcome(%q) = %q, %v", o, got, err)
		}
	}
	if _, err := ParseOutcome("resolved"); err == nil {
		t.Error("ParseOutcome should reject unknown outcome")
	}
	if OutcomeSuccess.IsFailure() || !OutcomeRetryableFailure.IsFailure() || !OutcomeNonRetryableFailure.IsFailure() {
		t.Error("IsFailure classification wrong")
	}
}
