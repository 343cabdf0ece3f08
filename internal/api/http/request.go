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

package http

import (
	"github.com/go-playground/validator/v10"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
)

var requestValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("granule_id", func(fl validator.FieldLevel) bool {
		_, err := granule.ParseID(fl.Field().String())
		return err == nil
	})
	return v
}

// feederRunRequest POST /v1/feeder/run；count 为 0 时使用配置的 batch_size
type feederRunRequest struct {
	Count int `json:"count" validate:"gte=0,lte=10000"`
}

type submitEventsRequest struct {
	Events []eventRequest `json:"events" validate:"required,min=1,max=1000,dive"`
}

type eventRequest struct {
	GranuleID   string `json:"granule_id" validate:"required,granule_id"`
	Attempt     int    `json:"attempt" validate:"gte=0"`
	DebugBucket string `json:"debug_bucket,omitempty"`
}

func (r eventRequest) event() granule.Event {
	return granule.Event{GranuleID: r.GranuleID, Attempt: r.Attempt, DebugBucket: r.DebugBucket}
}

// redriveRequest POST /v1/channels/redrive；from/to 为空时从 failure 移回 retry
type redriveRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Limit int    `json:"limit" validate:"gte=0"`
}

type trackerResetRequest struct {
	RowStart *int64 `json:"row_start" validate:"required,gte=0"`
}

func validateRequest(v interface{}) error {
	if err := requestValidate.Struct(v); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, err.Error())
	}
	return nil
}
