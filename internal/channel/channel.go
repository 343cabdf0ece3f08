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

// Package channel 实现 retry / failure 两条至少一次投递的 granule 事件通道，以及运维 redrive。
package channel

import (
	"context"
	"time"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
	"granule-backfill/pkg/metrics"
	"granule-backfill/pkg/utils"
)

// DefaultVisibility 未指定时的消息不可见时长
const DefaultVisibility = 5 * time.Minute

// Delivery 一次投递；Receipt 每次接收都会变化，Ack/Nack 必须携带最新的 Receipt
type Delivery struct {
	ID           string        `json:"id"`
	Receipt      string        `json:"receipt"`
	Event        granule.Event `json:"event"`
	ReceiveCount int           `json:"receive_count"`
}

// Stats 通道计数
type Stats struct {
	Name     string `json:"name"`
	Ready    int    `json:"ready"`
	InFlight int    `json:"in_flight"`
}

// Channel 至少一次投递的事件队列；接收后未 Ack 的消息在 visibility 到期后重新可见
type Channel interface {
	Name() string
	Publish(ctx context.Context, ev granule.Event) error
	// Receive 最多接收 max 条当前可见的消息
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error)
	// Ack 删除消息；Receipt 已过期（消息已被重新投递）时返回包装 ErrNotFound 的错误
	Ack(ctx context.Context, d Delivery) error
	// Nack 立即让消息重新可见
	Nack(ctx context.Context, d Delivery) error
	// Len 消息总数（可见 + 处理中）
	Len(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

const redriveBatch = 100

// Redrive 将 from 中最多 limit 条（limit <= 0 表示全部）当前可见的消息移动到 to。
// 每条消息先发布到 to 再从 from 确认，崩溃只会产生重复，不会丢失。
func Redrive(ctx context.Context, from, to Channel, limit int, visibility time.Duration) (int, error) {
	if from.Name() == to.Name() {
		return 0, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "redrive source and target are both %q", from.Name())
	}
	visibility = utils.PositiveDuration(visibility, DefaultVisibility)
	moved := 0
	for limit <= 0 || moved < limit {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		n := redriveBatch
		if limit > 0 && limit-moved < n {
			n = limit - moved
		}
		batch, err := from.Receive(ctx, n, visibility)
		if err != nil {
			return moved, pkgerrors.Wrapf(err, "receive from %s", from.Name())
		}
		if len(batch) == 0 {
			break
		}
		for i, d := range batch {
			if err := to.Publish(ctx, d.Event); err != nil {
				releaseAll(ctx, from, batch[i:])
				return moved, pkgerrors.Wrapf(err, "publish to %s", to.Name())
			}
			if err := from.Ack(ctx, d); err != nil {
				releaseAll(ctx, from, batch[i+1:])
				return moved, pkgerrors.Wrapf(err, "ack %s on %s", d.ID, from.Name())
			}
			moved++
			metrics.ChannelRedrivenTotal.WithLabelValues(from.Name(), to.Name()).Inc()
		}
	}
	return moved, nil
}

// releaseAll 尽力把未处理的消息放回
func releaseAll(ctx context.Context, ch Channel, ds []Delivery) {
	for _, d := range ds {
		_ = ch.Nack(ctx, d)
	}
}

func validateReceive(max int, visibility time.Duration) error {
	if max <= 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "receive max must be > 0, got %d", max)
	}
	if visibility <= 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "visibility must be > 0, got %s", visibility)
	}
	return nil
}

func staleReceipt(name string, d Delivery) error {
	return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "channel %s: message %s receipt %s", name, d.ID, d.Receipt)
}
