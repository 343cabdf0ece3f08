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

package channel

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"granule-backfill/internal/granule"
)

// PostgresChannel backfill_channel_messages 表实现；多消费者通过 FOR UPDATE SKIP LOCKED 认领
type PostgresChannel struct {
	name string
	pool *pgxpool.Pool
}

// NewPostgresChannel 创建通道；pool 需已执行建表
func NewPostgresChannel(pool *pgxpool.Pool, name string) *PostgresChannel {
	return &PostgresChannel{name: name, pool: pool}
}

func (c *PostgresChannel) Name() string { return c.name }

func (c *PostgresChannel) Publish(ctx context.Context, ev granule.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx,
		`INSERT INTO backfill_channel_messages (channel, payload) VALUES ($1, $2)`,
		c.name, payload,
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", c.name, err)
	}
	return nil
}

func (c *PostgresChannel) Receive(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	if err := validateReceive(max, visibility); err != nil {
		return nil, err
	}
	rows, err := c.pool.Query(ctx,
		`WITH sel AS (
  SELECT id FROM backfill_channel_messages
  WHERE channel = $1 AND visible_at <= now()
  ORDER BY visible_at, id LIMIT $2 FOR UPDATE SKIP LOCKED
)
UPDATE backfill_channel_messages m
SET receipt = gen_random_uuid()::text,
    receive_count = m.receive_count + 1,
    visible_at = now() + $3::bigint * interval '1 millisecond'
FROM sel WHERE m.id = sel.id
RETURNING m.id, m.receipt, m.receive_count, m.payload`,
		c.name, max, visibility.Milliseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", c.name, err)
	}
	type row struct {
		ID           int64
		Receipt      string
		ReceiveCount int
		Payload      []byte
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", c.name, err)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].ID < collected[j].ID })

	out := make([]Delivery, 0, len(collected))
	for _, r := range collected {
		ev, err := granule.UnmarshalEvent(r.Payload)
		if err != nil {
			return out, fmt.Errorf("decode message %d on %s: %w", r.ID, c.name, err)
		}
		out = append(out, Delivery{
			ID:           strconv.FormatInt(r.ID, 10),
			Receipt:      r.Receipt,
			Event:        ev,
			ReceiveCount: r.ReceiveCount,
		})
	}
	return out, nil
}

func parseMessageID(name string, d Delivery) (int64, error) {
	id, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return 0, staleReceipt(name, d)
	}
	return id, nil
}

func (c *PostgresChannel) Ack(ctx context.Context, d Delivery) error {
	id, err := parseMessageID(c.name, d)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM backfill_channel_messages WHERE channel = $1 AND id = $2 AND receipt = $3`,
		c.name, id, d.Receipt,
	)
	if err != nil {
		return fmt.Errorf("ack on %s: %w", c.name, err)
	}
	if tag.RowsAffected() == 0 {
		return staleReceipt(c.name, d)
	}
	return nil
}

func (c *PostgresChannel) Nack(ctx context.Context, d Delivery) error {
	id, err := parseMessageID(c.name, d)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx,
		`UPDATE backfill_channel_messages SET visible_at = now(), receipt = NULL
		 WHERE channel = $1 AND id = $2 AND receipt = $3`,
		c.name, id, d.Receipt,
	)
	if err != nil {
		return fmt.Errorf("nack on %s: %w", c.name, err)
	}
	if tag.RowsAffected() == 0 {
		return staleReceipt(c.name, d)
	}
	return nil
}

func (c *PostgresChannel) Len(ctx context.Context) (int, error) {
	st, err := c.Stats(ctx)
	return st.Ready + st.InFlight, err
}

func (c *PostgresChannel) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Name: c.name}
	err := c.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE visible_at <= now()),
		        count(*) FILTER (WHERE visible_at > now())
		 FROM backfill_channel_messages WHERE channel = $1`,
		c.name,
	).Scan(&st.Ready, &st.InFlight)
	if err != nil {
		return Stats{}, fmt.Errorf("stats of %s: %w", c.name, err)
	}
	return st, nil
}

// Close 连接池由 Set 统一关闭
func (c *PostgresChannel) Close() error { return nil }
