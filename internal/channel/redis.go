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
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"granule-backfill/internal/granule"
)

// KeyPrefix 所有通道键的前缀
const KeyPrefix = "granule-backfill:channel:"

// receiveScript 先把可见性到期的处理中消息放回队首，再弹出最多 max 条并登记为处理中。
// KEYS: ready, inflight, deadlines, msgs, counts
// ARGV: now_ms, visibility_ms, max, receipt_1..receipt_max
var receiveScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, r in ipairs(expired) do
  local id = redis.call('HGET', KEYS[2], r)
  redis.call('HDEL', KEYS[2], r)
  redis.call('ZREM', KEYS[3], r)
  if id then redis.call('LPUSH', KEYS[1], id) end
end
local out = {}
for i = 1, tonumber(ARGV[3]) do
  local id = redis.call('LPOP', KEYS[1])
  if not id then break end
  local receipt = ARGV[3 + i]
  redis.call('HSET', KEYS[2], receipt, id)
  redis.call('ZADD', KEYS[3], tonumber(ARGV[1]) + tonumber(ARGV[2]), receipt)
  local n = redis.call('HINCRBY', KEYS[5], id, 1)
  local body = redis.call('HGET', KEYS[4], id)
  table.insert(out, id)
  table.insert(out, receipt)
  table.insert(out, tostring(n))
  table.insert(out, body or '')
end
return out
`)

// settleScript Ack（ARGV[3]=ack）删除消息，Nack 放回队首；receipt 不匹配时返回 0
// KEYS: ready, inflight, deadlines, msgs, counts
// ARGV: receipt, id, mode
var settleScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[2], ARGV[1])
if not id or id ~= ARGV[2] then return 0 end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
if ARGV[3] == 'ack' then
  redis.call('HDEL', KEYS[4], id)
  redis.call('HDEL', KEYS[5], id)
else
  redis.call('LPUSH', KEYS[1], id)
end
return 1
`)

// RedisChannel Redis 实现：ready 列表存消息 id，inflight 哈希 receipt->id，
// deadlines 有序集合 receipt->可见时间，msgs 哈希 id->事件 JSON，counts 哈希 id->接收次数
type RedisChannel struct {
	name   string
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisChannel 使用已有客户端创建通道
func NewRedisChannel(client redis.UniversalClient, name string) *RedisChannel {
	return &RedisChannel{name: name, client: client, now: time.Now}
}

// SetClock 替换时钟（测试可见性超时）
func (c *RedisChannel) SetClock(now func() time.Time) { c.now = now }

func (c *RedisChannel) keys() []string {
	base := KeyPrefix + c.name + ":"
	return []string{base + "ready", base + "inflight", base + "deadlines", base + "msgs", base + "counts"}
}

func (c *RedisChannel) Name() string { return c.name }

func (c *RedisChannel) Publish(ctx context.Context, ev granule.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := ev.Marshal()
	if err != nil {
		return err
	}
	id := uuid.New().String()
	k := c.keys()
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k[3], id, body)
		pipe.RPush(ctx, k[0], id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", c.name, err)
	}
	return nil
}

func (c *RedisChannel) Receive(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	if err := validateReceive(max, visibility); err != nil {
		return nil, err
	}
	args := make([]interface{}, 0, 3+max)
	args = append(args, c.now().UnixMilli(), visibility.Milliseconds(), max)
	for i := 0; i < max; i++ {
		args = append(args, uuid.New().String())
	}
	res, err := receiveScript.Run(ctx, c.client, c.keys(), args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", c.name, err)
	}
	out := make([]Delivery, 0, len(res)/4)
	for i := 0; i+3 < len(res); i += 4 {
		d := Delivery{ID: res[i], Receipt: res[i+1]}
		d.ReceiveCount, _ = strconv.Atoi(res[i+2])
		ev, err := granule.UnmarshalEvent([]byte(res[i+3]))
		if err != nil {
			// 损坏的消息留在处理中，到期后重新可见，由运维排查
			return out, fmt.Errorf("decode message %s on %s: %w", d.ID, c.name, err)
		}
		d.Event = ev
		out = append(out, d)
	}
	return out, nil
}

func (c *RedisChannel) settle(ctx context.Context, d Delivery, mode string) error {
	n, err := settleScript.Run(ctx, c.client, c.keys(), d.Receipt, d.ID, mode).Int()
	if err != nil {
		return fmt.Errorf("%s on %s: %w", mode, c.name, err)
	}
	if n == 0 {
		return staleReceipt(c.name, d)
	}
	return nil
}

func (c *RedisChannel) Ack(ctx context.Context, d Delivery) error  { return c.settle(ctx, d, "ack") }
func (c *RedisChannel) Nack(ctx context.Context, d Delivery) error { return c.settle(ctx, d, "nack") }

func (c *RedisChannel) Len(ctx context.Context) (int, error) {
	st, err := c.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return st.Ready + st.InFlight, nil
}

func (c *RedisChannel) Stats(ctx context.Context) (Stats, error) {
	k := c.keys()
	var ready, inflight *redis.IntCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, k[0])
		inflight = pipe.HLen(ctx, k[1])
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats of %s: %w", c.name, err)
	}
	return Stats{Name: c.name, Ready: int(ready.Val()), InFlight: int(inflight.Val())}, nil
}

// Close 客户端由 Set 统一关闭
func (c *RedisChannel) Close() error { return nil }
