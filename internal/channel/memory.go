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
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"granule-backfill/internal/granule"
)

type memoryMessage struct {
	id           string
	event        granule.Event
	receipt      string
	receiveCount int
	visibleAt    time.Time
}

// MemoryChannel 进程内通道，测试与单机模式使用
type MemoryChannel struct {
	name string
	now  func() time.Time

	mu     sync.Mutex
	nextID int64
	msgs   []*memoryMessage
}

// NewMemoryChannel 创建内存通道
func NewMemoryChannel(name string) *MemoryChannel {
	return &MemoryChannel{name: name, now: time.Now}
}

// SetClock 替换时钟（测试可见性超时）
func (c *MemoryChannel) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryChannel) Name() string { return c.name }

func (c *MemoryChannel) Publish(ctx context.Context, ev granule.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.msgs = append(c.msgs, &memoryMessage{
		id:        strconv.FormatInt(c.nextID, 10),
		event:     ev,
		visibleAt: c.now(),
	})
	return nil
}

func (c *MemoryChannel) Receive(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	if err := validateReceive(max, visibility); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []Delivery
	for _, m := range c.msgs {
		if len(out) == max {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}
		m.receipt = uuid.New().String()
		m.receiveCount++
		m.visibleAt = now.Add(visibility)
		out = append(out, Delivery{ID: m.id, Receipt: m.receipt, Event: m.event, ReceiveCount: m.receiveCount})
	}
	return out, nil
}

func (c *MemoryChannel) find(d Delivery) int {
	for i, m := range c.msgs {
		if m.id == d.ID && m.receipt == d.Receipt && d.Receipt != "" {
			return i
		}
	}
	return -1
}

func (c *MemoryChannel) Ack(ctx context.Context, d Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.find(d)
	if i < 0 {
		return staleReceipt(c.name, d)
	}
	c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
	return nil
}

func (c *MemoryChannel) Nack(ctx context.Context, d Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.find(d)
	if i < 0 {
		return staleReceipt(c.name, d)
	}
	c.msgs[i].receipt = ""
	c.msgs[i].visibleAt = c.now()
	return nil
}

func (c *MemoryChannel) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs), nil
}

func (c *MemoryChannel) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Name: c.name}
	now := c.now()
	for _, m := range c.msgs {
		if m.visibleAt.After(now) {
			st.InFlight++
		} else {
			st.Ready++
		}
	}
	return st, nil
}

// Events 当前全部消息的事件快照（按发布顺序）
func (c *MemoryChannel) Events() []granule.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]granule.Event, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.event
	}
	return out
}

func (c *MemoryChannel) Close() error { return nil }
