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
	"sync"

	"github.com/google/uuid"

	"granule-backfill/internal/granule"
	pkgerrors "granule-backfill/pkg/errors"
)

// Submission 内存集群收到的一次提交
type Submission struct {
	JobID string
	Event granule.Event
}

// MemoryCluster 进程内集群：记录提交、可编程拒绝与队列深度；本身不执行作业也不产生终态事件
type MemoryCluster struct {
	mu           sync.Mutex
	depth        int
	reject       func(ev granule.Event, call int) bool
	onEnqueue    func(Submission)
	accepted     []Submission
	enqueueCalls int
	depthCalls   int
}

// NewMemoryCluster 创建内存集群
func NewMemoryCluster() *MemoryCluster {
	return &MemoryCluster{}
}

// SetDepth 设置 QueueDepth 返回值
func (c *MemoryCluster) SetDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth = depth
}

// RejectWhen 设置拒绝规则；call 为从 1 开始的 Enqueue 调用序号
func (c *MemoryCluster) RejectWhen(fn func(ev granule.Event, call int) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = fn
}

// OnEnqueue 每次接受提交后回调（在锁外执行），开发模式可用来模拟作业完成
func (c *MemoryCluster) OnEnqueue(fn func(Submission)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnqueue = fn
}

func (c *MemoryCluster) Enqueue(ctx context.Context, ev granule.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.enqueueCalls++
	if c.reject != nil && c.reject(ev, c.enqueueCalls) {
		c.mu.Unlock()
		return "", pkgerrors.Wrapf(pkgerrors.ErrRejected, "memory cluster rejected %s", ev.JobName())
	}
	sub := Submission{JobID: uuid.NewString(), Event: ev}
	c.accepted = append(c.accepted, sub)
	hook := c.onEnqueue
	c.mu.Unlock()
	if hook != nil {
		hook(sub)
	}
	return sub.JobID, nil
}

func (c *MemoryCluster) QueueDepth(ctx context.Context, threshold int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depthCalls++
	return c.depth, nil
}

// Accepted 已接受的提交（副本）
func (c *MemoryCluster) Accepted() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Submission, len(c.accepted))
	copy(out, c.accepted)
	return out
}

// AcceptedEvents 已接受的事件
func (c *MemoryCluster) AcceptedEvents() []granule.Event {
	subs := c.Accepted()
	out := make([]granule.Event, len(subs))
	for i, s := range subs {
		out[i] = s.Event
	}
	return out
}

// EnqueueCalls Enqueue 调用次数（含被拒）
func (c *MemoryCluster) EnqueueCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueCalls
}

// DepthCalls QueueDepth 调用次数
func (c *MemoryCluster) DepthCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depthCalls
}
