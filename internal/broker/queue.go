// Copyright 2025 Arion Yau
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

package broker

import "sync"

// queued is one publish held back while disconnected.
type queued struct {
	subject string
	data    []byte
	id      string
}

// publishQueue is a bounded FIFO. When full, pushing evicts the oldest
// entry; the caller must signal every eviction.
type publishQueue struct {
	mu    sync.Mutex
	max   int
	items []queued
}

func newPublishQueue(max int) *publishQueue {
	return &publishQueue{max: max}
}

// push appends q, evicting and returning the oldest entry if the queue
// is full.
func (pq *publishQueue) push(q queued) (dropped queued, didDrop bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.items) >= pq.max {
		dropped = pq.items[0]
		didDrop = true
		pq.items = pq.items[1:]
	}
	pq.items = append(pq.items, q)
	return dropped, didDrop
}

// drain removes and returns everything in FIFO order.
func (pq *publishQueue) drain() []queued {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	items := pq.items
	pq.items = nil
	return items
}

// requeue puts unflushed entries back at the front, keeping their
// relative order ahead of anything queued meanwhile. Overflow evicts
// the oldest entries, which are returned so callers can signal them.
func (pq *publishQueue) requeue(items []queued) []queued {
	if len(items) == 0 {
		return nil
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.items = append(append([]queued{}, items...), pq.items...)
	var evicted []queued
	for len(pq.items) > pq.max {
		evicted = append(evicted, pq.items[0])
		pq.items = pq.items[1:]
	}
	return evicted
}

func (pq *publishQueue) len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}
