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

import "testing"

func entry(id string) queued {
	return queued{subject: "s", id: id}
}

func ids(items []queued) []string {
	out := make([]string, len(items))
	for i, q := range items {
		out[i] = q.id
	}
	return out
}

func TestPublishQueue(t *testing.T) {
	t.Run("PushEvictsOldestWhenFull", func(t *testing.T) {
		pq := newPublishQueue(2)
		if _, drop := pq.push(entry("a")); drop {
			t.Error("Unexpected drop on first push")
		}
		if _, drop := pq.push(entry("b")); drop {
			t.Error("Unexpected drop on second push")
		}
		dropped, drop := pq.push(entry("c"))
		if !drop || dropped.id != "a" {
			t.Errorf("Expected oldest entry a dropped, got %q (drop=%v)", dropped.id, drop)
		}
		if pq.len() != 2 {
			t.Errorf("Expected length 2, got %d", pq.len())
		}
	})

	t.Run("DrainReturnsFIFO", func(t *testing.T) {
		pq := newPublishQueue(4)
		pq.push(entry("a"))
		pq.push(entry("b"))
		pq.push(entry("c"))
		got := ids(pq.drain())
		want := []string{"a", "b", "c"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Expected %v, got %v", want, got)
			}
		}
		if pq.len() != 0 {
			t.Errorf("Expected empty queue after drain, got %d", pq.len())
		}
	})

	t.Run("RequeuePrependsAheadOfNewEntries", func(t *testing.T) {
		pq := newPublishQueue(4)
		pq.push(entry("d"))
		pq.requeue([]queued{entry("b"), entry("c")})
		got := ids(pq.drain())
		want := []string{"b", "c", "d"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Expected %v, got %v", want, got)
			}
		}
	})

	t.Run("RequeueOverflowEvictsOldest", func(t *testing.T) {
		pq := newPublishQueue(2)
		pq.push(entry("c"))
		pq.push(entry("d"))
		evicted := pq.requeue([]queued{entry("a"), entry("b")})
		if len(evicted) != 2 {
			t.Fatalf("Expected 2 evictions, got %d", len(evicted))
		}
		if evicted[0].id != "a" || evicted[1].id != "b" {
			t.Errorf("Expected a and b evicted, got %v", ids(evicted))
		}
		got := ids(pq.drain())
		if got[0] != "c" || got[1] != "d" {
			t.Errorf("Expected c and d retained, got %v", got)
		}
	})
}
