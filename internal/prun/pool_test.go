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

package prun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"iris/internal/wire"
)

func byteInput(b ...byte) wire.Attachment {
	return wire.Attachment{
		Descriptor: wire.Descriptor{Dtype: wire.Uint8, Shape: []int{len(b)}, ByteLength: len(b)},
		Data:       b,
	}
}

// echoHandler doubles every byte; fails when the first byte is 0xFF.
func echoHandler(req *wire.Message) (*wire.Message, error) {
	att := req.Attachments[0]
	if len(att.Data) > 0 && att.Data[0] == 0xFF {
		return nil, fmt.Errorf("poison input")
	}
	out := make([]byte, len(att.Data))
	for i, v := range att.Data {
		out[i] = v * 2
	}
	return wire.NewResponse(req.ID, wire.Attachment{
		Descriptor: att.Descriptor,
		Data:       out,
	}), nil
}

func TestPoolRun(t *testing.T) {
	t.Run("OrderedResults", func(t *testing.T) {
		pool, err := New(3, &PipeSpawner{Handle: echoHandler})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		inputs := []wire.Attachment{
			byteInput(1), byteInput(2), byteInput(3), byteInput(4), byteInput(5),
		}
		results, err := pool.Run(context.Background(), "double", nil, inputs)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(results) != len(inputs) {
			t.Fatalf("Expected %d results, got %d", len(inputs), len(results))
		}
		for i, res := range results {
			if res.Err != nil {
				t.Fatalf("Result %d failed: %v", i, res.Err)
			}
			if res.Index != i {
				t.Errorf("Result %d carries index %d", i, res.Index)
			}
			want := byte((i + 1) * 2)
			if !bytes.Equal(res.Output.Data, []byte{want}) {
				t.Errorf("Result %d: expected [%d], got %v", i, want, res.Output.Data)
			}
		}
	})

	t.Run("SingleFailureDoesNotAbortBatch", func(t *testing.T) {
		pool, err := New(3, &PipeSpawner{Handle: echoHandler})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		inputs := []wire.Attachment{byteInput(1), byteInput(0xFF), byteInput(3)}
		results, err := pool.Run(context.Background(), "double", nil, inputs)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if results[0].Err != nil || !bytes.Equal(results[0].Output.Data, []byte{2}) {
			t.Errorf("Result 0: expected [2], got %v (err %v)", results[0].Output.Data, results[0].Err)
		}
		var failure *WorkerFailure
		if !errors.As(results[1].Err, &failure) {
			t.Fatalf("Result 1: expected WorkerFailure, got %v", results[1].Err)
		}
		if failure.Index != 1 {
			t.Errorf("Expected failure index 1, got %d", failure.Index)
		}
		if results[2].Err != nil || !bytes.Equal(results[2].Output.Data, []byte{6}) {
			t.Errorf("Result 2: expected [6], got %v (err %v)", results[2].Output.Data, results[2].Err)
		}
	})

	t.Run("HandlerPanicIsWorkerFailure", func(t *testing.T) {
		panicking := func(req *wire.Message) (*wire.Message, error) {
			if req.Attachments[0].Data[0] == 2 {
				panic("boom")
			}
			return echoHandler(req)
		}
		pool, err := New(2, &PipeSpawner{Handle: panicking})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		results, err := pool.Run(context.Background(), "double", nil, []wire.Attachment{
			byteInput(1), byteInput(2), byteInput(3),
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		var failure *WorkerFailure
		if !errors.As(results[1].Err, &failure) {
			t.Fatalf("Expected WorkerFailure for panicking item, got %v", results[1].Err)
		}
		if results[0].Err != nil || results[2].Err != nil {
			t.Error("Sibling items must not be affected by a panic")
		}
	})

	t.Run("PoolSizeClampedToInputCount", func(t *testing.T) {
		spawned := 0
		spawner := &countingSpawner{inner: &PipeSpawner{Handle: echoHandler}, count: &spawned}
		pool, err := New(8, spawner)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, err := pool.Run(context.Background(), "double", nil, []wire.Attachment{byteInput(1), byteInput(2)}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if spawned > 2 {
			t.Errorf("Expected at most 2 workers for 2 inputs, spawned %d", spawned)
		}
	})

	t.Run("EmptyInputs", func(t *testing.T) {
		pool, err := New(2, &PipeSpawner{Handle: echoHandler})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		results, err := pool.Run(context.Background(), "double", nil, nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("Expected no results, got %d", len(results))
		}
	})

	t.Run("InvalidPoolSize", func(t *testing.T) {
		if _, err := New(0, &PipeSpawner{Handle: echoHandler}); err == nil {
			t.Error("Expected error for pool size 0")
		}
		if _, err := New(-3, &PipeSpawner{Handle: echoHandler}); err == nil {
			t.Error("Expected error for negative pool size")
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		pool, err := New(2, &PipeSpawner{Handle: echoHandler})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, err := pool.Run(ctx, "double", nil, []wire.Attachment{byteInput(1)}); err == nil {
			t.Error("Expected error from canceled context")
		}
	})
}

// crashingWorker fails transport-level on a poison byte, simulating a
// worker process dying mid-item.
type crashingWorker struct {
	inner Worker
}

func (w *crashingWorker) Call(req *wire.Message) (*wire.Message, error) {
	if req.Attachments[0].Data[0] == 0xEE {
		return nil, wire.ErrConnectionClosed
	}
	return w.inner.Call(req)
}

func (w *crashingWorker) Close() error { return w.inner.Close() }

type crashingSpawner struct {
	inner Spawner
}

func (s *crashingSpawner) Spawn(ctx context.Context) (Worker, error) {
	w, err := s.inner.Spawn(ctx)
	if err != nil {
		return nil, err
	}
	return &crashingWorker{inner: w}, nil
}

type countingSpawner struct {
	inner Spawner
	count *int
}

func (s *countingSpawner) Spawn(ctx context.Context) (Worker, error) {
	*s.count++
	return s.inner.Spawn(ctx)
}

func TestPoolWorkerCrashRecovery(t *testing.T) {
	spawner := &crashingSpawner{inner: &PipeSpawner{Handle: echoHandler}}
	pool, err := New(1, spawner)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// One worker, crash in the middle; the pool must respawn and finish
	// the remaining items in order.
	inputs := []wire.Attachment{byteInput(1), byteInput(0xEE), byteInput(3)}
	results, err := pool.Run(context.Background(), "double", nil, inputs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if results[0].Err != nil {
		t.Errorf("Result 0 failed: %v", results[0].Err)
	}
	var failure *WorkerFailure
	if !errors.As(results[1].Err, &failure) {
		t.Fatalf("Expected WorkerFailure for crashed item, got %v", results[1].Err)
	}
	if results[2].Err != nil || !bytes.Equal(results[2].Output.Data, []byte{6}) {
		t.Errorf("Result 2 after respawn: expected [6], got %v (err %v)", results[2].Output.Data, results[2].Err)
	}
}

func TestServeWorkerMalformedItem(t *testing.T) {
	spawner := &PipeSpawner{Handle: echoHandler}
	w, err := spawner.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer w.Close()

	sw := w.(*streamWorker)
	if err := sw.framer.Send(sw.in, []byte("not a message"), 0); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	reply, err := sw.framer.Receive(sw.out, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	msg, err := wire.Decode(reply)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !msg.IsError() || msg.ErrorKind != wire.ErrorKindBadRequest {
		t.Errorf("Expected bad_request error reply, got %+v", msg)
	}
}
