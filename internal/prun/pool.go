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

// Package prun executes a named op over an ordered collection of
// inputs using a fixed-size pool of OS-process workers. Items cross the
// process boundary as framed wire messages, so a crash or hang inside
// the op can never corrupt the coordinator; the coordinator only ever
// observes the boundary.
package prun

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"iris/internal/logger"
	"iris/internal/wire"
)

// WorkerFailure marks one input whose op invocation failed. The rest of
// the batch is unaffected.
type WorkerFailure struct {
	Index  int
	Detail string
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("worker failure on input %d: %s", e.Index, e.Detail)
}

// Result pairs one input index with its output attachment or failure.
type Result struct {
	Index  int
	Output wire.Attachment
	Err    error
}

// Worker is one spawned execution boundary: send an item, get a reply.
type Worker interface {
	Call(req *wire.Message) (*wire.Message, error)
	Close() error
}

// Spawner creates workers. The production spawner re-executes the
// current binary; tests run the same worker loop over in-process pipes.
type Spawner interface {
	Spawn(ctx context.Context) (Worker, error)
}

// Pool is a fixed-size process pool.
type Pool struct {
	size   int
	spawn  Spawner
	logger zerolog.Logger
}

// New creates a pool. Size must be at least 1.
func New(size int, spawn Spawner) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}
	if spawn == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	return &Pool{size: size, spawn: spawn, logger: logger.New()}, nil
}

// Size returns the configured pool size.
func (p *Pool) Size() int {
	return p.size
}

// Run applies op to every input and returns results in input order,
// regardless of completion order. A failing item occupies its slot as a
// WorkerFailure and never aborts its siblings. Run itself fails only if
// the batch cannot run at all (context canceled).
func (p *Pool) Run(ctx context.Context, op string, params map[string]interface{}, inputs []wire.Attachment) ([]Result, error) {
	if len(inputs) == 0 {
		return []Result{}, nil
	}

	workers := p.size
	if workers > len(inputs) {
		workers = len(inputs)
	}

	p.logger.Debug().
		Str("op", op).
		Int("inputs", len(inputs)).
		Int("workers", workers).
		Msg("Starting pool run")

	indexCh := make(chan int)
	go func() {
		defer close(indexCh)
		for i := range inputs {
			select {
			case indexCh <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Each slot is written exactly once by exactly one worker
	// goroutine, so the results slice needs no lock.
	results := make([]Result, len(inputs))
	for i := range results {
		results[i] = Result{Index: i}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, op, params, inputs, indexCh, results)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pool run aborted: %w", err)
	}
	return results, nil
}

// runWorker drains indexes with one spawned worker, replacing the
// worker if it dies mid-item so the remaining inputs still complete.
func (p *Pool) runWorker(ctx context.Context, op string, params map[string]interface{}, inputs []wire.Attachment, indexCh <-chan int, results []Result) {
	w, err := p.spawn.Spawn(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to spawn pool worker")
		for idx := range indexCh {
			results[idx] = Result{Index: idx, Err: &WorkerFailure{Index: idx, Detail: fmt.Sprintf("spawn worker: %v", err)}}
		}
		return
	}
	defer func() {
		if w != nil {
			w.Close()
		}
	}()

	for idx := range indexCh {
		req := &wire.Message{
			Type:        wire.TypeRequest,
			ID:          strconv.Itoa(idx),
			Op:          op,
			Params:      params,
			Attachments: []wire.Attachment{inputs[idx]},
		}

		resp, err := w.Call(req)
		if err != nil {
			// The worker is gone or its stream is corrupt; the failure
			// is scoped to this item only.
			p.logger.Warn().Err(err).Int("index", idx).Msg("Pool worker died mid-item, respawning")
			results[idx] = Result{Index: idx, Err: &WorkerFailure{Index: idx, Detail: fmt.Sprintf("worker i/o: %v", err)}}
			w.Close()
			w, err = p.spawn.Spawn(ctx)
			if err != nil {
				p.logger.Error().Err(err).Msg("Failed to respawn pool worker")
				w = nil
				for rest := range indexCh {
					results[rest] = Result{Index: rest, Err: &WorkerFailure{Index: rest, Detail: fmt.Sprintf("respawn worker: %v", err)}}
				}
				return
			}
			continue
		}

		results[idx] = itemResult(idx, resp)
	}
}

func itemResult(idx int, resp *wire.Message) Result {
	switch {
	case resp.IsError():
		return Result{Index: idx, Err: &WorkerFailure{Index: idx, Detail: resp.ErrorDetail}}
	case len(resp.Attachments) == 1:
		return Result{Index: idx, Output: resp.Attachments[0]}
	default:
		return Result{Index: idx, Err: &WorkerFailure{
			Index:  idx,
			Detail: fmt.Sprintf("worker reply carries %d attachment(s), expected 1", len(resp.Attachments)),
		}}
	}
}
