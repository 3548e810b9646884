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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"iris/internal/wire"
)

// ItemHandler processes one pool item inside a worker process.
type ItemHandler func(req *wire.Message) (*wire.Message, error)

// ServeWorker runs the worker side of the pool protocol: framed request
// in, framed reply out, one item per turn, until the input stream
// closes. A handler panic is confined to the current item.
func ServeWorker(r io.Reader, w io.Writer, handle ItemHandler) error {
	f := wire.Framer{}
	for {
		payload, err := f.Receive(r, 0)
		if errors.Is(err, wire.ErrConnectionClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive pool item: %w", err)
		}

		var resp *wire.Message
		req, err := wire.Decode(payload)
		if err != nil {
			resp = wire.NewErrorResponse("", wire.ErrorKindBadRequest, err.Error())
		} else {
			resp = handleItem(req, handle)
		}

		out, err := wire.Encode(resp)
		if err != nil {
			return fmt.Errorf("encode pool reply: %w", err)
		}
		if err := f.Send(w, out, 0); err != nil {
			return fmt.Errorf("send pool reply: %w", err)
		}
	}
}

func handleItem(req *wire.Message, handle ItemHandler) (resp *wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			resp = wire.NewErrorResponse(req.ID, wire.ErrorKindPanic, fmt.Sprintf("%v", r))
		}
	}()
	resp, err := handle(req)
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.ErrorKindProcessing, err.Error())
	}
	return resp
}

// streamWorker drives one worker over a request/reply byte stream.
type streamWorker struct {
	mu     sync.Mutex
	in     io.WriteCloser
	out    io.Reader
	framer wire.Framer
	stop   func() error
}

func (w *streamWorker) Call(req *wire.Message) (*wire.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload, err := wire.Encode(req)
	if err != nil {
		return nil, err
	}
	if err := w.framer.Send(w.in, payload, 0); err != nil {
		return nil, err
	}
	reply, err := w.framer.Receive(w.out, 0)
	if err != nil {
		return nil, err
	}
	return wire.Decode(reply)
}

func (w *streamWorker) Close() error {
	w.in.Close()
	if w.stop != nil {
		return w.stop()
	}
	return nil
}

// ExecSpawner spawns worker processes running the given command; items
// travel over the child's stdin/stdout.
type ExecSpawner struct {
	Path string
	Args []string
}

// SelfSpawner spawns copies of the current binary with the given
// arguments (the hidden pool worker command).
func SelfSpawner(args ...string) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate current binary: %w", err)
	}
	return &ExecSpawner{Path: path, Args: args}, nil
}

// Spawn starts one worker process.
func (s *ExecSpawner) Spawn(ctx context.Context) (Worker, error) {
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	return &streamWorker{
		in:  stdin,
		out: stdout,
		// Closing stdin ends the child's serve loop; Wait reaps it.
		// CommandContext kills the process if the context is canceled.
		stop: cmd.Wait,
	}, nil
}

// PipeSpawner runs the real worker loop over in-process pipes. It keeps
// pool tests hermetic while exercising the exact item protocol the
// exec workers speak.
type PipeSpawner struct {
	Handle ItemHandler
}

// Spawn starts one in-process worker.
func (s *PipeSpawner) Spawn(ctx context.Context) (Worker, error) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		err := ServeWorker(reqR, respW, s.Handle)
		respW.CloseWithError(err)
		reqR.Close()
	}()

	return &streamWorker{in: reqW, out: respR}, nil
}
