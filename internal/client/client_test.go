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

package client

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"iris/internal/processing"
	"iris/internal/server"
	"iris/internal/wire"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{Addr: "127.0.0.1:0"},
		processing.NewHandler(processing.Default(), nil))
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("server.Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestClientProcess(t *testing.T) {
	srv := startServer(t)
	c := New(Config{Addr: srv.Addr().String(), Timeout: 5 * time.Second})
	defer c.Close()

	in := &processing.Array{Dtype: wire.Uint8, Shape: []int{2, 2}, Data: []byte{0, 1, 2, 3}}
	out, err := c.Process("invert", in, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	want := []byte{255, 254, 253, 252}
	if !bytes.Equal(out.Data, want) {
		t.Errorf("Expected %v, got %v", want, out.Data)
	}
	if out.Dtype != wire.Uint8 || len(out.Shape) != 2 {
		t.Errorf("Unexpected result descriptor: %s %v", out.Dtype, out.Shape)
	}
}

func TestClientProcessRemoteError(t *testing.T) {
	srv := startServer(t)
	c := New(Config{Addr: srv.Addr().String(), Timeout: 5 * time.Second})
	defer c.Close()

	in := &processing.Array{Dtype: wire.Uint8, Shape: []int{1}, Data: []byte{7}}
	_, err := c.Process("no_such_op", in, nil)

	var remote *wire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Expected RemoteError, got %v", err)
	}
	if remote.Kind != wire.ErrorKindUnknownOp {
		t.Errorf("Expected kind %s, got %s", wire.ErrorKindUnknownOp, remote.Kind)
	}
}

func TestClientReusableAfterClose(t *testing.T) {
	srv := startServer(t)
	c := New(Config{Addr: srv.Addr().String(), Timeout: 5 * time.Second})

	in := &processing.Array{Dtype: wire.Uint8, Shape: []int{1}, Data: []byte{7}}
	if _, err := c.Process("identity", in, nil); err != nil {
		t.Fatalf("First call failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close drops the connection; the next call redials.
	if _, err := c.Process("identity", in, nil); err != nil {
		t.Fatalf("Call after close failed: %v", err)
	}
	c.Close()
}

func TestClientTimeout(t *testing.T) {
	// A listener that accepts and then never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	c := New(Config{Addr: ln.Addr().String()})
	defer c.Close()

	_, err = c.Call(wire.NewRequest("identity", nil), 80*time.Millisecond)
	if !errors.Is(err, wire.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	stats := c.GetStats()
	if stats.CallsTimedOut != 1 || stats.CallsFailed != 1 {
		t.Errorf("Expected 1 timeout and 1 failure, got %d/%d", stats.CallsTimedOut, stats.CallsFailed)
	}
}

func TestClientAutoReconnect(t *testing.T) {
	// First connection is dropped without a reply; the second one is
	// served. With AutoReconnect the call still succeeds.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	var framer wire.Framer
	go func() {
		first, err := ln.Accept()
		if err != nil {
			return
		}
		framer.Receive(first, time.Second)
		first.Close()

		second, err := ln.Accept()
		if err != nil {
			return
		}
		defer second.Close()
		payload, err := framer.Receive(second, time.Second)
		if err != nil {
			return
		}
		req, err := wire.Decode(payload)
		if err != nil {
			return
		}
		encoded, _ := wire.Encode(wire.NewResponse(req.ID))
		framer.Send(second, encoded, time.Second)
	}()

	c := New(Config{Addr: ln.Addr().String(), Timeout: 2 * time.Second, AutoReconnect: true})
	defer c.Close()

	resp, err := c.Call(wire.NewRequest("identity", nil), 0)
	if err != nil {
		t.Fatalf("Expected reconnect to rescue the call, got %v", err)
	}
	if resp.Type != wire.TypeResponse {
		t.Errorf("Expected response, got %s", resp.Type)
	}
	if stats := c.GetStats(); stats.Reconnects != 1 {
		t.Errorf("Expected 1 reconnect, got %d", stats.Reconnects)
	}
}

func TestClientNoReconnectSurfacesError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	c := New(Config{Addr: ln.Addr().String(), Timeout: 2 * time.Second})
	defer c.Close()

	_, err = c.Call(wire.NewRequest("identity", nil), 0)
	if !errors.Is(err, wire.ErrConnectionClosed) {
		t.Fatalf("Expected ErrConnectionClosed, got %v", err)
	}
	if stats := c.GetStats(); stats.Reconnects != 0 {
		t.Errorf("Expected no reconnects, got %d", stats.Reconnects)
	}
}

func TestClientDialFailure(t *testing.T) {
	c := New(Config{Addr: "127.0.0.1:1", Timeout: time.Second})
	defer c.Close()

	_, err := c.Call(wire.NewRequest("identity", nil), 0)
	if !errors.Is(err, wire.ErrConnectionClosed) {
		t.Fatalf("Expected ErrConnectionClosed for refused dial, got %v", err)
	}
}
