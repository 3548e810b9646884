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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"iris/internal/logger"
	"iris/internal/processing"
	"iris/internal/wire"
)

// Config holds client settings.
type Config struct {
	Addr string

	// Timeout is the default per-call deadline when Call receives zero.
	Timeout time.Duration

	// AutoReconnect retries a transport-failed call exactly once on a
	// fresh connection before surfacing the error.
	AutoReconnect bool

	MaxFrameSize uint32
	Compress     bool
}

// Stats is a snapshot of client counters.
type Stats struct {
	CallsSent     int       `json:"calls_sent"`
	CallsFailed   int       `json:"calls_failed"`
	CallsTimedOut int       `json:"calls_timed_out"`
	Reconnects    int       `json:"reconnects"`
	LastCall      time.Time `json:"last_call"`
	StartTime     time.Time `json:"start_time"`
}

// Client holds one connection to a processing server and issues one
// in-flight call at a time. Call is serialized with a mutex; there is
// no connection pooling.
type Client struct {
	cfg    Config
	framer wire.Framer
	logger zerolog.Logger

	mutex sync.Mutex
	conn  net.Conn
	stats Stats
}

// New creates a client; the connection opens lazily on the first call.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		framer: wire.Framer{MaxFrameSize: cfg.MaxFrameSize, Compress: cfg.Compress},
		logger: logger.New(),
		stats:  Stats{StartTime: time.Now()},
	}
}

// Call sends one request and blocks for its response up to timeout
// (zero means the configured default). On ErrTimeout or
// ErrConnectionClosed the connection is discarded; with AutoReconnect
// the whole call is retried exactly once on a fresh connection.
func (c *Client) Call(msg *wire.Message, timeout time.Duration) (*wire.Message, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	encoded, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}

	c.stats.CallsSent++
	c.stats.LastCall = time.Now()

	resp, err := c.attempt(encoded, timeout)
	if err != nil && c.cfg.AutoReconnect && isTransportErr(err) {
		c.logger.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Msg("Call failed, retrying once on a fresh connection")
		c.stats.Reconnects++
		c.dropConn()
		resp, err = c.attempt(encoded, timeout)
	}
	if err != nil {
		if isTransportErr(err) {
			c.dropConn()
		}
		c.stats.CallsFailed++
		if errors.Is(err, wire.ErrTimeout) {
			c.stats.CallsTimedOut++
		}
		return nil, err
	}
	return resp, nil
}

// attempt runs one full send/receive cycle, dialing if needed. The
// deadline covers the whole cycle, not each half separately.
func (c *Client) attempt(encoded []byte, timeout time.Duration) (*wire.Message, error) {
	deadline := time.Now().Add(timeout)

	if c.conn == nil {
		conn, err := net.DialTimeout("tcp", c.cfg.Addr, timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", wire.ErrConnectionClosed, c.cfg.Addr, err)
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		c.logger.Debug().Str("addr", c.cfg.Addr).Msg("Connected to processing server")
		c.conn = conn
	}

	if err := c.framer.Send(c.conn, encoded, time.Until(deadline)); err != nil {
		c.dropConn()
		return nil, err
	}
	payload, err := c.framer.Receive(c.conn, time.Until(deadline))
	if err != nil {
		c.dropConn()
		return nil, err
	}
	resp, err := wire.Decode(payload)
	if err != nil {
		// A peer speaking garbage is not worth keeping.
		c.dropConn()
		return nil, err
	}
	return resp, nil
}

// Process is the array-level convenience around Call: build the request
// message, unwrap the response, surface error-kind responses as
// RemoteError values.
func (c *Client) Process(op string, a *processing.Array, params map[string]interface{}) (*processing.Array, error) {
	req := wire.NewRequest(op, params, a.Attachment())
	resp, err := c.Call(req, 0)
	if err != nil {
		return nil, err
	}
	if err := resp.RemoteError(); err != nil {
		return nil, err
	}
	if len(resp.Attachments) != 1 {
		return nil, fmt.Errorf("response carries %d attachment(s), expected 1", len(resp.Attachments))
	}
	return processing.FromAttachment(resp.Attachments[0])
}

// Close discards the connection. The client remains usable; the next
// call redials.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.dropConn()
	return nil
}

// GetStats returns a snapshot of the counters.
func (c *Client) GetStats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func isTransportErr(err error) bool {
	return errors.Is(err, wire.ErrTimeout) || errors.Is(err, wire.ErrConnectionClosed)
}
