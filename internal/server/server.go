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

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iris/internal/logger"
	"iris/internal/wire"
)

// Handler is the injected processing capability. It must return a
// definite response message for every request it accepts; returning an
// error instead produces an in-band error response.
type Handler interface {
	Handle(ctx context.Context, req *wire.Message) (*wire.Message, error)
}

// RequestRecorder receives one record per handled request. Optional.
type RequestRecorder interface {
	RecordRequest(op string, ok bool, duration time.Duration, requestBytes, responseBytes int)
}

// Config holds server settings.
type Config struct {
	Addr string

	// MaxFrameSize bounds one frame; zero means wire.DefaultMaxFrameSize.
	MaxFrameSize uint32

	// RequestTimeout bounds dispatch plus response write per request.
	// Exceeding it force-closes that connection only. Zero disables it.
	RequestTimeout time.Duration

	// Compress enables zlib framing; must match the clients.
	Compress bool
}

// Stats is a snapshot of server counters.
type Stats struct {
	Connections int       `json:"connections"`
	Active      int       `json:"active_connections"`
	Requests    int       `json:"requests"`
	Errors      int       `json:"errors"`
	StartTime   time.Time `json:"start_time"`
	LastRequest time.Time `json:"last_request"`
}

// Server accepts connections and serves framed processing requests.
// Every accepted connection runs its own goroutine, so a slow or
// faulty client delays nobody else.
type Server struct {
	cfg      Config
	handler  Handler
	recorder RequestRecorder
	framer   wire.Framer
	logger   zerolog.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mutex sync.RWMutex
	stats Stats
	conns map[net.Conn]struct{}
}

// New creates a server. The handler is required.
func New(cfg Config, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		framer:  wire.Framer{MaxFrameSize: cfg.MaxFrameSize, Compress: cfg.Compress},
		logger:  logger.New(),
		ctx:     ctx,
		cancel:  cancel,
		stats:   Stats{StartTime: time.Now()},
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// SetRecorder attaches an optional per-request recorder. Must be called
// before Start.
func (s *Server) SetRecorder(r RequestRecorder) {
	s.recorder = r
}

// Start binds the listen address and begins accepting connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Msg("Processing server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address; useful with ":0".
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every live connection, then waits for
// the per-connection loops to drain.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping processing server")
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mutex.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()
	s.wg.Wait()
	s.logger.Info().Msg("Processing server stopped")
	return nil
}

// GetStats returns a snapshot of the counters.
func (s *Server) GetStats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	stats := s.stats
	stats.Active = len(s.conns)
	return stats
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Error().Err(err).Msg("Accept failed")
			continue
		}

		// Latency over throughput for small request/response turns.
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}

		s.mutex.Lock()
		s.stats.Connections++
		s.conns[conn] = struct{}{}
		s.mutex.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn runs one connection's request/response loop: strict FIFO,
// multiple requests per connection, closed on the first transport
// fault.
func (s *Server) serveConn(conn net.Conn) {
	connID := uuid.NewString()[:8]
	log := s.logger.With().Str("conn", connID).Str("remote", conn.RemoteAddr().String()).Logger()
	log.Info().Msg("Accepted connection")

	defer func() {
		conn.Close()
		s.mutex.Lock()
		delete(s.conns, conn)
		s.mutex.Unlock()
		s.wg.Done()
		log.Info().Msg("Connection closed")
	}()

	for {
		payload, err := s.framer.Receive(conn, 0)
		if err != nil {
			switch {
			case errors.Is(err, wire.ErrConnectionClosed):
				log.Debug().Msg("Peer closed connection")
			case errors.Is(err, wire.ErrFrameTooLarge):
				log.Warn().Err(err).Msg("Rejected oversize frame")
			default:
				log.Warn().Err(err).Msg("Receive failed")
			}
			return
		}

		req, err := wire.Decode(payload)
		if err != nil {
			// Structural violations are transport-level: no definite
			// request was received, so there is nothing to answer.
			log.Warn().Err(err).Msg("Malformed request, closing connection")
			return
		}

		s.mutex.Lock()
		s.stats.Requests++
		s.stats.LastRequest = time.Now()
		requestNum := s.stats.Requests
		s.mutex.Unlock()

		start := time.Now()
		var deadline time.Time
		if s.cfg.RequestTimeout > 0 {
			deadline = start.Add(s.cfg.RequestTimeout)
		}
		resp, ok := s.dispatch(req, deadline, log)
		if !ok {
			// Request deadline exceeded; only this connection pays.
			return
		}

		encoded, err := wire.Encode(resp)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
			return
		}
		// The response write spends whatever the dispatch left of the
		// request budget, never a fresh one.
		sendTimeout := time.Duration(0)
		if !deadline.IsZero() {
			sendTimeout = time.Until(deadline)
			if sendTimeout <= 0 {
				log.Warn().Str("op", req.Op).Msg("Request deadline exhausted before response write, closing connection")
				return
			}
		}
		if err := s.framer.Send(conn, encoded, sendTimeout); err != nil {
			// The client may have abandoned the call; log and close,
			// never escalate.
			log.Warn().Err(err).Msg("Failed to send response")
			return
		}

		duration := time.Since(start)
		if resp.IsError() {
			s.mutex.Lock()
			s.stats.Errors++
			s.mutex.Unlock()
		}
		if s.recorder != nil {
			s.recorder.RecordRequest(req.Op, !resp.IsError(), duration, len(payload), len(encoded))
		}
		log.Info().
			Int("request", requestNum).
			Str("op", req.Op).
			Bool("ok", !resp.IsError()).
			Dur("duration", duration).
			Msg("Finished request")
	}
}

// dispatch invokes the handler with panic recovery, bounded by the
// request deadline (zero time disables it). The second return is false
// when the deadline fired and the connection must close.
func (s *Server) dispatch(req *wire.Message, deadline time.Time, log zerolog.Logger) (*wire.Message, bool) {
	if deadline.IsZero() {
		return s.invoke(req, log), true
	}

	done := make(chan *wire.Message, 1)
	go func() {
		done <- s.invoke(req, log)
	}()

	select {
	case resp := <-done:
		return resp, true
	case <-time.After(time.Until(deadline)):
		log.Warn().
			Str("op", req.Op).
			Dur("timeout", s.cfg.RequestTimeout).
			Msg("Request deadline exceeded, closing connection")
		return nil, false
	case <-s.ctx.Done():
		return nil, false
	}
}

// invoke converts every handler failure, panics included, into an
// in-band error response so the client always gets a definite answer.
func (s *Server) invoke(req *wire.Message, log zerolog.Logger) (resp *wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("op", req.Op).Msg("Processing function panicked")
			resp = wire.NewErrorResponse(req.ID, wire.ErrorKindPanic, fmt.Sprintf("%v", r))
		}
	}()

	resp, err := s.handler.Handle(s.ctx, req)
	if err != nil {
		log.Error().Err(err).Str("op", req.Op).Msg("Processing function failed")
		return wire.NewErrorResponse(req.ID, wire.ErrorKindProcessing, err.Error())
	}
	return resp
}
