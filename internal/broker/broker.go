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

// Package broker wraps a publish/subscribe connection with automatic
// reconnect, bounded publish buffering, and per-delivery handler
// isolation. It is a background-service component: reconnect attempts
// are unbounded with exponentially backed-off, capped intervals.
package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"iris/internal/logger"
	"iris/internal/wire"
)

// State is the broker connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventKind classifies broker events.
type EventKind string

const (
	EventConnected        EventKind = "connected"
	EventDisconnected     EventKind = "disconnected"
	EventBackpressureDrop EventKind = "backpressure_drop"
	EventHandlerFailure   EventKind = "handler_failure"
)

// Event is an out-of-band signal to the broker's owner. Every queue
// eviction produces exactly one BackpressureDrop event.
type Event struct {
	Kind      EventKind
	Topic     string
	MessageID string
	Detail    string
}

// Handler consumes one delivery. Errors and panics are isolated to the
// delivery and never tear down the subscription.
type Handler func(topic string, msg *wire.Message) error

// Config holds broker settings.
type Config struct {
	URL       string
	Namespace string

	// ReconnectMin/Max bound the exponential backoff between attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// BufferSize bounds the publish queue held while disconnected.
	BufferSize int

	// DedupeSize bounds the LRU of recently seen message IDs used to
	// skip broker redeliveries.
	DedupeSize int
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "iris"
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 100 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 1024
	}
}

// session is one live broker connection. It is replaced wholesale on
// reconnect, never patched in place.
type session struct {
	conn conn
}

// Broker is the reconnecting publish/subscribe wrapper.
type Broker struct {
	cfg     Config
	logger  zerolog.Logger
	connect connector

	state   atomic.Int32
	session atomic.Pointer[session]
	queue   *publishQueue
	seen    *lru.Cache[string, struct{}]
	events  chan Event

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	lost        chan struct{}
	flushNeeded chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a broker over NATS. Start begins connecting.
func New(cfg Config) (*Broker, error) {
	return newBroker(cfg, natsConnector)
}

func newBroker(cfg Config, connect connector) (*Broker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("broker URL is required")
	}
	cfg.applyDefaults()

	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		cfg:         cfg,
		logger:      logger.New(),
		connect:     connect,
		queue:       newPublishQueue(cfg.BufferSize),
		seen:        seen,
		events:      make(chan Event, 64),
		handlers:    make(map[string]Handler),
		lost:        make(chan struct{}, 1),
		flushNeeded: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// kickFlush wakes the run loop to flush the publish queue. Non-blocking
// and safe from any goroutine; a stale signal costs one no-op check.
func (b *Broker) kickFlush() {
	select {
	case b.flushNeeded <- struct{}{}:
	default:
	}
}

// Start launches the background connect/reconnect loop.
func (b *Broker) Start() error {
	b.logger.Info().Str("url", b.cfg.URL).Str("namespace", b.cfg.Namespace).Msg("Starting broker")
	b.wg.Add(1)
	go b.run()
	return nil
}

// Stop closes the session and stops the reconnect loop.
func (b *Broker) Stop() error {
	b.logger.Info().Msg("Stopping broker")
	b.cancel()
	b.wg.Wait()
	if sess := b.session.Swap(nil); sess != nil {
		sess.conn.Close()
	}
	b.setState(StateDisconnected)
	return nil
}

// State returns the current connection state.
func (b *Broker) State() State {
	return State(b.state.Load())
}

// Events exposes broker events. The channel is buffered; every event is
// also logged, so a slow consumer loses no signal entirely.
func (b *Broker) Events() <-chan Event {
	return b.events
}

// QueuedCount returns the number of publishes waiting for reconnect.
func (b *Broker) QueuedCount() int {
	return b.queue.len()
}

// Publish sends one message on the namespaced topic. While disconnected
// the message is queued; a full queue drops its oldest entry and emits
// one BackpressureDrop event for it. The direct path is taken only when
// the queue is empty, so a publisher's own buffered messages are never
// overtaken after a reconnect.
func (b *Broker) Publish(topic string, msg *wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	subject := b.subject(topic)

	if b.State() == StateConnected && b.queue.len() == 0 {
		if sess := b.session.Load(); sess != nil {
			err := sess.conn.Publish(subject, data)
			if err == nil {
				return nil
			}
			b.onLost(err)
		}
	}

	dropped, didDrop := b.queue.push(queued{subject: subject, data: data, id: msg.ID})
	if didDrop {
		b.emitDrop(dropped)
	}
	// The push may have raced a completing flush; wake the run loop so
	// the message never sits queued on a healthy connection.
	b.kickFlush()
	return nil
}

// Subscribe registers a handler for the namespaced topic. The
// subscription survives reconnects; it is re-established on every new
// session.
func (b *Broker) Subscribe(topic string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	b.handlersMu.Lock()
	if _, exists := b.handlers[topic]; exists {
		b.handlersMu.Unlock()
		return fmt.Errorf("topic %q already has a handler", topic)
	}
	b.handlers[topic] = handler
	b.handlersMu.Unlock()

	if b.State() == StateConnected {
		if sess := b.session.Load(); sess != nil {
			if err := sess.conn.Subscribe(b.subject(topic), b.deliver(topic, handler)); err != nil {
				b.onLost(err)
			}
		}
	}
	return nil
}

func (b *Broker) subject(topic string) string {
	return b.cfg.Namespace + "." + topic
}

func (b *Broker) setState(s State) {
	b.state.Store(int32(s))
}

// onLost marks the session dead and wakes the reconnect loop. Safe to
// call from any goroutine, any number of times per failure.
func (b *Broker) onLost(err error) {
	if b.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		b.logger.Warn().Err(err).Msg("Broker connection lost")
		b.emit(Event{Kind: EventDisconnected, Detail: fmt.Sprintf("%v", err)})
	}
	select {
	case b.lost <- struct{}{}:
	default:
	}
}

// run is the connect/reconnect loop: unbounded attempts, exponential
// backoff with a capped interval.
func (b *Broker) run() {
	defer b.wg.Done()

	backoff := b.cfg.ReconnectMin
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		b.setState(StateConnecting)
		sess, err := b.openSession()
		if err != nil {
			b.setState(StateDisconnected)
			b.logger.Warn().
				Err(err).
				Dur("retry_in", backoff).
				Msg("Broker connect failed")
			select {
			case <-time.After(backoff):
			case <-b.ctx.Done():
				return
			}
			backoff *= 2
			if backoff > b.cfg.ReconnectMax {
				backoff = b.cfg.ReconnectMax
			}
			continue
		}

		old := b.session.Swap(sess)
		if old != nil {
			old.conn.Close()
		}

		// Drain the buffer before going Connected: publishes arriving
		// during the flush land behind it in the queue instead of
		// taking the direct path and overtaking older messages.
		b.flushQueue(sess)
		b.setState(StateConnected)
		b.emit(Event{Kind: EventConnected})
		b.logger.Info().Msg("Broker connected")
		backoff = b.cfg.ReconnectMin

	idle:
		for {
			if b.queue.len() > 0 {
				b.flushQueue(sess)
			}
			select {
			case <-b.lost:
				if cur := b.session.Swap(nil); cur != nil {
					cur.conn.Close()
				}
				break idle
			case <-b.flushNeeded:
			case <-b.ctx.Done():
				return
			}
		}
	}
}

// openSession dials and re-establishes every registered subscription on
// the fresh connection.
func (b *Broker) openSession() (*session, error) {
	c, err := b.connect(b.cfg.URL, b.onLost)
	if err != nil {
		return nil, err
	}

	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()
	for topic, handler := range b.handlers {
		if err := c.Subscribe(b.subject(topic), b.deliver(topic, handler)); err != nil {
			c.Close()
			return nil, fmt.Errorf("resubscribe %q: %w", topic, err)
		}
	}
	return &session{conn: c}, nil
}

// flushQueue publishes everything buffered while disconnected, in the
// original order. On failure the unsent remainder goes back to the
// front of the queue.
func (b *Broker) flushQueue(sess *session) {
	items := b.queue.drain()
	if len(items) == 0 {
		return
	}
	b.logger.Info().Int("queued", len(items)).Msg("Flushing buffered publishes")

	for i, item := range items {
		if err := sess.conn.Publish(item.subject, item.data); err != nil {
			for _, evicted := range b.queue.requeue(items[i:]) {
				b.emitDrop(evicted)
			}
			b.onLost(err)
			return
		}
	}
	if err := sess.conn.Flush(); err != nil {
		b.onLost(err)
	}
}

// deliver wraps a handler with decode, redelivery dedupe, and failure
// isolation.
func (b *Broker) deliver(topic string, handler Handler) func(subject string, data []byte) {
	return func(subject string, data []byte) {
		msg, err := wire.Decode(data)
		if err != nil {
			b.logger.Warn().Err(err).Str("topic", topic).Msg("Dropping malformed delivery")
			b.emit(Event{Kind: EventHandlerFailure, Topic: topic, Detail: err.Error()})
			return
		}
		if msg.ID != "" {
			if _, dup := b.seen.Get(msg.ID); dup {
				b.logger.Debug().Str("message_id", msg.ID).Msg("Skipping redelivered message")
				return
			}
			b.seen.Add(msg.ID, struct{}{})
		}
		b.invokeHandler(topic, handler, msg)
	}
}

func (b *Broker) invokeHandler(topic string, handler Handler, msg *wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("handler panic: %v", r)
			b.logger.Error().Str("topic", topic).Str("message_id", msg.ID).Msg(detail)
			b.emit(Event{Kind: EventHandlerFailure, Topic: topic, MessageID: msg.ID, Detail: detail})
		}
	}()
	if err := handler(topic, msg); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Str("message_id", msg.ID).Msg("Subscription handler failed")
		b.emit(Event{Kind: EventHandlerFailure, Topic: topic, MessageID: msg.ID, Detail: err.Error()})
	}
}

func (b *Broker) emitDrop(dropped queued) {
	b.logger.Warn().
		Str("subject", dropped.subject).
		Str("message_id", dropped.id).
		Msg("Publish buffer full, dropped oldest queued message")
	b.emit(Event{Kind: EventBackpressureDrop, Topic: dropped.subject, MessageID: dropped.id, Detail: "publish buffer full"})
}

func (b *Broker) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		// The event was already logged; never block a broker goroutine
		// on a slow event consumer.
	}
}
