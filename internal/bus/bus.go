// ============================================================================
// Contract Net Bus - Publish/Subscribe Transport
// ============================================================================
//
// Package: internal/bus
// File: bus.go
// Purpose: Defines the pub/sub contract the protocol depends on, plus an
//          in-process implementation used by tests and the demo drivers.
//
// The broker is an external collaborator: protocol code only depends on the
// Bus interface. Delivery is fire-and-forget and at-most-once per message.
// Handlers run on the bus dispatch goroutine, concurrently with the
// subscriber's own foreground logic, so subscribers must guard shared state.
//
// Topic patterns follow the usual segment syntax:
//   - "+" matches exactly one segment ("home/+/average")
//   - a trailing "#" matches any remaining segments ("contractnet/#")
//
// ============================================================================

package bus

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

var log = slog.Default()

// ErrBusClosed is returned by Publish after the bus has been stopped.
var ErrBusClosed = errors.New("bus is closed")

// ErrBusFull is returned when the dispatch buffer cannot accept a message.
var ErrBusFull = errors.New("bus buffer full, message dropped")

// Handler receives the raw payload published on a matching topic. A handler
// may be invoked concurrently with the subscriber's own goroutines.
type Handler func(topic string, payload []byte)

// Publisher is the sending half of the transport contract.
type Publisher interface {
	// Publish sends a payload to every subscription whose pattern matches
	// the topic. Fire-and-forget: no acknowledgment, at-most-once delivery.
	Publish(topic string, payload []byte) error
}

// Subscriber is the receiving half of the transport contract.
type Subscriber interface {
	// Subscribe registers a handler for every topic matching the pattern.
	// Registration is expected to happen once, at component construction.
	Subscribe(pattern string, handler Handler)
}

// Bus is the full transport contract consumed by the protocol components.
type Bus interface {
	Publisher
	Subscriber
	Start()
	Stop()
}

type envelope struct {
	topic   string
	payload []byte
}

type subscription struct {
	pattern string
	handler Handler
}

// MemoryBus is an in-process Bus backed by a buffered dispatch channel and a
// single delivery goroutine. Messages published from one goroutine are
// delivered in publish order; no ordering is imposed across publishers.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    []subscription
	events  chan envelope
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewMemoryBus creates a bus with the given dispatch buffer size.
func NewMemoryBus(bufferSize int) *MemoryBus {
	return &MemoryBus{
		events: make(chan envelope, bufferSize),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for topics matching pattern.
func (b *MemoryBus) Subscribe(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: handler})
}

// Publish enqueues the message for delivery. It fails fast when the bus has
// been stopped, and drops the message with ErrBusFull if the dispatch buffer
// stays saturated; losing messages is within the transport contract.
func (b *MemoryBus) Publish(topic string, payload []byte) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	select {
	case b.events <- envelope{topic: topic, payload: payload}:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-time.After(50 * time.Millisecond):
		return ErrBusFull
	}
}

// Start launches the delivery loop. Calling Start twice is a no-op.
func (b *MemoryBus) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.loop()
}

func (b *MemoryBus) loop() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.events:
			b.dispatch(msg)
		case <-b.done:
			return
		}
	}
}

func (b *MemoryBus) dispatch(msg envelope) {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if TopicMatch(sub.pattern, msg.topic) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		b.safeCall(h, msg)
	}
}

// safeCall invokes a handler and recovers from panics, so one misbehaving
// subscriber cannot prevent the remaining handlers from receiving messages.
func (b *MemoryBus) safeCall(handler Handler, msg envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("bus handler panicked",
				"topic", msg.topic,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(msg.topic, msg.payload)
}

// Stop halts the delivery loop. Messages still buffered are discarded, which
// is acceptable under at-most-once delivery.
func (b *MemoryBus) Stop() {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}

// TopicMatch reports whether a topic matches a subscription pattern.
// "+" matches a single segment, a trailing "#" matches everything after it.
func TopicMatch(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")

	for i, seg := range pp {
		if seg == "#" {
			return i == len(pp)-1
		}
		if i >= len(tp) {
			return false
		}
		if seg != "+" && seg != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}
