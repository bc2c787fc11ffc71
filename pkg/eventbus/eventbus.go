// Copyright 2025 The DAGForge Authors
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

// Package eventbus implements EventBus (spec.md §4.13): single-process
// typed pub/sub with a "*" wildcard and once semantics. Generalized
// from the teacher's pkg/observability recorder (a single
// interface-shaped sink feeding one exporter) into an arbitrary handler
// table keyed by event type, and from its RecordX methods that always
// guard a nil/disabled receiver into this bus's closed-state rejection.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/dagforge/dagforge/pkg/graph"
	"github.com/dagforge/dagforge/pkg/logger"
	"github.com/dagforge/dagforge/pkg/observability"
)

// Event is one published message. Type is matched against subscribers;
// Payload is handler-defined.
type Event struct {
	Type    string
	Payload any
}

// Handler receives one Event. A handler that panics or whose caller
// wants to surface an error should recover/log internally — emit
// isolates handler failures from each other but does not retry them.
type Handler func(Event)

// Unsubscribe removes the subscription it was returned from.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is a single-process typed pub/sub dispatcher. The zero value is
// not usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	nextID uint64
	closed bool

	emitted   atomic.Int64
	broadcast chan Event

	// Metrics, if set via WithMetrics, records an events_emitted_total
	// counter per event type and a handlers_registered gauge on every
	// subscribe/unsubscribe. Nil by default (zero overhead).
	Metrics *observability.Metrics
}

// New creates an empty Bus. If broadcastCapacity > 0, every Emit also
// attempts a non-blocking send on a broadcast channel (Broadcast())
// for a cross-context consumer such as a dashboard; a full or absent
// channel never blocks Emit.
func New(broadcastCapacity int) *Bus {
	b := &Bus{subs: make(map[string][]*subscription)}
	if broadcastCapacity > 0 {
		b.broadcast = make(chan Event, broadcastCapacity)
	}
	return b
}

// WithMetrics attaches m to the bus and returns it for chaining, e.g.
// eventbus.New(0).WithMetrics(m).
func (b *Bus) WithMetrics(m *observability.Metrics) *Bus {
	b.Metrics = m
	return b
}

// On subscribes handler to eventType ("*" subscribes to every event)
// and returns a function to remove the subscription. Subscribing to a
// closed bus is a no-op whose Unsubscribe does nothing.
func (b *Bus) On(eventType string, handler Handler) Unsubscribe {
	return b.subscribe(eventType, handler, false)
}

// Once subscribes handler to fire at most one time, then auto-removes
// itself.
func (b *Bus) Once(eventType string, handler Handler) Unsubscribe {
	return b.subscribe(eventType, handler, true)
}

func (b *Bus) subscribe(eventType string, handler Handler, once bool) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	sub := &subscription{id: id, handler: handler, once: once}
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.reportHandlerCountLocked()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(eventType, id)
		b.reportHandlerCountLocked()
	}
}

// reportHandlerCountLocked updates the handlers_registered gauge. Must
// be called with b.mu held.
func (b *Bus) reportHandlerCountLocked() {
	if b.Metrics == nil {
		return
	}
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	b.Metrics.SetHandlerCount(n)
}

func (b *Bus) removeLocked(eventType string, id uint64) {
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches ev synchronously to every subscriber of ev.Type and
// every "*" subscriber. A handler's panic is recovered and logged so
// it never prevents the remaining handlers from running (spec.md
// §4.13: "errors in one handler must not prevent the others"). Emitting
// on a closed bus is a no-op.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := append([]*subscription(nil), b.subs[ev.Type]...)
	wildcard := append([]*subscription(nil), b.subs["*"]...)
	b.mu.RUnlock()

	b.emitted.Add(1)
	b.Metrics.RecordEvent(ev.Type)

	var onceFired []struct {
		eventType string
		id        uint64
	}
	dispatch := func(eventType string, subs []*subscription) {
		for _, s := range subs {
			b.safeInvoke(s, ev)
			if s.once {
				onceFired = append(onceFired, struct {
					eventType string
					id        uint64
				}{eventType, s.id})
			}
		}
	}
	dispatch(ev.Type, typed)
	dispatch("*", wildcard)

	if len(onceFired) > 0 {
		b.mu.Lock()
		for _, f := range onceFired {
			b.removeLocked(f.eventType, f.id)
		}
		b.reportHandlerCountLocked()
		b.mu.Unlock()
	}

	if b.broadcast != nil {
		select {
		case b.broadcast <- ev:
		default:
		}
	}
}

func (b *Bus) safeInvoke(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Warn("eventbus: handler panicked", "event_type", ev.Type, "recovered", r)
		}
	}()
	s.handler(ev)
}

// Broadcast returns the cross-context channel configured via New's
// broadcastCapacity, or nil if none was requested.
func (b *Bus) Broadcast() <-chan Event {
	return b.broadcast
}

// HandlerCount returns the number of live subscriptions across every
// event type.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// EmittedCount returns the total number of Emit calls that were not
// rejected by a closed bus.
func (b *Bus) EmittedCount() int64 {
	return b.emitted.Load()
}

// GraphForwarder adapts a *graph.Store's onEvent callback to this bus,
// so graph.edge_created/graph.edge_updated/graph.node_created notices
// reach whatever dashboards or learners have subscribed through On/Once
// without the graph package needing to know eventbus exists. Pass the
// result as graph.New's onEvent argument.
func (b *Bus) GraphForwarder() func(graph.Event) {
	return func(ev graph.Event) {
		b.Emit(Event{
			Type:    ev.Type,
			Payload: ev,
		})
	}
}

// Close marks the bus closed: subsequent On/Once calls are no-ops and
// Emit does nothing. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[string][]*subscription)
	b.reportHandlerCountLocked()
	if b.broadcast != nil {
		close(b.broadcast)
	}
}
