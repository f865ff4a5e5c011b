// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"sync"
	"time"
)

// Event types emitted by a sandbox. Payload field names are part of the
// wire contract consumed by downstream agent frameworks.
const (
	EventStart  = "start"
	EventEnd    = "end"
	EventError  = "error"
	EventStdout = "stdout"
	EventStderr = "stderr"
)

// Event is a single sandbox lifecycle or output record.
type Event struct {
	Type      string `json:"type"`
	Command   string `json:"command,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data,omitempty"`
}

const subscriberBuffer = 256

// emitter is a single-producer fan-out of events to any number of
// subscribers. Slow subscribers drop events rather than stall the
// producer; command execution never blocks on an observer.
type emitter struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

func (e *emitter) subscribe() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, ch)
	return ch
}

func (e *emitter) emit(eventType, command, data string) {
	ev := Event{
		Type:      eventType,
		Command:   command,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}
