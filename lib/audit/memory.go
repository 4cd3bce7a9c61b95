// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/covault/covault/lib/clock"
)

// Memory is an in-memory Appender with the same ID and chain-hash
// semantics as Log but no persistence. Component tests use it to
// assert the exactly-one-event-per-state-change discipline without a
// database.
type Memory struct {
	mu       sync.Mutex
	clock    clock.Clock
	events   []Event
	lastHash []byte
}

// NewMemory creates an in-memory appender. A nil clk defaults to
// clock.Real().
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real()
	}
	return &Memory{
		clock:    clk,
		lastHash: genesisHash,
	}
}

// Append implements Appender.
func (m *Memory) Append(_ context.Context, event Event) (Event, error) {
	if !event.Type.Valid() {
		return Event{}, fmt.Errorf("audit: unknown event type %q", event.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = m.clock.Now()
	}
	event.ID = int64(len(m.events)) + 1

	hash, err := chainHash(m.lastHash, event)
	if err != nil {
		return Event{}, err
	}
	event.ChainHash = hash

	m.events = append(m.events, event)
	m.lastHash = hash
	return event, nil
}

// Events returns a copy of all appended events in order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// EventsOfType returns appended events of the given type, in order.
func (m *Memory) EventsOfType(eventType EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matching []Event
	for _, event := range m.events {
		if event.Type == eventType {
			matching = append(matching, event)
		}
	}
	return matching
}
