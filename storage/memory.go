// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/capsession/internal/broadcast"
)

// Shared is an in-process durable store shared by several execution contexts,
// each one using its own handle from Open.
type Shared struct {
	mu      sync.RWMutex
	data    map[string]string
	handles map[*Memory]struct{}
}

// NewShared returns an empty Shared store.
func NewShared() *Shared {
	return &Shared{
		data:    map[string]string{},
		handles: map[*Memory]struct{}{},
	}
}

// Open returns a new handle on the shared store for one execution context.
func (s *Shared) Open() *Memory {
	m := &Memory{
		shared: s,
		events: broadcast.New[Event](),
	}
	s.mu.Lock()
	s.handles[m] = struct{}{}
	s.mu.Unlock()
	return m
}

// notify must be called with s.mu held so events follow the write order.
func (s *Shared) notify(from *Memory, e Event) {
	for h := range s.handles {
		if h == from {
			continue
		}
		h.events.Publish(e)
	}
}

// Memory is one execution context's handle on a Shared store.
type Memory struct {
	shared *Shared
	events *broadcast.Broadcaster[Event]

	mu     sync.Mutex
	closed bool
}

var _ Storage = (*Memory)(nil)

// Get implements Storage.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	const op = "Memory.Get"
	if m.isClosed() {
		return "", false, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	m.shared.mu.RLock()
	defer m.shared.mu.RUnlock()
	v, ok := m.shared.data[key]
	return v, ok, nil
}

// Set implements Storage.
func (m *Memory) Set(_ context.Context, key, value string) error {
	const op = "Memory.Set"
	if m.isClosed() {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if key == "" {
		return fmt.Errorf("%s: key is empty", op)
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	m.shared.data[key] = value
	m.shared.notify(m, Event{Key: key})
	return nil
}

// Delete implements Storage.
func (m *Memory) Delete(_ context.Context, key string) error {
	const op = "Memory.Delete"
	if m.isClosed() {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	if _, ok := m.shared.data[key]; !ok {
		return nil
	}
	delete(m.shared.data, key)
	m.shared.notify(m, Event{Key: key})
	return nil
}

// Clear implements Storage.
func (m *Memory) Clear(_ context.Context) error {
	const op = "Memory.Clear"
	if m.isClosed() {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	m.shared.data = map[string]string{}
	m.shared.notify(m, Event{})
	return nil
}

// Watch implements Storage.
func (m *Memory) Watch(ctx context.Context) (<-chan Event, error) {
	const op = "Memory.Watch"
	if m.isClosed() {
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return m.events.Subscribe(ctx), nil
}

// Close detaches the handle from the shared store and closes its watch
// channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.shared.mu.Lock()
	delete(m.shared.handles, m)
	m.shared.mu.Unlock()
	m.events.Close()
	return nil
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
