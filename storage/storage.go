// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package storage defines the durable key/value storage shared by every
// execution context of an application, along with the change notifications a
// context receives when another one writes to it.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed storage handle.
var ErrClosed = errors.New("storage is closed")

// Event is delivered to watchers when another execution context changes the
// storage.
type Event struct {
	// Key is the changed key. It is empty when the whole storage was cleared.
	Key string
}

// Cleared reports whether the event is a bulk clear.
func (e Event) Cleared() bool { return e.Key == "" }

// Storage is a handle on shared durable storage, owned by one execution
// context. Writes made through a handle are announced to the watchers of every
// other handle, never to the writer itself. Implementations must be
// concurrently safe.
type Storage interface {
	// Get returns the value stored for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value for key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Watch returns the change notifications caused by other handles. The
	// channel is closed when ctx is done or the handle is closed.
	Watch(ctx context.Context) (<-chan Event, error)
}
