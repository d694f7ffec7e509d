// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package broadcast fans values out to any number of subscribers. Every
// subscriber receives every published value, in publish order; a slow reader
// never causes values to be dropped or coalesced.
package broadcast

import (
	"context"
	"sync"
)

// Broadcaster delivers published values to its subscribers. The zero value is
// not usable; use New.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

// New returns an open Broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subs: map[*subscriber[T]]struct{}{},
	}
}

// Subscribe returns a channel receiving the optional initial values followed
// by every value published after the call. The channel is closed when ctx is
// done, or once the pending values are drained after Close.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, initial ...T) <-chan T {
	return b.subscribe(ctx, false, initial)
}

// SubscribeOnce returns a channel receiving a single value, then closed: the
// first initial value if there is one, otherwise the next published value.
func (b *Broadcaster[T]) SubscribeOnce(ctx context.Context, initial ...T) <-chan T {
	if len(initial) > 1 {
		initial = initial[:1]
	}
	return b.subscribe(ctx, true, initial)
}

func (b *Broadcaster[T]) subscribe(ctx context.Context, once bool, initial []T) <-chan T {
	s := &subscriber[T]{
		out:   make(chan T),
		queue: append([]T(nil), initial...),
		once:  once,
	}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	switch {
	case b.closed, once && len(initial) > 0:
		s.closed = true
	default:
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		b.remove(s)
		s.mu.Lock()
		s.cancelled = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	go func() {
		defer stop()
		s.run(ctx)
	}()
	return s.out
}

// Publish queues v for every current subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(v)
		if s.once {
			s.close()
			delete(b.subs, s)
		}
	}
}

// Close stops accepting values. Subscribers still receive what was already
// published before their channels close.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
	}
	b.subs = map[*subscriber[T]]struct{}{}
}

func (b *Broadcaster[T]) remove(s *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

type subscriber[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []T
	closed    bool
	cancelled bool
	once      bool
	out       chan T
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, v)
	s.cond.Signal()
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Signal()
}

func (s *subscriber[T]) run(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed && !s.cancelled {
			s.cond.Wait()
		}
		if s.cancelled || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-ctx.Done():
			return
		}
	}
}
