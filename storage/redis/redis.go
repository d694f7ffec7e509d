// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package redis implements storage.Storage on top of Redis. Values live under
// a key prefix and every write is announced on a pub/sub channel so other
// execution contexts, in other processes or on other hosts, can observe it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/capsession/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "capsession"

const scanCount = 100

const deleteScript = `
if redis.call("DEL", KEYS[1]) == 1 then
  redis.call("PUBLISH", ARGV[1], ARGV[2])
  return 1
end
return 0
`

var deleteLua = redis.NewScript(deleteScript)

// Storage is one execution context's handle on a Redis backed store.
type Storage struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	origin  string
	logger  hclog.Logger
}

var _ storage.Storage = (*Storage)(nil)

// change is the pub/sub payload announcing a write.
type change struct {
	Origin string `json:"origin"`
	Key    string `json:"key,omitempty"`
}

// New returns a handle using client. The client is owned by the caller.
// Supported options:
//
//	WithPrefix
//	WithLogger
func New(client redis.UniversalClient, opt ...Option) (*Storage, error) {
	const op = "redis.New"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil", op)
	}
	opts := getOpts(opt...)
	if opts.withPrefix == "" {
		return nil, fmt.Errorf("%s: prefix is empty", op)
	}
	origin, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate origin id: %w", op, err)
	}
	return &Storage{
		client:  client,
		prefix:  opts.withPrefix + ":",
		channel: opts.withPrefix + ":events",
		origin:  origin,
		logger:  opts.withLogger,
	}, nil
}

func (s *Storage) key(k string) string { return s.prefix + k }

func (s *Storage) announce(ctx context.Context, pipe redis.Pipeliner, key string) error {
	payload, err := json.Marshal(change{Origin: s.origin, Key: key})
	if err != nil {
		return err
	}
	pipe.Publish(ctx, s.channel, payload)
	return nil
}

// Get implements storage.Storage.
func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "redis.(Storage).Get"
	v, err := s.client.Get(ctx, s.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: unable to read %q: %w", op, key, err)
	}
	return v, true, nil
}

// Set implements storage.Storage.
func (s *Storage) Set(ctx context.Context, key, value string) error {
	const op = "redis.(Storage).Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty", op)
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(key), value, 0)
		return s.announce(ctx, pipe, key)
	})
	if err != nil {
		return fmt.Errorf("%s: unable to write %q: %w", op, key, err)
	}
	return nil
}

// Delete implements storage.Storage. The delete and its announcement are a
// single atomic step, and nothing is announced when the key didn't exist.
func (s *Storage) Delete(ctx context.Context, key string) error {
	const op = "redis.(Storage).Delete"
	payload, err := json.Marshal(change{Origin: s.origin, Key: key})
	if err != nil {
		return fmt.Errorf("%s: unable to encode change: %w", op, err)
	}
	if err := deleteLua.Run(ctx, s.client, []string{s.key(key)}, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("%s: unable to delete %q: %w", op, key, err)
	}
	return nil
}

// Clear implements storage.Storage. Only keys under the prefix are removed.
func (s *Storage) Clear(ctx context.Context) error {
	const op = "redis.(Storage).Clear"
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%s: unable to scan keys: %w", op, err)
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return s.announce(ctx, pipe, "")
	})
	if err != nil {
		return fmt.Errorf("%s: unable to clear: %w", op, err)
	}
	return nil
}

// Watch implements storage.Storage. The subscription is confirmed before Watch
// returns, so writes made afterwards by other handles are always observed.
func (s *Storage) Watch(ctx context.Context) (<-chan storage.Event, error) {
	const op = "redis.(Storage).Watch"
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%s: unable to subscribe to %s: %w", op, s.channel, err)
	}

	out := make(chan storage.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					s.logger.Warn("ignoring malformed storage event", "channel", msg.Channel, "error", err)
					continue
				}
				if c.Origin == s.origin {
					continue
				}
				select {
				case out <- storage.Event{Key: c.Key}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
