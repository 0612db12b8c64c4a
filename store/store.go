// Copyright © 2025 Benjamin Schmitz

// This file is part of Metafold <https://github.com/Vortex375/metafold>.

// Metafold is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License
// as published by the Free Software Foundation,
// either version 3 of the License, or (at your option)
// any later version.

// Metafold is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with Metafold.  If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(
		NewHolder,
		NewClient,
	),
)

// ErrTransport wraps any store communication failure. Callers pause and
// retry, they never treat it as data.
var ErrTransport = errors.New("store transport error")

type Params struct {
	fx.In

	Viper  *viper.Viper
	Holder *Holder `optional:"true"`
	Lc     fx.Lifecycle
}

type Result struct {
	fx.Out

	Client *Client
}

// Client is a thin read-only adapter over the upstream metadata store.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Entry is a single record of the ordered event stream.
type Entry struct {
	ID     string
	Fields map[string]string
}

func NewClient(p Params) (Result, error) {
	p.Viper.SetDefault("store.url", "redis://localhost:6379")
	p.Viper.SetDefault("store.prefix", "")
	p.Viper.SetDefault("store.maxRetryBackoff", 30*time.Second)

	opts, err := redis.ParseURL(p.Viper.GetString("store.url"))
	if err != nil {
		return Result{}, fmt.Errorf("while parsing store.url: %w", err)
	}

	// reconnects are handled by the driver: retry forever with
	// exponential backoff up to the configured ceiling
	opts.MaxRetries = -1
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = p.Viper.GetDuration("store.maxRetryBackoff")

	rdb := redis.NewClient(opts)

	if p.Holder != nil {
		p.Holder.Set(rdb)
	}

	p.Lc.Append(fx.StopHook(func() error {
		if p.Holder != nil {
			p.Holder.Set(nil)
		}
		return rdb.Close()
	}))

	return Result{
		Client: &Client{
			rdb:    rdb,
			prefix: p.Viper.GetString("store.prefix"),
		},
	}, nil
}

// NewClientFromRedis wraps an existing connection. For tests.
func NewClientFromRedis(rdb *redis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: prefix}
}

// Get returns the value of key. ok is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	value, err = c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: GET %s: %w", ErrTransport, key, err)
	}
	return value, true, nil
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: SMEMBERS %s: %w", ErrTransport, key, err)
	}
	return members, nil
}

// ScanByPrefix iterates all keys starting with prefix and invokes fn for each.
func (c *Client) ScanByPrefix(ctx context.Context, prefix string, fn func(key string) error) error {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: SCAN %s*: %w", ErrTransport, prefix, err)
	}
	return nil
}

// ReadStream reads up to count entries of the event stream after fromID.
// fromID "" or "0" reads from the beginning. The last entry's id is
// returned so the caller can resume.
func (c *Client) ReadStream(ctx context.Context, fromID string, count int64) (entries []Entry, lastID string, err error) {
	start := "-"
	if fromID != "" && fromID != "0" {
		// exclusive range: resume strictly after fromID
		start = "(" + fromID
	}

	msgs, err := c.rdb.XRangeN(ctx, c.EventStream(), start, "+", count).Result()
	if err != nil {
		return nil, fromID, fmt.Errorf("%w: XRANGE %s: %w", ErrTransport, c.EventStream(), err)
	}

	return c.toEntries(msgs, fromID)
}

// ReadStreamBlocking reads entries after fromID, blocking up to block when
// the stream has no new entries. A block timeout is not an error: it
// returns zero entries and the unchanged fromID.
func (c *Client) ReadStreamBlocking(ctx context.Context, fromID string, count int64, block time.Duration) (entries []Entry, lastID string, err error) {
	if fromID == "" {
		fromID = "0"
	}

	streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.EventStream(), fromID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fromID, nil
	}
	if err != nil {
		return nil, fromID, fmt.Errorf("%w: XREAD %s: %w", ErrTransport, c.EventStream(), err)
	}

	for _, stream := range streams {
		if stream.Stream == c.EventStream() {
			return c.toEntries(stream.Messages, fromID)
		}
	}
	return nil, fromID, nil
}

// Subscribe delivers every message published on channel to fn until ctx is
// cancelled. Only used when the event-log integration is not available.
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	pubsub := c.rdb.Subscribe(ctx, c.prefix+channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Ping reports whether the store is currently reachable.
func (c *Client) Ping(ctx context.Context) bool {
	return c.rdb.Ping(ctx).Err() == nil
}

func (c *Client) toEntries(msgs []redis.XMessage, fromID string) ([]Entry, string, error) {
	entries := make([]Entry, 0, len(msgs))
	lastID := fromID
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			} else {
				fields[k] = fmt.Sprint(v)
			}
		}
		entries = append(entries, Entry{ID: msg.ID, Fields: fields})
		lastID = msg.ID
	}
	return entries, lastID, nil
}
