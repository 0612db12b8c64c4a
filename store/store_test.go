// Copyright © 2025 Benjamin Schmitz

// This file is part of Metafold.

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

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"umbasa.net/metafold/store"
)

func newClient(t *testing.T, prefix string) (*store.Client, *redis.Client) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.NewClientFromRedis(rdb, prefix), rdb
}

func TestParseFileKey(t *testing.T) {
	client, _ := newClient(t, "")

	t.Run("simple property", func(t *testing.T) {
		id, prop, ok := client.ParseFileKey("file:abc123/title")
		assert.True(t, ok)
		assert.Equal(t, "abc123", id)
		assert.Equal(t, "title", prop)
	})

	t.Run("nested property keeps slashes", func(t *testing.T) {
		id, prop, ok := client.ParseFileKey("file:abc123/titles/eng")
		assert.True(t, ok)
		assert.Equal(t, "abc123", id)
		assert.Equal(t, "titles/eng", prop)
	})

	t.Run("other keys rejected", func(t *testing.T) {
		_, _, ok := client.ParseFileKey("meta:events")
		assert.False(t, ok)
		_, _, ok = client.ParseFileKey("file:__index__")
		assert.False(t, ok)
		_, _, ok = client.ParseFileKey("file:noproperty")
		assert.False(t, ok)
		_, _, ok = client.ParseFileKey("file:/title")
		assert.False(t, ok)
	})
}

func TestParseFileKeyWithPrefix(t *testing.T) {
	client, _ := newClient(t, "deploy1:")

	id, prop, ok := client.ParseFileKey("deploy1:file:abc/title")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "title", prop)

	_, _, ok = client.ParseFileKey("file:abc/title")
	assert.False(t, ok, "unprefixed keys belong to another deployment")

	assert.Equal(t, "deploy1:file:abc/title", client.FileKey("abc", "title"))
	assert.Equal(t, "deploy1:meta:events", client.EventStream())
}

func TestGet(t *testing.T) {
	client, rdb := newClient(t, "")
	ctx := context.Background()

	rdb.Set(ctx, "file:abc/title", "Inception", 0)

	value, found, err := client.Get(ctx, "file:abc/title")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Inception", value)

	_, found, err = client.Get(ctx, "file:abc/missing")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestSMembers(t *testing.T) {
	client, rdb := newClient(t, "")
	ctx := context.Background()

	rdb.SAdd(ctx, "file:__index__", "abc", "def")

	members, err := client.SMembers(ctx, "file:__index__")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"abc", "def"}, members)
}

func TestScanByPrefix(t *testing.T) {
	client, rdb := newClient(t, "")
	ctx := context.Background()

	rdb.Set(ctx, "file:abc/title", "x", 0)
	rdb.Set(ctx, "file:abc/year", "y", 0)
	rdb.Set(ctx, "other:abc", "z", 0)

	keys := make([]string, 0)
	err := client.ScanByPrefix(ctx, "file:abc/", func(key string) error {
		keys = append(keys, key)
		return nil
	})
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"file:abc/title", "file:abc/year"}, keys)
}

func TestReadStream(t *testing.T) {
	client, rdb := newClient(t, "")
	ctx := context.Background()

	for i, key := range []string{"file:a/filePath", "file:a/title", "file:b/filePath"} {
		rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: "meta:events",
			ID:     fmt.Sprintf("1-%d", i+1),
			Values: map[string]any{"type": "set", "key": key, "ts": 1000 + i},
		})
	}

	t.Run("from the beginning in batches", func(t *testing.T) {
		entries, lastID, err := client.ReadStream(ctx, "", 2)
		assert.NoError(t, err)
		assert.Len(t, entries, 2)
		assert.Equal(t, "1-2", lastID)
		assert.Equal(t, "set", entries[0].Fields["type"])
		assert.Equal(t, "file:a/filePath", entries[0].Fields["key"])

		entries, lastID, err = client.ReadStream(ctx, lastID, 2)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, "1-3", lastID)
		assert.Equal(t, "file:b/filePath", entries[0].Fields["key"])

		entries, lastID, err = client.ReadStream(ctx, lastID, 2)
		assert.NoError(t, err)
		assert.Empty(t, entries)
		assert.Equal(t, "1-3", lastID, "resume position unchanged on empty read")
	})

	t.Run("blocking read returns pending entries", func(t *testing.T) {
		entries, lastID, err := client.ReadStreamBlocking(ctx, "1-2", 10, 100*time.Millisecond)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, "1-3", lastID)
	})
}
