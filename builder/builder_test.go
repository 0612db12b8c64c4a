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

package builder

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"umbasa.net/metafold/rules"
	"umbasa.net/metafold/store"
	"umbasa.net/metafold/tracing"
	"umbasa.net/metafold/vfs"
)

type fixture struct {
	rdb        *redis.Client
	builder    *Builder
	projection *vfs.Projection
	rules      *rules.ConfigStore
}

func newFixture(t *testing.T) *fixture {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := store.NewClientFromRedis(rdb, "")
	evaluator := rules.NewEvaluator(log)
	rulesStore := rules.NewStoreAt(t.TempDir(), log)
	projection := vfs.NewProjection(log, evaluator, rulesStore, "/files", "")
	tracer := tracing.NewNoopTracing().TracerProvider.Tracer("test")

	b := NewBuilder(log, tracer, client, rulesStore, projection)
	b.relevant = rules.RelevantProperties(rulesStore.Current())

	return &fixture{rdb: rdb, builder: b, projection: projection, rules: rulesStore}
}

func (f *fixture) emitSet(t *testing.T, key, value string) {
	ctx := context.Background()
	if err := f.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "meta:events",
		Values: map[string]any{"type": "set", "key": key, "ts": 1},
	}).Err(); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) emitDel(t *testing.T, key string) {
	ctx := context.Background()
	f.rdb.Del(ctx, key)
	if err := f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "meta:events",
		Values: map[string]any{"type": "del", "key": key, "ts": 1},
	}).Err(); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) drain(t *testing.T) {
	if !f.builder.bootstrap(context.Background()) {
		t.Fatal("bootstrap aborted")
	}
}

func emitMovie(t *testing.T, f *fixture) {
	f.emitSet(t, "file:abc/filePath", "Movies/Inception.mkv")
	f.emitSet(t, "file:abc/title", "Inception")
	f.emitSet(t, "file:abc/year", "2010")
	f.emitSet(t, "file:abc/fileType", "video")
	f.emitSet(t, "file:abc/extension", "mkv")
	f.emitSet(t, "file:abc/movieYear", "2010")
}

func TestBootstrapToComplete(t *testing.T) {
	f := newFixture(t)
	emitMovie(t, f)
	f.drain(t)

	entries, err := f.projection.Readdir("/")
	assert.NoError(t, err)
	assert.Contains(t, entries, "Movies")

	entries, err = f.projection.Readdir("/Movies")
	assert.NoError(t, err)
	assert.Contains(t, entries, "Inception (2010)")

	moviePath := "/Movies/Inception (2010)/Inception (2010).mkv"
	attr, err := f.projection.Getattr(moviePath)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), attr.Size, "size 0 when never emitted")
	assert.NotZero(t, attr.Mode&0o100000)

	read, err := f.projection.Read(moviePath)
	assert.NoError(t, err)
	assert.Equal(t, "/files/Movies/Inception.mkv", read.SourcePath)

	assert.Equal(t, int64(1), f.builder.Stats().FilesCompleted)
	assert.NotEmpty(t, f.builder.Stats().LastEventID)
}

func TestMoveOnPropertyUpdate(t *testing.T) {
	f := newFixture(t)
	emitMovie(t, f)
	f.drain(t)

	f.emitSet(t, "file:abc/movieYear", "2011")
	f.drain(t)

	entries, err := f.projection.Readdir("/Movies")
	assert.NoError(t, err)
	assert.NotContains(t, entries, "Inception (2010)")
	assert.Contains(t, entries, "Inception (2011)")

	snapshot, err := f.projection.Metadata("/Movies/Inception (2011)/Inception (2011).mkv")
	assert.NoError(t, err)
	assert.Equal(t, "2011", snapshot["movieYear"])
}

func TestDeleteOnFilePathRemoval(t *testing.T) {
	f := newFixture(t)
	emitMovie(t, f)
	f.drain(t)

	f.emitDel(t, "file:abc/filePath")
	f.drain(t)

	_, ok := f.projection.VirtualPath("abc")
	assert.False(t, ok)
	assert.False(t, f.projection.Exists("/Movies/Inception (2010)"))
	assert.False(t, f.projection.Exists("/Movies"), "empty ancestors pruned")
	assert.Equal(t, int64(1), f.builder.Stats().FilesDeleted)

	_, tracked := f.builder.FileState("abc")
	assert.False(t, tracked)
}

func TestTvShowWithSeasonAndEpisode(t *testing.T) {
	f := newFixture(t)
	f.emitSet(t, "file:xyz/filePath", "tv/bb/s01e01.mkv")
	f.emitSet(t, "file:xyz/titles/eng", "Breaking Bad")
	f.emitSet(t, "file:xyz/season", "1")
	f.emitSet(t, "file:xyz/episode", "1")
	f.emitSet(t, "file:xyz/fileType", "video")
	f.emitSet(t, "file:xyz/extension", "mkv")
	f.drain(t)

	path, ok := f.projection.VirtualPath("xyz")
	assert.True(t, ok)
	assert.Equal(t, "/TV Shows/Breaking Bad/S01/Breaking Bad S01E01.mkv", path)
	assert.True(t, f.projection.Exists(path))
}

func TestIrrelevantPropertiesSkipped(t *testing.T) {
	f := newFixture(t)

	cfg := &rules.RuleConfig{
		Version: 1,
		Rules: []rules.Rule{
			{ID: "r", Name: "r", Enabled: true, Priority: 1,
				Conditions: &rules.Condition{Type: rules.ConditionExists, Field: "title"},
				Template:   "ByTitle/{title}"},
		},
	}
	if err := f.rules.Save(cfg); err != nil {
		t.Fatal(err)
	}
	f.builder.relevant = rules.RelevantProperties(f.rules.Current())

	f.emitSet(t, "file:q/unrelated", "whatever")
	f.drain(t)

	assert.Equal(t, int64(1), f.builder.Stats().PropertiesSkipped)
	assert.Equal(t, int64(0), f.builder.Stats().PropertiesFetched, "no GET for irrelevant properties")
	assert.Empty(t, f.projection.AllFiles())
}

func TestDataSkewIgnored(t *testing.T) {
	f := newFixture(t)

	// event emitted but the key deleted before the fetch
	ctx := context.Background()
	f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "meta:events",
		Values: map[string]any{"type": "set", "key": "file:gone/filePath", "ts": 1},
	})
	f.drain(t)

	assert.Equal(t, int64(1), f.builder.Stats().DataSkew)
	assert.Empty(t, f.projection.AllFiles())
}

func TestBootstrapEqualsFreshBootstrap(t *testing.T) {
	f := newFixture(t)
	emitMovie(t, f)
	f.emitSet(t, "file:xyz/filePath", "tv/bb/s01e01.mkv")
	f.emitSet(t, "file:xyz/titles/eng", "Breaking Bad")
	f.emitSet(t, "file:xyz/season", "1")
	f.emitSet(t, "file:xyz/episode", "1")
	f.emitSet(t, "file:xyz/fileType", "video")
	f.emitSet(t, "file:xyz/extension", "mkv")
	f.drain(t)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := store.NewClientFromRedis(f.rdb, "")
	evaluator := rules.NewEvaluator(log)
	projection := vfs.NewProjection(log, evaluator, f.rules, "/files", "")
	fresh := NewBuilder(log, tracing.NewNoopTracing().TracerProvider.Tracer("test"), client, f.rules, projection)
	fresh.relevant = rules.RelevantProperties(f.rules.Current())
	assert.True(t, fresh.bootstrap(context.Background()))

	assert.ElementsMatch(t, f.projection.AllFiles(), projection.AllFiles())
	assert.Equal(t, f.builder.lastID, fresh.lastID)
}

func TestRefreshAfterRuleChange(t *testing.T) {
	f := newFixture(t)
	emitMovie(t, f)
	f.drain(t)

	oldPath, _ := f.projection.VirtualPath("abc")
	assert.Equal(t, "/Movies/Inception (2010)/Inception (2010).mkv", oldPath)

	cfg := &rules.RuleConfig{
		Version: 1,
		Rules: []rules.Rule{
			{ID: "flat", Name: "flat", Enabled: true, Priority: 1,
				Conditions: &rules.Condition{Type: rules.ConditionEquals, Field: "fileType", Value: "video"},
				Template:   "Films/{title}.{extension}"},
		},
		DefaultRule: &rules.Rule{ID: "default", Template: "Unsorted/{fileName}"},
	}
	if err := f.rules.Save(cfg); err != nil {
		t.Fatal(err)
	}

	f.builder.doRefresh(context.Background())

	assert.False(t, f.projection.Exists(oldPath))
	newPath, ok := f.projection.VirtualPath("abc")
	assert.True(t, ok)
	assert.Equal(t, "/Films/Inception.mkv", newPath)
	assert.True(t, f.projection.Exists(newPath))
}

func TestRefreshPrunesVanishedFiles(t *testing.T) {
	f := newFixture(t)
	emitMovie(t, f)
	f.drain(t)

	// the file's whole history disappears from the store (trimmed
	// stream rewritten by the upstream writer)
	ctx := context.Background()
	f.rdb.Del(ctx, "meta:events")
	f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "meta:events",
		Values: map[string]any{"type": "set", "key": "file:other/filePath", "ts": 1},
	})
	f.rdb.Set(ctx, "file:other/filePath", "docs/readme.txt", 0)

	f.builder.doRefresh(ctx)

	_, ok := f.projection.VirtualPath("abc")
	assert.False(t, ok, "files absent from the replay are pruned")
	_, ok = f.projection.VirtualPath("other")
	assert.True(t, ok)
}
