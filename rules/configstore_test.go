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

package rules_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"umbasa.net/metafold/rules"
)

func newStore(t *testing.T) (*rules.ConfigStore, string) {
	dir := t.TempDir()
	return rules.NewStoreAt(dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func TestConfigStoreSeeding(t *testing.T) {
	store, dir := newStore(t)

	cfg := store.Current()
	assert.True(t, cfg.IsDefault)
	assert.NotEmpty(t, cfg.Rules)
	assert.NotNil(t, cfg.DefaultRule)

	// the seeded defaults are persisted
	data, err := os.ReadFile(filepath.Join(dir, rules.ConfigFileName))
	assert.NoError(t, err)
	seeded := rules.RuleConfig{}
	assert.NoError(t, json.Unmarshal(data, &seeded))
	assert.True(t, seeded.IsDefault)
	assert.Equal(t, len(cfg.Rules), len(seeded.Rules))
}

func TestConfigStoreParseErrorFallsBack(t *testing.T) {
	store, dir := newStore(t)

	os.WriteFile(filepath.Join(dir, rules.ConfigFileName), []byte("{not json"), 0644)

	cfg := store.Current()
	assert.True(t, cfg.IsDefault)
	assert.NotEmpty(t, cfg.Rules)
}

func TestConfigStoreSave(t *testing.T) {
	store, dir := newStore(t)
	store.Current() // seed

	cfg := &rules.RuleConfig{
		Version:   1,
		IsDefault: true, // must be stripped on save
		Rules: []rules.Rule{
			{Name: "custom", Enabled: true, Priority: 1, Template: "Custom/{fileName}"},
		},
	}

	before := time.Now().UnixMilli()
	assert.NoError(t, store.Save(cfg))

	saved := store.Current()
	assert.False(t, saved.IsDefault)
	assert.GreaterOrEqual(t, saved.LastModified, before)
	assert.NotEmpty(t, saved.Rules[0].ID, "rules without id get one assigned")

	// reload from disk agrees
	fresh := rules.NewStoreAt(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, saved.LastModified, fresh.Current().LastModified)
	assert.Equal(t, "custom", fresh.Current().Rules[0].Name)
}

func TestConfigStoreBackupRotation(t *testing.T) {
	store, dir := newStore(t)
	store.Current() // seed

	for i := 0; i < 8; i++ {
		cfg := &rules.RuleConfig{
			Version: 1,
			Rules: []rules.Rule{
				{ID: "r", Name: "r", Enabled: true, Priority: i, Template: "X/{fileName}"},
			},
		}
		assert.NoError(t, store.Save(cfg))
		time.Sleep(2 * time.Millisecond) // distinct backup timestamps
	}

	backups, err := filepath.Glob(filepath.Join(dir, "renaming-rules.backup.*.json"))
	assert.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 5)
	assert.NotEmpty(t, backups)
}
