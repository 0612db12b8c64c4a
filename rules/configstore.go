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

package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"umbasa.net/metafold/logging"
)

const ConfigFileName = "renaming-rules.json"
const backupPattern = "renaming-rules.backup.%d.json"
const backupGlob = "renaming-rules.backup.*.json"
const maxBackups = 5

var Module = fx.Module("rules",
	fx.Provide(
		NewStore,
		NewRulesEvaluator,
	),
)

type Params struct {
	fx.In

	Viper  *viper.Viper
	Logger *logging.Logger
	Lc     fx.Lifecycle
}

type Result struct {
	fx.Out

	Store *ConfigStore
}

func NewRulesEvaluator(logger *logging.Logger) *Evaluator {
	return NewEvaluator(logger.GetLogger("rules"))
}

// ConfigStore persists the rule config as a JSON file, rotates backups on
// save and watches the file for out-of-band edits.
type ConfigStore struct {
	log *slog.Logger
	dir string

	mu       sync.Mutex
	current  *RuleConfig
	lastSave time.Time

	watcher  *fsnotify.Watcher
	onChange []func(*RuleConfig)
}

func NewStore(p Params) (Result, error) {
	p.Viper.SetDefault("config.dir", ".")

	store := &ConfigStore{
		log: p.Logger.GetLogger("rules"),
		dir: p.Viper.GetString("config.dir"),
	}

	p.Lc.Append(fx.StartHook(store.startWatcher))
	p.Lc.Append(fx.StopHook(store.stopWatcher))

	return Result{Store: store}, nil
}

// NewStoreAt creates a store rooted in dir without fx wiring. For tests.
func NewStoreAt(dir string, log *slog.Logger) *ConfigStore {
	return &ConfigStore{log: log, dir: dir}
}

func (s *ConfigStore) path() string {
	return filepath.Join(s.dir, ConfigFileName)
}

// Current returns the active rule config, loading it on first use and
// seeding the built-in defaults when no config file exists yet.
func (s *ConfigStore) Current() *RuleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = s.load()
	}
	return s.current
}

func (s *ConfigStore) load() *RuleConfig {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		s.log.Info("no rule config found, seeding defaults", "file", s.path())
		cfg := DefaultConfig()
		if err := s.write(cfg); err != nil {
			s.log.Error("error seeding default rule config", "error", err)
		}
		return cfg
	}
	if err != nil {
		s.log.Error("error reading rule config, using defaults", "error", err)
		return DefaultConfig()
	}

	cfg := &RuleConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		s.log.Error("error parsing rule config, using defaults", "error", err)
		return DefaultConfig()
	}
	return cfg
}

// Save persists a new rule config: the previous file is rotated into the
// backup set (the five most recent are kept), isDefault is stripped,
// lastModified is stamped and the file is replaced atomically.
func (s *ConfigStore) Save(cfg *RuleConfig) error {
	s.mu.Lock()

	if err := s.rotateBackups(); err != nil {
		s.mu.Unlock()
		return err
	}

	cfg.IsDefault = false
	cfg.LastModified = time.Now().UnixMilli()
	for i := range cfg.Rules {
		if cfg.Rules[i].ID == "" {
			cfg.Rules[i].ID = uuid.NewString()
		}
	}

	if err := s.write(cfg); err != nil {
		s.mu.Unlock()
		return err
	}

	s.current = cfg
	s.lastSave = time.Now()
	s.mu.Unlock()

	return nil
}

func (s *ConfigStore) write(cfg *RuleConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("while encoding rule config: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ConfigFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("while writing rule config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("while writing rule config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("while writing rule config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("while writing rule config: %w", err)
	}
	return nil
}

func (s *ConfigStore) rotateBackups() error {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("while rotating rule config backups: %w", err)
	}

	backup := filepath.Join(s.dir, fmt.Sprintf(backupPattern, time.Now().UnixMilli()))
	if err := os.WriteFile(backup, data, 0644); err != nil {
		return fmt.Errorf("while rotating rule config backups: %w", err)
	}

	backups, err := filepath.Glob(filepath.Join(s.dir, backupGlob))
	if err != nil {
		return fmt.Errorf("while rotating rule config backups: %w", err)
	}
	sort.Strings(backups)
	for len(backups) > maxBackups {
		if err := os.Remove(backups[0]); err != nil {
			s.log.Warn("error removing old rule config backup", "file", backups[0], "error", err)
		}
		backups = backups[1:]
	}
	return nil
}

// OnChange registers fn to run when the config file changes on disk
// outside of Save. Callers of Save trigger their own refresh, so only
// external edits fire here.
func (s *ConfigStore) OnChange(fn func(*RuleConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *ConfigStore) fireOnChange(cfg *RuleConfig) {
	s.mu.Lock()
	handlers := clone(s.onChange)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(cfg)
	}
}

func (s *ConfigStore) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("while watching rule config: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("while watching rule config: %w", err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != ConfigFileName {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				s.handleExternalChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("rule config watcher error", "error", err)
			}
		}
	}()

	return nil
}

func (s *ConfigStore) stopWatcher() {
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

func (s *ConfigStore) handleExternalChange() {
	s.mu.Lock()
	if time.Since(s.lastSave) < time.Second {
		// our own save, already handled
		s.mu.Unlock()
		return
	}

	data, err := os.ReadFile(s.path())
	if err != nil {
		s.mu.Unlock()
		return
	}
	cfg := &RuleConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		s.log.Warn("ignoring malformed external rule config edit", "error", err)
		s.mu.Unlock()
		return
	}

	s.current = cfg
	s.mu.Unlock()

	s.log.Info("rule config changed on disk, reloading")
	s.fireOnChange(cfg)
}

func clone[T any](s []T) []T {
	return append([]T{}, s...)
}
