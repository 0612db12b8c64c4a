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
	"log/slog"
	"sync"
	"time"

	"github.com/boz/go-throttle"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"umbasa.net/metafold/logging"
	"umbasa.net/metafold/rules"
	"umbasa.net/metafold/store"
	"umbasa.net/metafold/tracing"
	"umbasa.net/metafold/util"
)

var Module = fx.Module("builder",
	fx.Provide(
		New,
	),
)

// Sink receives projection updates from the event stream. A file is
// complete once its property map contains filePath.
type Sink interface {
	OnFileComplete(fileID string, props map[string]string)
	OnFileDelete(fileID string)
}

type Params struct {
	fx.In

	Viper   *viper.Viper
	Logger  *logging.Logger
	Tracing tracing.Tracing
	Client  *store.Client
	Rules   *rules.ConfigStore
	Sink    Sink
	Lc      fx.Lifecycle
}

type Result struct {
	fx.Out

	Builder *Builder
}

// Builder consumes the store's event log and maintains the per-file
// property state feeding the projection. It is the single writer: every
// mutation of filesState and the Sink happens on its event goroutine.
type Builder struct {
	log    *slog.Logger
	tracer trace.Tracer
	client *store.Client
	rules  *rules.ConfigStore
	sink   Sink

	batchSize    int64
	blockTimeout time.Duration
	retryPause   time.Duration

	// filesState is written by the event goroutine only; the lock
	// lets diagnostics readers take consistent snapshots
	stateMu    sync.RWMutex
	filesState map[string]map[string]string
	relevant   *rules.PropertySet
	lastID     string

	counters Counters

	refreshLimiter util.Limiter
	refreshChan    chan refreshRequest
	throttle       throttle.Throttle

	wakeMu sync.Mutex
	wake   context.CancelFunc

	cancel context.CancelFunc
	donewg sync.WaitGroup
}

type refreshRequest struct {
	done chan struct{}
}

func New(p Params) Result {
	p.Viper.SetDefault("builder.batchSize", 100)
	p.Viper.SetDefault("builder.blockTimeout", 5*time.Second)
	p.Viper.SetDefault("builder.retryPause", time.Second)

	b := NewBuilder(
		p.Logger.GetLogger("builder"),
		p.Tracing.TracerProvider.Tracer("builder"),
		p.Client,
		p.Rules,
		p.Sink,
	)
	b.batchSize = p.Viper.GetInt64("builder.batchSize")
	b.blockTimeout = p.Viper.GetDuration("builder.blockTimeout")
	b.retryPause = p.Viper.GetDuration("builder.retryPause")

	// external rule config edits refresh in the background, debounced
	b.throttle = throttle.NewThrottle(500*time.Millisecond, true)
	go func() {
		for b.throttle.Next() {
			if err := b.Refresh(context.Background()); err != nil {
				b.log.Error("error during rule-change refresh", "error", err)
			}
		}
	}()
	p.Rules.OnChange(func(*rules.RuleConfig) {
		b.throttle.Trigger()
	})

	p.Lc.Append(fx.StartHook(b.Start))
	p.Lc.Append(fx.StopHook(b.Stop))

	return Result{Builder: b}
}

// NewBuilder creates an unstarted builder. For tests; fx wiring goes
// through New.
func NewBuilder(log *slog.Logger, tracer trace.Tracer, client *store.Client, rulesStore *rules.ConfigStore, sink Sink) *Builder {
	return &Builder{
		log:            log,
		tracer:         tracer,
		client:         client,
		rules:          rulesStore,
		sink:           sink,
		batchSize:      100,
		blockTimeout:   5 * time.Second,
		retryPause:     time.Second,
		filesState:     make(map[string]map[string]string),
		refreshLimiter: util.NewLimiter(1),
		refreshChan:    make(chan refreshRequest, 1),
	}
}

// Start launches the event goroutine: a full bootstrap from stream
// position zero, then the live tail from the exact position bootstrap
// ended at.
func (b *Builder) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.donewg.Add(1)
	go func() {
		defer b.donewg.Done()
		b.run(ctx)
	}()
}

func (b *Builder) Stop() {
	if b.throttle != nil {
		b.throttle.Stop()
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.donewg.Wait()
}

func (b *Builder) run(ctx context.Context) {
	b.relevant = rules.RelevantProperties(b.rules.Current())

	b.log.Info("starting bootstrap")
	if !b.bootstrap(ctx) {
		return
	}
	b.log.Info("bootstrap complete",
		"lastEventId", b.lastID,
		"files", len(b.filesState),
		"fetched", b.counters.PropertiesFetched.Load(),
		"skipped", b.counters.PropertiesSkipped.Load())

	b.liveTail(ctx)
}

// bootstrap replays the whole event log in batches. Transport errors
// pause and retry at the same position, ordering is never dropped.
func (b *Builder) bootstrap(ctx context.Context) bool {
	for {
		entries, lastID, err := b.client.ReadStream(ctx, b.lastID, b.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			b.log.Error("transport error during bootstrap, retrying", "error", err)
			if !sleep(ctx, b.retryPause) {
				return false
			}
			continue
		}
		if len(entries) == 0 {
			return true
		}
		for _, entry := range entries {
			b.applyEntry(ctx, entry, nil)
		}
		b.setLastID(lastID)
	}
}

// liveTail consumes new events as they are appended, handling refresh
// requests between reads.
func (b *Builder) liveTail(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case req := <-b.refreshChan:
			b.doRefresh(ctx)
			close(req.done)
			continue
		default:
		}

		readCtx, cancelRead := context.WithCancel(ctx)
		b.setWake(cancelRead)
		entries, lastID, err := b.client.ReadStreamBlocking(readCtx, b.lastID, b.batchSize, b.blockTimeout)
		b.setWake(nil)
		cancelRead()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if readCtx.Err() != nil {
				// woken up for a refresh request
				continue
			}
			b.log.Error("transport error during live tail, retrying", "error", err)
			if !sleep(ctx, b.retryPause) {
				return
			}
			continue
		}

		for _, entry := range entries {
			b.applyEntry(ctx, entry, nil)
		}
		if len(entries) > 0 {
			b.setLastID(lastID)
		}
	}
}

func (b *Builder) setWake(cancel context.CancelFunc) {
	b.wakeMu.Lock()
	b.wake = cancel
	b.wakeMu.Unlock()
}

func (b *Builder) wakeUp() {
	b.wakeMu.Lock()
	if b.wake != nil {
		b.wake()
	}
	b.wakeMu.Unlock()
}

// applyEntry decodes and applies a single event. When seen is non-nil
// the completed file ids are recorded there (refresh tracking).
func (b *Builder) applyEntry(ctx context.Context, entry store.Entry, seen map[string]bool) {
	b.counters.EventsProcessed.Add(1)

	eventType := entry.Fields["type"]
	key := entry.Fields["key"]

	fileID, prop, ok := b.client.ParseFileKey(key)
	if !ok {
		return
	}

	switch eventType {
	case store.EventTypeDel:
		b.handleDelete(fileID, prop, seen)

	case store.EventTypeSet:
		if !b.relevant.Matches(prop) {
			b.counters.PropertiesSkipped.Add(1)
			return
		}
		value, found, err := b.fetchValue(ctx, key)
		if err != nil {
			return
		}
		if !found {
			// deleted between event emit and fetch: the del event
			// will arrive or already has
			b.counters.DataSkew.Add(1)
			return
		}
		b.handleSet(fileID, prop, value, seen)

	default:
		b.log.Warn("unknown event type", "type", eventType, "key", key)
	}
}

// fetchValue gets a property value, retrying on transport errors so an
// event is never half-applied or dropped.
func (b *Builder) fetchValue(ctx context.Context, key string) (string, bool, error) {
	for {
		value, found, err := b.client.Get(ctx, key)
		if err == nil {
			b.counters.PropertiesFetched.Add(1)
			return value, found, nil
		}
		if ctx.Err() != nil {
			return "", false, err
		}
		b.log.Error("transport error fetching property, retrying", "key", key, "error", err)
		if !sleep(ctx, b.retryPause) {
			return "", false, err
		}
	}
}

func (b *Builder) handleSet(fileID, prop, value string, seen map[string]bool) {
	b.stateMu.Lock()
	props, ok := b.filesState[fileID]
	if !ok {
		props = make(map[string]string)
		b.filesState[fileID] = props
	}

	wasComplete := hasFilePath(props)
	props[rules.NormalizePath(prop)] = value
	b.stateMu.Unlock()

	if hasFilePath(props) {
		if !wasComplete {
			b.counters.FilesCompleted.Add(1)
		}
		if seen != nil {
			seen[fileID] = true
		}
		b.sink.OnFileComplete(fileID, cloneProps(props))
	}
}

func (b *Builder) handleDelete(fileID, prop string, seen map[string]bool) {
	b.stateMu.Lock()
	props, ok := b.filesState[fileID]
	if !ok {
		b.stateMu.Unlock()
		return
	}

	normalized := rules.NormalizePath(prop)
	delete(props, normalized)

	if normalized == "filePath" || len(props) == 0 {
		delete(b.filesState, fileID)
		b.stateMu.Unlock()
		if seen != nil {
			delete(seen, fileID)
		}
		b.counters.FilesDeleted.Add(1)
		b.sink.OnFileDelete(fileID)
		return
	}
	b.stateMu.Unlock()

	// property removal can move the file, so treat it as an update
	if hasFilePath(props) {
		b.sink.OnFileComplete(fileID, cloneProps(props))
	}
}

// Refresh recomputes the relevance set, wipes the property state (never
// the projection) and replays the event log, pruning only files that
// truly disappeared. Serialized: concurrent calls queue up.
func (b *Builder) Refresh(ctx context.Context) error {
	if !b.refreshLimiter.Begin(ctx) {
		return ctx.Err()
	}
	defer b.refreshLimiter.End()

	req := refreshRequest{done: make(chan struct{})}
	select {
	case b.refreshChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.wakeUp()

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Builder) doRefresh(ctx context.Context) {
	ctx, span := b.tracer.Start(ctx, "refresh")
	defer span.End()

	b.log.Info("starting refresh")

	b.relevant = rules.RelevantProperties(b.rules.Current())
	b.stateMu.Lock()
	b.filesState = make(map[string]map[string]string)
	b.stateMu.Unlock()
	b.setLastID("")

	seen := make(map[string]bool)
	for {
		entries, lastID, err := b.client.ReadStream(ctx, b.lastID, b.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error("transport error during refresh, retrying", "error", err)
			if !sleep(ctx, b.retryPause) {
				return
			}
			continue
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			b.applyEntry(ctx, entry, seen)
		}
		b.setLastID(lastID)
	}

	if projection, ok := b.sink.(interface{ Prune(map[string]bool) }); ok {
		projection.Prune(seen)
	}
	if projection, ok := b.sink.(interface{ SetLastRefresh(time.Time) }); ok {
		projection.SetLastRefresh(time.Now())
	}

	b.log.Info("refresh complete", "lastEventId", b.lastID, "files", len(b.filesState))
}

func (b *Builder) setLastID(id string) {
	b.lastID = id
	b.counters.setLastEventID(id)
}

// FileState returns a copy of the tracked property map of a file.
// Diagnostics only.
func (b *Builder) FileState(fileID string) (map[string]string, bool) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	props, ok := b.filesState[fileID]
	if !ok {
		return nil, false
	}
	return cloneProps(props), true
}

func hasFilePath(props map[string]string) bool {
	_, ok := props["filePath"]
	return ok
}

func cloneProps(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
