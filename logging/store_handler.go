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

package logging

import (
	"context"
	"encoding/json"
	"log/slog"

	"umbasa.net/metafold/store"
)

// StoreHandler publishes log records as JSON to the store's pub/sub
// log channel, where they can be picked up by a log viewer.
type StoreHandler struct {
	holder *store.Holder
	attrs  []slog.Attr
	groups []string
}

func NewStoreHandler(holder *store.Holder) *StoreHandler {
	return &StoreHandler{
		holder,
		make([]slog.Attr, 0),
		make([]string, 0),
	}
}

// implements slog.Handler
var _ slog.Handler = &StoreHandler{}

func (h *StoreHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *StoreHandler) Handle(ctx context.Context, r slog.Record) error {
	rdb := h.holder.Get()
	if rdb == nil {
		return nil
	}

	m := make(map[string]any)
	m["time"] = r.Time
	m["level"] = r.Level
	m["msg"] = r.Message

	recordAttrs := make([]slog.Attr, 0, r.NumAttrs()+len(h.attrs))
	r.Attrs(func(a slog.Attr) bool {
		recordAttrs = append(recordAttrs, a)
		return true
	})
	recordAttrs = append(recordAttrs, h.attrs...)

	makeGroup(h.groups, recordAttrs, m)

	j, err := json.Marshal(m)

	if err != nil {
		return err
	}

	rdb.Publish(context.Background(), store.LogChannel, j)

	return nil
}

func (h *StoreHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	copy := *h
	copy.attrs = append(clone(h.attrs), attrs...)
	return &copy
}

func (h *StoreHandler) WithGroup(name string) slog.Handler {
	copy := *h
	copy.groups = append(clone(h.groups), name)
	return &copy
}
