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
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gopkg.in/natefinch/lumberjack.v2"
	"umbasa.net/metafold/store"
)

var Module = fx.Module("logger",
	fx.Provide(
		New,
	),
)

type Logger struct {
	holder   *store.Holder
	levelVar *slog.LevelVar
	file     *lumberjack.Logger
}

func (l *Logger) SetLevel(level slog.Level) {
	l.levelVar.Set(level)
}

type Params struct {
	fx.In

	Holder *store.Holder `optional:"true"`
}

func New(p Params) *Logger {
	levelVar := slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)

	// the config module is not up when the logger is constructed,
	// so the log file location comes from the environment directly
	var file *lumberjack.Logger
	if path := os.Getenv("METAFOLD_LOG_FILE"); path != "" {
		file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		}
	}

	return &Logger{p.Holder, &levelVar, file}
}

func (l *Logger) GetLogger(name string) *slog.Logger {
	handlers := []slog.Handler{
		NewConsoleHandler(l.levelVar),
	}
	if l.file != nil {
		handlers = append(handlers, slog.NewTextHandler(l.file, &slog.HandlerOptions{
			Level: l.levelVar,
		}))
	}
	if l.holder != nil {
		handlers = append(handlers, NewStoreHandler(l.holder))
	}
	return slog.New(NewHandlerMux(handlers...)).With("component", name)
}

func FxLogger() fx.Option {
	return fx.WithLogger(func(logger *Logger) fxevent.Logger {
		return &fxevent.SlogLogger{Logger: logger.GetLogger("fx")}
	})
}
