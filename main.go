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

package main

import (
	"log/slog"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"umbasa.net/metafold/builder"
	"umbasa.net/metafold/config"
	"umbasa.net/metafold/fuseapi"
	"umbasa.net/metafold/gateway"
	"umbasa.net/metafold/logging"
	"umbasa.net/metafold/rules"
	"umbasa.net/metafold/store"
	"umbasa.net/metafold/tracing"
	"umbasa.net/metafold/vfs"
)

func main() {
	fx.New(
		logging.Module,
		config.Module,
		tracing.Module,
		store.Module,
		rules.Module,
		vfs.Module,
		builder.Module,
		gateway.Module,
		fuseapi.Module,
		logging.FxLogger(),
		fx.Provide(func(projection *vfs.Projection) builder.Sink {
			return projection
		}),
		fx.Invoke(func(logger *logging.Logger, v *viper.Viper) {
			if v.GetBool("log.debug") {
				logger.SetLevel(slog.LevelDebug)
			}
		}),
		fx.Invoke(func(g gateway.Gateway) {
			// required to bootstrap the Gateway
		}),
		fx.Invoke(func(b *builder.Builder) {
			// required to bootstrap the Builder
		}),
	).Run()
}
