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

package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Cyprinus12138/otelgin"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
	"github.com/spf13/viper"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
	"go.uber.org/fx"
	"umbasa.net/metafold/logging"
)

var Module = fx.Module("gateway",
	fx.Provide(
		New,
	),
)

type Params struct {
	fx.In

	Log      *logging.Logger
	Viper    *viper.Viper
	Handlers []GatewayHandler `group:"gatewayhandlers"`
	Lc       fx.Lifecycle
}

type Result struct {
	fx.Out

	Gateway Gateway
}

type Gateway interface {
	Start(handlers []GatewayHandler)
	Stop()
}

type gateway struct {
	log    *slog.Logger
	viper  *viper.Viper
	server *http.Server
}

func New(p Params) Result {
	p.Viper.SetDefault("api.address", ":8000")
	p.Viper.SetDefault("serviceName", "metafold")

	gateway := &gateway{
		log:   p.Log.GetLogger("gateway"),
		viper: p.Viper,
	}

	p.Lc.Append(fx.StartHook(func() {
		gateway.Start(p.Handlers)
	}))
	p.Lc.Append(fx.StopHook(gateway.Stop))

	return Result{Gateway: gateway}
}

func (g *gateway) Start(handlers []GatewayHandler) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(sloggin.New(g.log))
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(g.viper.GetString("serviceName")))

	apiGroup := engine.Group("/api", cachecontrol.New(cachecontrol.NoCachePreset))

	for _, handler := range handlers {
		handler.Setup(engine, apiGroup)
	}

	address := g.viper.GetString("api.address")
	g.server = &http.Server{
		Addr:    address,
		Handler: engine.Handler(),
	}

	go g.server.ListenAndServe()

	g.log.Info("HTTP Server listening on " + address)
}

func (g *gateway) Stop() {
	if g.server == nil {
		return
	}
	g.server.Shutdown(context.Background())
	g.server = nil
	g.log.Info("HTTP Server closed")
}
