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

package fuseapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"umbasa.net/metafold/builder"
	"umbasa.net/metafold/gateway"
	"umbasa.net/metafold/logging"
	"umbasa.net/metafold/rules"
	"umbasa.net/metafold/store"
	"umbasa.net/metafold/vfs"
)

const ServiceName = "metafold"

var Module = fx.Module("fuseapi",
	fx.Provide(
		New,
	),
)

type Params struct {
	fx.In

	Log        *logging.Logger
	Client     *store.Client
	Projection *vfs.Projection
	Builder    *builder.Builder
	Rules      *rules.ConfigStore
	Evaluator  *rules.Evaluator
}

type Result struct {
	fx.Out

	Handler gateway.GatewayHandler `group:"gatewayhandlers"`
}

// fuseHandler serves the filesystem queries of the kernel driver and the
// rule management surface of the UI. Stateless: every request is a single
// lookup against the projection or the rule store.
type fuseHandler struct {
	log        *slog.Logger
	client     *store.Client
	projection *vfs.Projection
	builder    *builder.Builder
	rules      *rules.ConfigStore
	evaluator  *rules.Evaluator
}

func New(p Params) Result {
	return Result{
		Handler: &fuseHandler{
			log:        p.Log.GetLogger("fuseapi"),
			client:     p.Client,
			projection: p.Projection,
			builder:    p.Builder,
			rules:      p.Rules,
			evaluator:  p.Evaluator,
		},
	}
}

func (h *fuseHandler) Setup(app *gin.Engine, apiGroup *gin.RouterGroup) {
	app.GET("/health", h.getHealth)

	fuse := apiGroup.Group("/fuse")
	fuse.GET("/health", h.getHealth)
	fuse.GET("/stats", h.getStats)
	fuse.POST("/readdir", h.postReaddir)
	fuse.POST("/getattr", h.postGetattr)
	fuse.POST("/exists", h.postExists)
	fuse.POST("/read", h.postRead)
	fuse.POST("/metadata", h.postMetadata)
	fuse.GET("/files", h.getFiles)
	fuse.GET("/directories", h.getDirectories)
	fuse.POST("/refresh", h.postRefresh)
	fuse.GET("/rules", h.getRules)
	fuse.PUT("/rules", h.putRules)
	fuse.POST("/rules/preview", h.postRulesPreview)
	fuse.POST("/rules/validate", h.postRulesValidate)
	fuse.GET("/rules/variables", h.getRulesVariables)
	fuse.GET("/debug/index", h.getDebugIndex)
	fuse.POST("/debug/file", h.postDebugFile)
}

type pathRequest struct {
	Path string `json:"path"`
	Sort bool   `json:"sort,omitempty"`
}

func bindPath(ctx *gin.Context) (pathRequest, bool) {
	var req pathRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Path == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return req, false
	}
	return req, true
}

func (h *fuseHandler) getHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   ServiceName,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *fuseHandler) getStats(ctx *gin.Context) {
	stats := h.projection.Stats()
	response := gin.H{
		"fileCount":      stats.FileCount,
		"directoryCount": stats.DirectoryCount,
		"totalSize":      stats.TotalSize,
		"lastRefresh":    stats.LastRefresh,
		"builder":        h.builder.Stats(),
		"connected":      h.client.Ping(ctx.Request.Context()),
	}
	// the writer's file index, when it maintains one
	if members, err := h.client.SMembers(ctx.Request.Context(), h.client.IndexKey()); err == nil {
		response["indexedFiles"] = len(members)
	}
	ctx.JSON(http.StatusOK, response)
}

func (h *fuseHandler) postReaddir(ctx *gin.Context) {
	req, ok := bindPath(ctx)
	if !ok {
		return
	}

	entries, err := h.projection.Readdir(req.Path)
	if err != nil {
		status(ctx, err)
		return
	}
	if req.Sort {
		sort.Strings(entries)
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *fuseHandler) postGetattr(ctx *gin.Context) {
	req, ok := bindPath(ctx)
	if !ok {
		return
	}

	attr, err := h.projection.Getattr(req.Path)
	if err != nil {
		status(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attr)
}

func (h *fuseHandler) postExists(ctx *gin.Context) {
	req, ok := bindPath(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"exists": h.projection.Exists(req.Path)})
}

func (h *fuseHandler) postRead(ctx *gin.Context) {
	req, ok := bindPath(ctx)
	if !ok {
		return
	}

	result, err := h.projection.Read(req.Path)
	if err != nil {
		status(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (h *fuseHandler) postMetadata(ctx *gin.Context) {
	req, ok := bindPath(ctx)
	if !ok {
		return
	}

	snapshot, err := h.projection.Metadata(req.Path)
	if err != nil {
		status(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, snapshot)
}

func (h *fuseHandler) getFiles(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"files": h.projection.AllFiles()})
}

func (h *fuseHandler) getDirectories(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"directories": h.projection.AllDirectories()})
}

func (h *fuseHandler) postRefresh(ctx *gin.Context) {
	if err := h.builder.Refresh(ctx.Request.Context()); err != nil {
		h.log.Error("error during refresh", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func status(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, vfs.ErrNotFound), errors.Is(err, vfs.ErrNotDirectory):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrTransport):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
