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
	"net/http"

	"github.com/gin-gonic/gin"
	"umbasa.net/metafold/rules"
)

const defaultPreviewLimit = 100

func (h *fuseHandler) getRules(ctx *gin.Context) {
	cfg := h.rules.Current()
	ctx.JSON(http.StatusOK, gin.H{
		"config":       cfg,
		"lastModified": cfg.LastModified,
	})
}

type putRulesRequest struct {
	Config *rules.RuleConfig `json:"config"`
}

func (h *fuseHandler) putRules(ctx *gin.Context) {
	var req putRulesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Config == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": []string{"config is required"}})
		return
	}

	if errs := h.evaluator.ValidateConfig(req.Config); len(errs) > 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": errs})
		return
	}

	if err := h.rules.Save(req.Config); err != nil {
		h.log.Error("error saving rule config", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"success": false, "errors": []string{"error saving rule config"}})
		return
	}

	refreshed := true
	if err := h.builder.Refresh(ctx.Request.Context()); err != nil {
		h.log.Error("error refreshing after rule save", "error", err)
		refreshed = false
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true, "refreshed": refreshed})
}

type previewRequest struct {
	Rules []rules.Rule `json:"rules,omitempty"`
	Limit int          `json:"limit,omitempty"`
}

type previewEntry struct {
	SourcePath         string `json:"sourcePath"`
	CurrentVirtualPath string `json:"currentVirtualPath"`
	NewVirtualPath     string `json:"newVirtualPath"`
	MatchedRuleID      string `json:"matchedRuleId,omitempty"`
}

// postRulesPreview evaluates a candidate rule list against a sample of
// the known files without mutating any state.
func (h *fuseHandler) postRulesPreview(ctx *gin.Context) {
	var req previewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPreviewLimit
	}

	current := h.rules.Current()
	previewCfg := current
	if req.Rules != nil {
		previewCfg = &rules.RuleConfig{
			Version:     current.Version,
			Rules:       req.Rules,
			DefaultRule: current.DefaultRule,
		}
	}

	files := h.projection.AllFiles()
	total := len(files)
	limited := total > limit
	if limited {
		files = files[:limit]
	}

	previews := make([]previewEntry, 0, len(files))
	for _, virtualPath := range files {
		snapshot, err := h.projection.Metadata(virtualPath)
		if err != nil {
			continue
		}
		read, err := h.projection.Read(virtualPath)
		if err != nil {
			continue
		}

		newPath, ruleID := h.evaluator.Evaluate(previewCfg, rules.MapLookup(snapshot))
		previews = append(previews, previewEntry{
			SourcePath:         read.SourcePath,
			CurrentVirtualPath: virtualPath,
			NewVirtualPath:     newPath,
			MatchedRuleID:      ruleID,
		})
	}

	ctx.JSON(http.StatusOK, gin.H{
		"previews": previews,
		"total":    total,
		"limited":  limited,
	})
}

type validateRequest struct {
	Rule           *rules.Rule       `json:"rule"`
	SampleMetadata map[string]string `json:"sampleMetadata,omitempty"`
}

func (h *fuseHandler) postRulesValidate(ctx *gin.Context) {
	var req validateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Rule == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "rule is required"})
		return
	}

	ctx.JSON(http.StatusOK, h.evaluator.ValidateRule(req.Rule, req.SampleMetadata))
}

func (h *fuseHandler) getRulesVariables(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"variables": rules.KnownVariables()})
}
