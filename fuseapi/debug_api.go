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

package fuseapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Diagnostics for operators: the raw store view of a file next to the
// tracked state and the projected path, to pin down why a file landed
// where it did (or nowhere).

func (h *fuseHandler) getDebugIndex(ctx *gin.Context) {
	fileIDs, err := h.client.SMembers(ctx.Request.Context(), h.client.IndexKey())
	if err != nil {
		h.log.Error("error reading file index", "error", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"fileIds": fileIDs})
}

type debugFileRequest struct {
	FileID string `json:"fileId"`
}

func (h *fuseHandler) postDebugFile(ctx *gin.Context) {
	var req debugFileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.FileID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "fileId is required"})
		return
	}

	prefix := h.client.FileKey(req.FileID, "")
	stored := make(map[string]string)
	err := h.client.ScanByPrefix(ctx.Request.Context(), prefix, func(key string) error {
		value, found, err := h.client.Get(ctx.Request.Context(), key)
		if err != nil {
			return err
		}
		if found {
			stored[strings.TrimPrefix(key, prefix)] = value
		}
		return nil
	})
	if err != nil {
		h.log.Error("error scanning file properties", "fileId", req.FileID, "error", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	response := gin.H{"fileId": req.FileID, "stored": stored}
	if tracked, ok := h.builder.FileState(req.FileID); ok {
		response["tracked"] = tracked
	}
	if virtualPath, ok := h.projection.VirtualPath(req.FileID); ok {
		response["virtualPath"] = virtualPath
	}
	ctx.JSON(http.StatusOK, response)
}
