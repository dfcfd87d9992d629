package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/TreeSnap/Export-Service/cmd/middleware"
	"github.com/gin-gonic/gin"
)

// DownloadFile streams a previously generated export back to its owner.
func (h *Handler) DownloadFile(c *gin.Context) {
	ctx := c.Request.Context()

	artifact, err := h.Observations.Artifact(ctx, c.Param("id"), middleware.ViewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if h.Files == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage service not available"})
		return
	}

	reader, size, err := h.Files.OpenFile(ctx, artifact.Path)
	if err != nil {
		respondError(c, err)
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, size, "application/octet-stream", reader, map[string]string{
		"Content-Description": "File Transfer",
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", artifact.Name),
	})
}

// ListFiles pages through the viewer's generated exports, newest first.
func (h *Handler) ListFiles(c *gin.Context) {
	v := middleware.ViewerFrom(c)
	if v == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", "50"))
	if err != nil || pageSize < 1 {
		pageSize = 50
	}
	// Cap page size to avoid abuse
	if pageSize > 500 {
		pageSize = 500
	}

	files, err := h.Store.GetUserArtifacts(c.Request.Context(), v.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	total := len(files)
	totalPages := (total + pageSize - 1) / pageSize
	// past the last page yields an empty list
	start := total
	if page <= totalPages {
		start = (page - 1) * pageSize
	}
	end := min(start+pageSize, total)

	c.JSON(http.StatusOK, gin.H{
		"files":      files[start:end],
		"page":       page,
		"pageSize":   pageSize,
		"total":      total,
		"totalPages": totalPages,
	})
}
