package handlers

import (
	"net/http"
	"strconv"

	"github.com/TreeSnap/Export-Service/cmd/middleware"
	"github.com/TreeSnap/Export-Service/internal/export"
	"github.com/TreeSnap/Export-Service/internal/services/query"
	"github.com/gin-gonic/gin"
)

// FilterCount returns the advertised row count of a filter export so the
// client can confirm before downloading.
func (h *Handler) FilterCount(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	src, err := h.Observations.ForFilter(c.Request.Context(), id, middleware.ViewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	n, err := h.Writer.Count(c.Request.Context(), src.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) FilterExport(c *gin.Context) {
	if !validExtension(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	src, err := h.Observations.ForFilter(c.Request.Context(), id, middleware.ViewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.sendExport(c, src)
}

func (h *Handler) CollectionExport(c *gin.Context) {
	if !validExtension(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	src, err := h.Observations.ForCollection(c.Request.Context(), id, middleware.ViewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.sendExport(c, src)
}

func (h *Handler) MyObservationsExport(c *gin.Context) {
	if !validExtension(c) {
		return
	}

	params := query.UserExportParams{
		Category: c.Query("category"),
		Search:   c.Query("search"),
	}
	if raw := c.Query("collection_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid parameters"})
			return
		}
		params.CollectionID = id
	}

	src, err := h.Observations.ForUser(c.Request.Context(), middleware.ViewerFrom(c), params)
	if err != nil {
		respondError(c, err)
		return
	}
	h.sendExport(c, src)
}

// validExtension rejects unsupported formats before any lookup happens.
func validExtension(c *gin.Context) bool {
	if _, err := export.ParseFormat(c.Param("extension")); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

func (h *Handler) sendExport(c *gin.Context, src query.Source) {
	res, err := h.Writer.Export(c.Request.Context(), export.Request{
		Query:  src.Query,
		Viewer: middleware.ViewerFrom(c),
		Format: c.Param("extension"),
		Label:  src.Label,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	defer res.Cleanup()

	c.Header("X-Advertised-Count", strconv.FormatInt(res.AdvertisedCount, 10))
	c.Header("X-Emitted-Count", strconv.FormatInt(res.EmittedCount, 10))
	c.Header("X-File-Id", res.Artifact.ID)
	c.Header("Content-Type", res.Format.ContentType())
	c.FileAttachment(res.LocalPath, res.DownloadName)
}
