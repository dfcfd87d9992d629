package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/TreeSnap/Export-Service/internal/export"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/TreeSnap/Export-Service/internal/projection"
	"github.com/TreeSnap/Export-Service/internal/services/query"
	"github.com/TreeSnap/Export-Service/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ObjectOpener streams stored export artifacts.
type ObjectOpener interface {
	OpenFile(ctx context.Context, objectName string) (io.ReadCloser, int64, error)
}

type HealthChecker interface {
	CheckConnection(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	Store        storage.Storage
	Observations *query.Observations
	Writer       *export.Writer
	Projector    *projection.Projector
	Fuzzy        *privacy.FuzzyCache
	Files        ObjectOpener
	Objects      HealthChecker
	BatchSize    int
}

func New(store storage.Storage, writer *export.Writer, projector *projection.Projector, fuzzy *privacy.FuzzyCache, files ObjectOpener, batchSize int) *Handler {
	if batchSize <= 0 {
		batchSize = export.DefaultBatchSize
	}
	h := &Handler{
		Store:        store,
		Observations: query.NewObservations(store),
		Writer:       writer,
		Projector:    projector,
		Fuzzy:        fuzzy,
		Files:        files,
		BatchSize:    batchSize,
	}
	if hc, ok := files.(HealthChecker); ok {
		h.Objects = hc
	}
	return h
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, export.ErrInvalidFormat):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid extension"})
	case errors.Is(err, query.ErrInvalidParameter):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid parameters"})
	case errors.Is(err, export.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, export.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	default:
		zap.L().Error("[API] request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// idParam parses a numeric path parameter. Malformed ids are reported as
// missing records.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return 0, false
	}
	return id, true
}
