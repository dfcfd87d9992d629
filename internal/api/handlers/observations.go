package handlers

import (
	"net/http"
	"strconv"

	"github.com/TreeSnap/Export-Service/cmd/middleware"
	"github.com/TreeSnap/Export-Service/internal/filter"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/TreeSnap/Export-Service/internal/projection"
	"github.com/TreeSnap/Export-Service/internal/services/command"
	"github.com/gin-gonic/gin"
)

// ListObservations serves the map records visible to the viewer, narrowed
// by the search, scope, category and collection_id query parameters.
func (h *Handler) ListObservations(c *gin.Context) {
	ctx := c.Request.Context()
	v := middleware.ViewerFrom(c)

	obs, err := h.Observations.Visible(ctx, v, h.BatchSize)
	if err != nil {
		respondError(c, err)
		return
	}
	records, updates := h.Projector.ProjectAll(obs, v, projection.ModeMap)
	command.SaveFuzzyUpdates(ctx, h.Fuzzy, h.Store, updates)

	f := filter.New(records)
	f.SearchScope(filter.ParseScope(c.Query("scope")))
	f.Search(c.Query("search"))
	f.Category(c.Query("category"))
	collection := filter.NoCollection
	if raw := c.Query("collection_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid parameters"})
			return
		}
		collection = id
	}

	c.JSON(http.StatusOK, f.Collection(collection))
}

func (h *Handler) ShowObservation(c *gin.Context) {
	h.showObservation(c, projection.ModeDetail)
}

// AdminShowObservation is routed behind the admin capability check.
func (h *Handler) AdminShowObservation(c *gin.Context) {
	h.showObservation(c, projection.ModeAdmin)
}

func (h *Handler) showObservation(c *gin.Context, mode projection.Mode) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	v := middleware.ViewerFrom(c)

	o, err := h.Observations.Get(ctx, id, v)
	if err != nil {
		respondError(c, err)
		return
	}
	rec, update, ok := h.Projector.Project(&o, v, mode)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if update != nil {
		h.Fuzzy.Persist(ctx, h.Store, *update)
	}
	c.JSON(http.StatusOK, rec)
}

// RequireCapability rejects viewers whose role lacks tag.
func RequireCapability(tag privacy.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !privacy.ViewerCan(middleware.ViewerFrom(c), tag) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}
		c.Next()
	}
}
