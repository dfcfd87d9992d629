// Package query resolves what a viewer may read: the observation sets behind
// each export and the observations served by the API.
package query

import (
	"context"
	"errors"

	"github.com/TreeSnap/Export-Service/internal/export"
	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/TreeSnap/Export-Service/internal/storage"
	"github.com/rotisserie/eris"
)

// ErrInvalidParameter rejects malformed export parameters.
var ErrInvalidParameter = eris.New("invalid parameter")

// Source is an export-ready observation set with its file label.
type Source struct {
	Label string
	Query export.Query
}

// UserExportParams narrows the "my observations" export.
type UserExportParams struct {
	Category     string
	CollectionID int64
	Search       string
}

type Observations struct {
	store storage.Storage
}

func NewObservations(store storage.Storage) *Observations {
	return &Observations{store: store}
}

// visibleTo starts a selection with the privacy clause that applies to v.
func visibleTo(v *models.Viewer) models.Selection {
	sel := models.Selection{IncludePrivate: privacy.ViewerCan(v, privacy.CapViewPrivate)}
	if v != nil {
		sel.ViewerID = v.ID
	}
	return sel
}

// ForFilter exports a saved filter. Private filters are limited to their
// owner and viewers allowed to see any filter.
func (q *Observations) ForFilter(ctx context.Context, id int64, v *models.Viewer) (Source, error) {
	f, err := q.store.GetFilter(ctx, id)
	if err != nil {
		return Source{}, notFound(err, "query: filter")
	}
	if !f.IsPublic && !(v != nil && v.ID == f.UserID) && !privacy.ViewerCan(v, privacy.CapViewAnyFilter) {
		return Source{}, eris.Wrapf(export.ErrForbidden, "query: filter %d", id)
	}

	sel := visibleTo(v)
	rules := f.Rules
	sel.Rules = &rules
	return Source{Label: f.Name, Query: q.selection(sel)}, nil
}

// ForCollection exports a collection to one of its members. The advertised
// count includes private rows of other members that the export will skip.
func (q *Observations) ForCollection(ctx context.Context, id int64, v *models.Viewer) (Source, error) {
	c, err := q.store.GetCollection(ctx, id)
	if err != nil {
		return Source{}, notFound(err, "query: collection")
	}
	if v == nil || !c.HasMember(v.ID) {
		return Source{}, eris.Wrapf(export.ErrForbidden, "query: collection %d", id)
	}

	// No privacy clause: the count covers every member row and the line
	// builder drops the private rows the viewer may not see.
	sel := models.Selection{IncludePrivate: true, CollectionID: c.ID}
	return Source{Label: c.Label, Query: q.selection(sel)}, nil
}

// ForUser exports the viewer's own observations.
func (q *Observations) ForUser(ctx context.Context, v *models.Viewer, p UserExportParams) (Source, error) {
	if v == nil {
		return Source{}, eris.Wrap(export.ErrForbidden, "query: anonymous user export")
	}
	if p.Category != "" && !models.IsCategory(p.Category) {
		return Source{}, eris.Wrapf(ErrInvalidParameter, "query: category %q", p.Category)
	}
	if p.CollectionID != 0 {
		if _, err := q.store.GetCollection(ctx, p.CollectionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Source{}, eris.Wrapf(ErrInvalidParameter, "query: collection %d", p.CollectionID)
			}
			return Source{}, err
		}
	}

	sel := visibleTo(v)
	sel.OwnerID = v.ID
	sel.Category = p.Category
	sel.CollectionID = p.CollectionID
	sel.Search = p.Search
	return Source{Label: "observations", Query: q.selection(sel)}, nil
}

// Visible loads every observation v may see, in id order.
func (q *Observations) Visible(ctx context.Context, v *models.Viewer, batchSize int) ([]models.Observation, error) {
	var out []models.Observation
	err := q.store.ChunkObservations(ctx, visibleTo(v), batchSize, func(batch []models.Observation) error {
		out = append(out, batch...)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "query: visible observations")
	}
	return out, nil
}

// Get returns a single observation, reporting invisible ones as missing.
func (q *Observations) Get(ctx context.Context, id int64, v *models.Viewer) (models.Observation, error) {
	o, err := q.store.GetObservation(ctx, id)
	if err != nil {
		return models.Observation{}, notFound(err, "query: observation")
	}
	if !privacy.IsVisible(v, &o) {
		return models.Observation{}, eris.Wrapf(export.ErrNotFound, "query: observation %d", id)
	}
	return o, nil
}

// Artifact returns a registered export owned by v.
func (q *Observations) Artifact(ctx context.Context, id string, v *models.Viewer) (models.FileArtifact, error) {
	a, err := q.store.GetFileArtifact(ctx, id)
	if err != nil {
		return models.FileArtifact{}, notFound(err, "query: file")
	}
	if v == nil || a.UserID == nil || *a.UserID != v.ID {
		return models.FileArtifact{}, eris.Wrapf(export.ErrForbidden, "query: file %s", id)
	}
	return a, nil
}

func (q *Observations) selection(sel models.Selection) export.Query {
	return &selectionQuery{store: q.store, sel: sel}
}

func notFound(err error, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return eris.Wrap(export.ErrNotFound, msg)
	}
	return eris.Wrap(err, msg)
}

// selectionQuery binds a selection to a store as an export.Query.
type selectionQuery struct {
	store storage.Storage
	sel   models.Selection
}

func (s *selectionQuery) Count(ctx context.Context) (int64, error) {
	return s.store.CountObservations(ctx, s.sel)
}

func (s *selectionQuery) Chunk(ctx context.Context, size int, fn func([]models.Observation) error) error {
	return s.store.ChunkObservations(ctx, s.sel, size, fn)
}
