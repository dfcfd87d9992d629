// Package projection shapes observations into the JSON records served to a
// particular viewer.
package projection

import (
	"fmt"
	"strings"
	"time"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/privacy"
)

type Mode string

const (
	ModeMap    Mode = "map"
	ModeDetail Mode = "detail"
	ModeAdmin  Mode = "admin"
)

type UserRef struct {
	Name string `json:"name"`
}

type Location struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Accuracy  float64        `json:"accuracy"`
	Address   models.Address `json:"address"`
}

// Record is the viewer-specific shape of an observation.
type Record struct {
	ID                 int64                  `json:"observation_id"`
	UserID             int64                  `json:"user_id"`
	User               UserRef                `json:"user"`
	Category           string                 `json:"observation_category"`
	Title              string                 `json:"title,omitempty"`
	MetaData           map[string]any         `json:"meta_data"`
	Location           Location               `json:"location"`
	Images             map[string][]string    `json:"images"`
	ImageList          []string               `json:"image_list,omitempty"`
	Thumbnail          string                 `json:"thumbnail"`
	Date               string                 `json:"date"`
	IsPrivate          bool                   `json:"is_private"`
	MobileID           string                 `json:"mobile_id"`
	Flags              []models.Flag          `json:"flags"`
	Collections        []models.CollectionRef `json:"collections"`
	Confirmations      []models.Confirmation  `json:"confirmations"`
	ConfirmationsCount int                    `json:"confirmations_count"`
}

type Projector struct {
	baseURL string
	fuzzy   *privacy.FuzzyCache
}

func NewProjector(baseURL string, fuzzy *privacy.FuzzyCache) *Projector {
	return &Projector{baseURL: strings.TrimRight(baseURL, "/"), fuzzy: fuzzy}
}

// Project shapes o for viewer v. ok is false when o must not be shown to v.
// update is non-nil when fuzzy coordinates were computed and need persisting.
func (p *Projector) Project(o *models.Observation, v *models.Viewer, mode Mode) (rec Record, update *privacy.FuzzyUpdate, ok bool) {
	if !privacy.IsVisible(v, o) {
		return Record{}, nil, false
	}

	fuzzy, computed := p.fuzzy.Resolve(o)
	if computed {
		update = &privacy.FuzzyUpdate{ObservationID: o.ID, Coords: fuzzy}
	}

	rec = Record{
		ID:                 o.ID,
		UserID:             o.UserID,
		User:               UserRef{Name: displayName(o, v)},
		Category:           o.Category,
		MetaData:           metaData(o, v),
		Images:             p.absoluteImages(o.Images),
		Thumbnail:          o.Thumbnail,
		IsPrivate:          o.IsPrivate,
		MobileID:           o.MobileID,
		Flags:              []models.Flag{},
		Collections:        []models.CollectionRef{},
		Confirmations:      []models.Confirmation{},
		ConfirmationsCount: o.ConfirmationsCount,
	}

	if mode == ModeAdmin || privacy.CanSeeExactLocationAndComments(v, o) {
		rec.Location = Location{
			Latitude:  o.Latitude,
			Longitude: o.Longitude,
			Accuracy:  o.LocationAccuracy,
			Address:   o.Address,
		}
	} else {
		rec.Location = Location{
			Latitude:  fuzzy.Latitude,
			Longitude: fuzzy.Longitude,
			Accuracy:  o.LocationAccuracy,
			Address:   models.Address{Components: []models.AddressComponent{}},
		}
	}

	if v != nil {
		rec.Flags = nonNil(o.Flags)
		rec.Collections = nonNil(o.Collections)
		rec.Confirmations = nonNil(o.Confirmations)
	}

	if mode == ModeMap {
		rec.Title = title(o)
		rec.ImageList = flatten(rec.Images)
		rec.Date = o.CollectionDate.Format(time.DateOnly)
	} else {
		rec.Date = o.CollectionDate.Format(time.RFC3339)
	}

	return rec, update, true
}

// ProjectAll projects every visible observation and collects pending fuzzy updates.
func (p *Projector) ProjectAll(obs []models.Observation, v *models.Viewer, mode Mode) ([]Record, []privacy.FuzzyUpdate) {
	records := make([]Record, 0, len(obs))
	var updates []privacy.FuzzyUpdate
	for i := range obs {
		rec, update, ok := p.Project(&obs[i], v, mode)
		if !ok {
			continue
		}
		records = append(records, rec)
		if update != nil {
			updates = append(updates, *update)
		}
	}
	return records, updates
}

func (p *Projector) absoluteImages(images map[string][]string) map[string][]string {
	out := map[string][]string{"images": {}}
	for role, list := range images {
		urls := make([]string, 0, len(list))
		for _, img := range list {
			urls = append(urls, p.url(img))
		}
		out[role] = urls
	}
	return out
}

func (p *Projector) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return p.baseURL + "/" + strings.TrimLeft(path, "/")
}

func displayName(o *models.Observation, v *models.Viewer) string {
	if o.Owner.IsAnonymous && !privacy.ViewerCan(v, privacy.CapAdminView) {
		return "Anonymous"
	}
	return o.Owner.Name
}

// metaData hides the comment from everyone but the owner.
func metaData(o *models.Observation, v *models.Viewer) map[string]any {
	out := make(map[string]any, len(o.Data))
	for k, val := range o.Data {
		if k == "comment" && !v.Owns(o) {
			continue
		}
		out[k] = val
	}
	return out
}

func title(o *models.Observation) string {
	if o.Category != "Other" {
		return o.Category
	}
	label, _ := o.OtherLabel()
	return fmt.Sprintf("%s (%s)", o.Category, label)
}

func flatten(images map[string][]string) []string {
	var out []string
	for _, role := range []string{"images", "thumbnail"} {
		out = append(out, images[role]...)
	}
	for role, list := range images {
		if role == "images" || role == "thumbnail" {
			continue
		}
		out = append(out, list...)
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
