package projection

import (
	"testing"
	"time"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProjector() *Projector {
	return NewProjector("https://treesnap.org/", privacy.NewFuzzyCache(privacy.NewFuzzifier(nil), time.Minute))
}

func sample() models.Observation {
	return models.Observation{
		ID:               5,
		UserID:           10,
		Category:         "Other",
		Data:             map[string]any{"comment": "by the barn", "otherLabel": "Sassafras"},
		Latitude:         35.9606,
		Longitude:        -83.9207,
		LocationAccuracy: 12,
		Address: models.Address{
			Formatted: "Knoxville, TN, USA",
			Components: []models.AddressComponent{
				{LongName: "Knoxville", ShortName: "Knoxville", Types: []string{"locality"}},
			},
		},
		Images:         map[string][]string{"images": {"/storage/images/a.jpg"}, "thumbnail": {"https://cdn.example/t.jpg"}},
		CollectionDate: time.Date(2023, 4, 2, 15, 0, 0, 0, time.UTC),
		Owner:          models.Owner{ID: 10, Name: "Jane", IsAnonymous: true},
		Flags:          []models.Flag{{ID: 1, Reason: "spam"}},
		Collections:    []models.CollectionRef{{ID: 3, Label: "Ridge"}},
	}
}

func TestProjectAnonymousViewerGetsFuzzyLocation(t *testing.T) {
	p := newProjector()
	o := sample()

	rec, update, ok := p.Project(&o, nil, ModeDetail)
	require.True(t, ok)
	require.NotNil(t, update)

	assert.Equal(t, update.Coords.Latitude, rec.Location.Latitude)
	assert.Equal(t, update.Coords.Longitude, rec.Location.Longitude)
	assert.Empty(t, rec.Location.Address.Formatted)
	assert.Empty(t, rec.Location.Address.Components)
	assert.NotContains(t, rec.MetaData, "comment")
	assert.Equal(t, "Sassafras", rec.MetaData["otherLabel"])
	assert.Empty(t, rec.Flags)
	assert.Empty(t, rec.Collections)
	assert.Empty(t, rec.Confirmations)
	assert.Equal(t, "Anonymous", rec.User.Name)
	assert.Equal(t, []string{"https://treesnap.org/storage/images/a.jpg"}, rec.Images["images"])
	assert.Equal(t, []string{"https://cdn.example/t.jpg"}, rec.Images["thumbnail"])
	assert.Equal(t, "2023-04-02T15:00:00Z", rec.Date)
}

func TestProjectReusesComputedCoordinates(t *testing.T) {
	p := newProjector()
	o := sample()

	first, update, _ := p.Project(&o, nil, ModeMap)
	require.NotNil(t, update)
	second, update2, _ := p.Project(&o, nil, ModeMap)
	assert.Nil(t, update2)
	assert.Equal(t, first.Location, second.Location)
}

func TestProjectOwnerSeesEverything(t *testing.T) {
	p := newProjector()
	o := sample()
	owner := &models.Viewer{ID: 10}

	rec, _, ok := p.Project(&o, owner, ModeDetail)
	require.True(t, ok)
	assert.Equal(t, o.Latitude, rec.Location.Latitude)
	assert.Equal(t, "Knoxville, TN, USA", rec.Location.Address.Formatted)
	assert.Equal(t, "by the barn", rec.MetaData["comment"])
	assert.Len(t, rec.Flags, 1)
	assert.Len(t, rec.Collections, 1)
}

func TestProjectAdminModeIsExactButHidesComment(t *testing.T) {
	p := newProjector()
	o := sample()
	admin := &models.Viewer{ID: 1, Role: models.RoleAdmin}

	rec, _, ok := p.Project(&o, admin, ModeAdmin)
	require.True(t, ok)
	assert.Equal(t, o.Longitude, rec.Location.Longitude)
	assert.NotContains(t, rec.MetaData, "comment")
	assert.Equal(t, "Jane", rec.User.Name)
}

func TestProjectAuthenticatedStrangerGetsRelationships(t *testing.T) {
	p := newProjector()
	o := sample()

	rec, _, ok := p.Project(&o, &models.Viewer{ID: 99}, ModeDetail)
	require.True(t, ok)
	assert.Len(t, rec.Flags, 1)
	assert.Empty(t, rec.Location.Address.Formatted)
}

func TestProjectHidesPrivateObservations(t *testing.T) {
	p := newProjector()
	o := sample()
	o.IsPrivate = true

	_, _, ok := p.Project(&o, nil, ModeMap)
	assert.False(t, ok)
	_, _, ok = p.Project(&o, &models.Viewer{ID: 99}, ModeMap)
	assert.False(t, ok)
	_, _, ok = p.Project(&o, &models.Viewer{ID: 99, Role: models.RoleScientist}, ModeMap)
	assert.True(t, ok)
}

func TestProjectMapMode(t *testing.T) {
	p := newProjector()
	o := sample()

	rec, _, ok := p.Project(&o, nil, ModeMap)
	require.True(t, ok)
	assert.Equal(t, "Other (Sassafras)", rec.Title)
	assert.Equal(t, "2023-04-02", rec.Date)
	assert.Equal(t, []string{
		"https://treesnap.org/storage/images/a.jpg",
		"https://cdn.example/t.jpg",
	}, rec.ImageList)
}

func TestProjectAll(t *testing.T) {
	p := newProjector()
	visible := sample()
	hidden := sample()
	hidden.ID = 6
	hidden.IsPrivate = true
	cached := sample()
	cached.ID = 7
	cached.FuzzyCoords = &models.Coordinates{Latitude: 1, Longitude: 2}

	records, updates := p.ProjectAll([]models.Observation{visible, hidden, cached}, nil, ModeMap)
	require.Len(t, records, 2)
	assert.Equal(t, int64(5), records[0].ID)
	assert.Equal(t, int64(7), records[1].ID)
	assert.Equal(t, 1.0, records[1].Location.Latitude)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(5), updates[0].ObservationID)
}
