package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TreeSnap/Export-Service/cmd/middleware"
	"github.com/TreeSnap/Export-Service/internal/configuration"
	"github.com/TreeSnap/Export-Service/internal/export"
	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/TreeSnap/Export-Service/internal/projection"
	"github.com/TreeSnap/Export-Service/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	objects map[string][]byte
	down    error
}

func (m *memoryObjects) UploadFile(_ context.Context, r io.Reader, _ int64, name, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[name] = data
	return nil
}

func (m *memoryObjects) OpenFile(_ context.Context, name string) (io.ReadCloser, int64, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, 0, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memoryObjects) CheckConnection(context.Context) error { return m.down }

func knoxville() models.Address {
	return models.Address{
		Formatted: "Knoxville, TN, USA",
		Components: []models.AddressComponent{
			{LongName: "Knoxville", ShortName: "Knoxville", Types: []string{storage.TypeCity}},
			{LongName: "Tennessee", ShortName: "TN", Types: []string{storage.TypeState}},
		},
	}
}

func seed(t *testing.T) *storage.LocalStorage {
	t.Helper()
	store, err := storage.NewLocalStorage("")
	require.NoError(t, err)
	date := time.Date(2023, 4, 2, 0, 0, 0, 0, time.UTC)
	store.Seed(
		[]models.Observation{
			{ID: 1, UserID: 10, Category: "Ash", Latitude: 35.96, Longitude: -83.92, Address: knoxville(),
				Owner: models.Owner{ID: 10, Name: "Jane"}, CollectionDate: date,
				Collections: []models.CollectionRef{{ID: 7, Label: "Creek"}}},
			{ID: 2, UserID: 10, Category: "White Oak", IsPrivate: true, Latitude: 36.1, Longitude: -84.2,
				Owner: models.Owner{ID: 10, Name: "Jane"}, CollectionDate: date,
				Collections: []models.CollectionRef{{ID: 7, Label: "Creek"}}},
			{ID: 3, UserID: 11, Category: "Other", Data: map[string]any{"otherLabel": "Sassafras"},
				Owner: models.Owner{ID: 11, Name: "Sam"}, CollectionDate: date,
				Collections: []models.CollectionRef{{ID: 5, Label: "Ridge"}}},
			{ID: 4, UserID: 11, Category: "Ash", IsPrivate: true,
				Owner: models.Owner{ID: 11, Name: "Sam"}, CollectionDate: date},
		},
		[]models.Filter{
			{ID: 1, UserID: 10, Name: "Ash only", IsPublic: true, Rules: models.FilterRules{Categories: []string{"Ash"}}},
			{ID: 2, UserID: 11, Name: "Secret", Rules: models.FilterRules{Categories: []string{"Ash"}}},
		},
		[]models.Collection{
			{ID: 5, Label: "Ridge", UserIDs: []int64{11}},
			{ID: 7, Label: "Creek", UserIDs: []int64{10, 20}},
		},
	)
	return store
}

type fixture struct {
	store   *storage.LocalStorage
	objects *memoryObjects
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := seed(t)
	objects := &memoryObjects{}
	cache := privacy.NewFuzzyCache(privacy.NewFuzzifier(nil), time.Minute)
	lines := export.NewLineBuilder(export.NewLabelSet(configuration.DefaultLabels), cache)
	writer := export.NewWriter(lines, cache, objects, store,
		export.WithTempDir(t.TempDir()),
		export.WithClock(func() time.Time { return time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC) }))
	h := New(store, writer, projection.NewProjector("http://localhost", cache), cache, objects, 2)
	return &fixture{store: store, objects: objects, handler: h}
}

func (f *fixture) router(v *models.Viewer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if v != nil {
			middleware.SetViewer(c, v)
		}
		c.Next()
	})
	h := f.handler
	r.GET("/health", h.HealthCheck)
	r.GET("/observations", h.ListObservations)
	r.GET("/observations/:id", h.ShowObservation)
	r.GET("/admin/observations/:id", RequireCapability(privacy.CapAdminView), h.AdminShowObservation)
	r.GET("/downloads/filters/:id/count", h.FilterCount)
	r.GET("/downloads/filters/:id/:extension", h.FilterExport)
	r.GET("/downloads/collections/:id/:extension", h.CollectionExport)
	r.GET("/downloads/observations/:extension", h.MyObservationsExport)
	r.GET("/files", h.ListFiles)
	r.GET("/files/:id/download", h.DownloadFile)
	return r
}

func do(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

var (
	member    = &models.Viewer{ID: 20, Name: "Pat", Role: models.RoleUser}
	jane      = &models.Viewer{ID: 10, Name: "Jane", Role: models.RoleUser}
	sam       = &models.Viewer{ID: 11, Name: "Sam", Role: models.RoleUser}
	scientist = &models.Viewer{ID: 30, Name: "Dr. Lee", Role: models.RoleScientist}
	admin     = &models.Viewer{ID: 40, Name: "Root", Role: models.RoleAdmin}
)

func TestFilterExportServesAttachment(t *testing.T) {
	f := newFixture(t)
	w := do(f.router(member), "/downloads/filters/1/csv")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Advertised-Count"))
	assert.Equal(t, "1", w.Header().Get("X-Emitted-Count"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Ash_only_01_05_2024.csv")
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ash", rows[1][2])
	assert.Equal(t, "Unique ID", rows[0][0])

	stats := f.store.DownloadStatistics()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].ObservationsCount)
}

func TestScientistExportIncludesPrivateRows(t *testing.T) {
	f := newFixture(t)
	w := do(f.router(scientist), "/downloads/filters/1/tsv")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Emitted-Count"))
	assert.Equal(t, "text/tab-separated-values", w.Header().Get("Content-Type"))
}

func TestExportRejectsExtensionFirst(t *testing.T) {
	f := newFixture(t)
	r := f.router(member)

	for _, path := range []string{
		"/downloads/filters/99/xlsx",
		"/downloads/collections/99/pdf",
		"/downloads/observations/json",
	} {
		w := do(r, path)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, path)
		assert.Equal(t, "Invalid extension", errorBody(t, w), path)
	}
	assert.Empty(t, f.objects.objects)
}

func TestExportErrors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, do(f.router(member), "/downloads/filters/99/csv").Code)
	assert.Equal(t, http.StatusNotFound, do(f.router(member), "/downloads/filters/abc/csv").Code)
	assert.Equal(t, http.StatusForbidden, do(f.router(member), "/downloads/filters/2/csv").Code)
	assert.Equal(t, http.StatusOK, do(f.router(sam), "/downloads/filters/2/csv").Code)
	assert.Equal(t, http.StatusOK, do(f.router(admin), "/downloads/filters/2/csv").Code)

	assert.Equal(t, http.StatusForbidden, do(f.router(member), "/downloads/collections/5/csv").Code)
	assert.Equal(t, http.StatusNotFound, do(f.router(member), "/downloads/collections/6/csv").Code)
}

func TestCollectionExport(t *testing.T) {
	f := newFixture(t)
	w := do(f.router(sam), "/downloads/collections/5/csv")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Emitted-Count"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Ridge_01_05_2024.csv")
}

func TestCollectionExportCountsSkippedRows(t *testing.T) {
	f := newFixture(t)

	// Jane's private row is advertised to another member but left out of the file
	w := do(f.router(member), "/downloads/collections/7/csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Advertised-Count"))
	assert.Equal(t, "1", w.Header().Get("X-Emitted-Count"))

	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ash", rows[1][2])

	stats := f.store.DownloadStatistics()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].ObservationsCount)

	// the owner gets both rows
	w = do(f.router(jane), "/downloads/collections/7/csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Advertised-Count"))
	assert.Equal(t, "2", w.Header().Get("X-Emitted-Count"))
}

func TestMyObservationsExport(t *testing.T) {
	f := newFixture(t)
	r := f.router(jane)

	w := do(r, "/downloads/observations/csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Emitted-Count"))

	w = do(r, "/downloads/observations/csv?category=White+Oak")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Emitted-Count"))

	w = do(r, "/downloads/observations/csv?category=Maple")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = do(r, "/downloads/observations/csv?collection_id=77")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = do(r, "/downloads/observations/csv?collection_id=x")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.Equal(t, http.StatusForbidden, do(f.router(nil), "/downloads/observations/csv").Code)
}

func TestFilterCount(t *testing.T) {
	f := newFixture(t)
	w := do(f.router(member), "/downloads/filters/1/count")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, w.Body.String())
}

func observationIDs(t *testing.T, w *httptest.ResponseRecorder) []int64 {
	t.Helper()
	var records []projection.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestListObservations(t *testing.T) {
	f := newFixture(t)

	w := do(f.router(nil), "/observations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1, 3}, observationIDs(t, w))

	assert.Equal(t, []int64{1, 2, 3}, observationIDs(t, do(f.router(jane), "/observations")))
	// addresses are only projected for viewers allowed the exact location
	assert.Empty(t, observationIDs(t, do(f.router(member), "/observations?search=knox&scope=address")))
	assert.Equal(t, []int64{1}, observationIDs(t, do(f.router(scientist), "/observations?search=knox&scope=address")))
	assert.Equal(t, []int64{3}, observationIDs(t, do(f.router(nil), "/observations?search=sassa")))
	assert.Equal(t, []int64{3}, observationIDs(t, do(f.router(member), "/observations?collection_id=5")))
	assert.Equal(t, http.StatusUnprocessableEntity, do(f.router(nil), "/observations?collection_id=five").Code)
}

func TestListPersistsFuzzyCoordinates(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, do(f.router(nil), "/observations").Code)

	o, err := f.store.GetObservation(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, o.FuzzyCoords)

	var records []projection.Record
	require.NoError(t, json.Unmarshal(do(f.router(nil), "/observations").Body.Bytes(), &records))
	assert.Equal(t, o.FuzzyCoords.Latitude, records[0].Location.Latitude)
}

func TestShowObservation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, do(f.router(nil), "/observations/2").Code)
	assert.Equal(t, http.StatusNotFound, do(f.router(nil), "/observations/404").Code)

	w := do(f.router(jane), "/observations/2")
	require.Equal(t, http.StatusOK, w.Code)
	var rec projection.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 36.1, rec.Location.Latitude)
}

func TestAdminShowRequiresCapability(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusForbidden, do(f.router(scientist), "/admin/observations/1").Code)
	assert.Equal(t, http.StatusForbidden, do(f.router(nil), "/admin/observations/1").Code)
	assert.Equal(t, http.StatusOK, do(f.router(admin), "/admin/observations/4").Code)
}

func TestDownloadFileStreamsArtifact(t *testing.T) {
	f := newFixture(t)
	res := do(f.router(jane), "/downloads/filters/1/csv")
	require.Equal(t, http.StatusOK, res.Code)
	id := res.Header().Get("X-File-Id")
	require.NotEmpty(t, id)

	w := do(f.router(jane), "/files/"+id+"/download")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.Body.String(), w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Ash_only_01_05_2024.csv")

	assert.Equal(t, http.StatusForbidden, do(f.router(sam), "/files/"+id+"/download").Code)
	assert.Equal(t, http.StatusNotFound, do(f.router(jane), "/files/missing/download").Code)
}

func TestListFilesPaginates(t *testing.T) {
	f := newFixture(t)
	r := f.router(jane)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(r, "/downloads/filters/1/csv").Code)
	}

	w := do(r, "/files?page=2&pageSize=2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Files      []models.FileArtifact `json:"files"`
		Total      int                   `json:"total"`
		TotalPages int                   `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Files, 1)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 2, body.TotalPages)

	w = do(r, "/files?page=9223372036854775807&pageSize=2")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Files)
	assert.Equal(t, 3, body.Total)

	assert.Equal(t, http.StatusUnauthorized, do(f.router(nil), "/files").Code)
	w = do(f.router(sam), "/files")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	w := do(f.router(nil), "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	f.objects.down = errors.New("connection refused")
	w = do(f.router(nil), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
