package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"time"

	"github.com/TreeSnap/Export-Service/internal/metrics"
	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of observations read per chunk.
const DefaultBatchSize = 800

// CompletedSubject is the event published after an export is registered.
const CompletedSubject = "exports.completed"

// Query is a counted, chunked observation source.
type Query interface {
	Count(ctx context.Context) (int64, error)
	Chunk(ctx context.Context, size int, fn func([]models.Observation) error) error
}

// ArtifactStore keeps finished export files.
type ArtifactStore interface {
	UploadFile(ctx context.Context, reader io.Reader, size int64, objectName, contentType string) error
}

// Registry records finished exports and persists fuzzy coordinates.
type Registry interface {
	privacy.CoordinateSaver
	SaveFileArtifact(ctx context.Context, artifact models.FileArtifact) error
	RecordDownload(ctx context.Context, stat models.DownloadStatistic) error
}

type EventPublisher interface {
	PublishEvent(subject string, payload interface{}) error
}

// Request describes one export.
type Request struct {
	Query  Query
	Viewer *models.Viewer
	Format string
	Label  string
}

// Result describes a finished export. LocalPath is a temporary copy of the
// uploaded file which the caller serves and then removes with Cleanup.
type Result struct {
	Artifact        models.FileArtifact
	ObjectName      string
	DownloadName    string
	Format          Format
	AdvertisedCount int64
	EmittedCount    int64
	Skipped         int64
	LocalPath       string
}

func (r *Result) Cleanup() {
	if r.LocalPath == "" {
		return
	}
	if err := os.Remove(r.LocalPath); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("[EXPORT] failed to remove temp file", zap.String("path", r.LocalPath), zap.Error(err))
	}
}

// CompletedEvent is the payload of CompletedSubject.
type CompletedEvent struct {
	FileID          string `json:"file_id"`
	Path            string `json:"path"`
	Name            string `json:"name"`
	UserID          *int64 `json:"user_id"`
	AdvertisedCount int64  `json:"advertised_count"`
	EmittedCount    int64  `json:"emitted_count"`
}

type Writer struct {
	lines     *LineBuilder
	fuzzy     *privacy.FuzzyCache
	store     ArtifactStore
	registry  Registry
	events    EventPublisher
	metrics   *metrics.ExportMetrics
	batchSize int
	tempDir   string
	now       func() time.Time
}

type WriterOption func(*Writer)

func WithEvents(p EventPublisher) WriterOption {
	return func(w *Writer) { w.events = p }
}

func WithMetrics(m *metrics.ExportMetrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

func WithBatchSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithTempDir(dir string) WriterOption {
	return func(w *Writer) { w.tempDir = dir }
}

func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

func NewWriter(lines *LineBuilder, fuzzy *privacy.FuzzyCache, store ArtifactStore, registry Registry, opts ...WriterOption) *Writer {
	w := &Writer{
		lines:     lines,
		fuzzy:     fuzzy,
		store:     store,
		registry:  registry,
		batchSize: DefaultBatchSize,
		tempDir:   os.TempDir(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Count returns the advertised row count of q.
func (w *Writer) Count(ctx context.Context, q Query) (int64, error) {
	n, err := q.Count(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "export: count observations")
	}
	return n, nil
}

// Export streams the selected observations into a delimited file, uploads it
// and registers it. On failure nothing is uploaded or registered and the
// temporary file is removed.
func (w *Writer) Export(ctx context.Context, req Request) (Result, error) {
	format, err := ParseFormat(req.Format)
	if err != nil {
		return Result{}, err
	}

	started := w.now()
	res, err := w.export(ctx, req, format)
	status := "ok"
	if err != nil {
		status = "error"
	}
	w.metrics.Observe(string(format), status, res.EmittedCount, res.Skipped, w.now().Sub(started))
	return res, err
}

func (w *Writer) export(ctx context.Context, req Request, format Format) (Result, error) {
	res := Result{
		Format:       format,
		ObjectName:   ObjectName(req.Label, format),
		DownloadName: DownloadName(req.Label, format, w.now()),
	}

	advertised, err := w.Count(ctx, req.Query)
	if err != nil {
		return res, err
	}
	res.AdvertisedCount = advertised

	if err := os.MkdirAll(w.tempDir, 0755); err != nil {
		return res, eris.Wrap(err, "export: create temp dir")
	}
	f, err := os.CreateTemp(w.tempDir, "export-*."+string(format))
	if err != nil {
		return res, eris.Wrap(err, "export: create temp file")
	}
	res.LocalPath = f.Name()

	if err := w.writeRows(ctx, f, req, format, &res); err != nil {
		_ = f.Close()
		res.Cleanup()
		res.LocalPath = ""
		return res, err
	}
	if err := f.Close(); err != nil {
		res.Cleanup()
		res.LocalPath = ""
		return res, eris.Wrap(err, "export: close temp file")
	}

	if err := w.upload(ctx, res.LocalPath, res.ObjectName, format); err != nil {
		res.Cleanup()
		res.LocalPath = ""
		return res, err
	}

	res.Artifact = models.FileArtifact{
		ID:         uuid.NewString(),
		Path:       res.ObjectName,
		Name:       res.DownloadName,
		UserID:     req.Viewer.IDPtr(),
		AutoDelete: true,
		CreatedAt:  w.now(),
	}
	if err := w.registry.SaveFileArtifact(ctx, res.Artifact); err != nil {
		res.Cleanup()
		res.LocalPath = ""
		return res, eris.Wrap(err, "export: register artifact")
	}
	if err := w.registry.RecordDownload(ctx, models.DownloadStatistic{
		UserID:            req.Viewer.IDPtr(),
		ObservationsCount: res.EmittedCount,
		CreatedAt:         w.now(),
	}); err != nil {
		// the artifact is registered already; the audit row is the only loss
		zap.L().Error("[EXPORT] failed to record download statistic",
			zap.String("file_id", res.Artifact.ID), zap.Error(err))
	}

	w.publish(res)

	zap.L().Info("[EXPORT] export completed",
		zap.String("file_id", res.Artifact.ID),
		zap.String("path", res.ObjectName),
		zap.Int64("advertised", res.AdvertisedCount),
		zap.Int64("emitted", res.EmittedCount),
		zap.Int64("skipped", res.Skipped))

	return res, nil
}

func (w *Writer) writeRows(ctx context.Context, out io.Writer, req Request, format Format, res *Result) error {
	cw := csv.NewWriter(out)
	cw.Comma = format.Delimiter()

	if err := cw.Write(w.lines.Header()); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	err := req.Query.Chunk(ctx, w.batchSize, func(batch []models.Observation) error {
		for i := range batch {
			line, ok := w.lines.Build(&batch[i], req.Viewer)
			if !ok {
				res.Skipped++
				continue
			}
			if line.Fuzzy != nil {
				w.fuzzy.Persist(ctx, w.registry, *line.Fuzzy)
			}
			if err := cw.Write(line.Fields); err != nil {
				return eris.Wrap(err, "export: write row")
			}
			res.EmittedCount++
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return eris.Wrap(err, "export: iterate observations")
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush rows")
}

func (w *Writer) upload(ctx context.Context, path, objectName string, format Format) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "export: reopen temp file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "export: stat temp file")
	}

	if err := w.store.UploadFile(ctx, f, info.Size(), objectName, format.ContentType()); err != nil {
		return eris.Wrap(err, "export: upload artifact")
	}
	return nil
}

func (w *Writer) publish(res Result) {
	if w.events == nil {
		return
	}
	event := CompletedEvent{
		FileID:          res.Artifact.ID,
		Path:            res.ObjectName,
		Name:            res.DownloadName,
		UserID:          res.Artifact.UserID,
		AdvertisedCount: res.AdvertisedCount,
		EmittedCount:    res.EmittedCount,
	}
	if err := w.events.PublishEvent(CompletedSubject, event); err != nil {
		zap.L().Warn("[EXPORT] failed to publish completion event",
			zap.String("file_id", res.Artifact.ID), zap.Error(err))
	}
}
