package storage

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// localData is the on-disk layout of a LocalStorage file.
type localData struct {
	Observations       []models.Observation       `json:"observations"`
	Filters            []models.Filter            `json:"filters"`
	Collections        []models.Collection        `json:"collections"`
	Files              []models.FileArtifact      `json:"files"`
	DownloadStatistics []models.DownloadStatistic `json:"download_statistics"`
}

// LocalStorage implements Storage on top of a single JSON file. It backs
// development setups and tests.
type LocalStorage struct {
	path string
	mu   sync.RWMutex
	data localData
}

// NewLocalStorage loads path if it exists, otherwise starts empty. An empty
// path keeps everything in memory.
func NewLocalStorage(path string) (*LocalStorage, error) {
	l := &LocalStorage{path: path}
	if path == "" {
		return l, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "storage: read local file")
	}
	if err := json.Unmarshal(raw, &l.data); err != nil {
		return nil, eris.Wrap(err, "storage: parse local file")
	}

	sort.Slice(l.data.Observations, func(i, j int) bool {
		return l.data.Observations[i].ID < l.data.Observations[j].ID
	})
	zap.L().Info("[DB] loaded local store",
		zap.String("path", path),
		zap.Int("observations", len(l.data.Observations)),
		zap.Int("files", len(l.data.Files)))
	return l, nil
}

// Seed replaces the observations, filters and collections held in memory.
func (l *LocalStorage) Seed(obs []models.Observation, filters []models.Filter, collections []models.Collection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Observations = append([]models.Observation(nil), obs...)
	sort.Slice(l.data.Observations, func(i, j int) bool {
		return l.data.Observations[i].ID < l.data.Observations[j].ID
	})
	l.data.Filters = append([]models.Filter(nil), filters...)
	l.data.Collections = append([]models.Collection(nil), collections...)
}

// saveToFile writes the store to disk through a temp file and rename.
// Callers hold the write lock.
func (l *LocalStorage) saveToFile() error {
	if l.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return eris.Wrap(err, "storage: marshal local file")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return eris.Wrap(err, "storage: write local file")
	}
	return eris.Wrap(os.Rename(tmp, l.path), "storage: rename local file")
}

func (l *LocalStorage) CountObservations(ctx context.Context, sel models.Selection) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var n int64
	for i := range l.data.Observations {
		if Matches(sel, &l.data.Observations[i]) {
			n++
		}
	}
	return n, ctx.Err()
}

func (l *LocalStorage) ChunkObservations(ctx context.Context, sel models.Selection, size int, fn func([]models.Observation) error) error {
	if size <= 0 {
		return eris.New("storage: chunk size must be positive")
	}

	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := l.nextBatch(sel, lastID, size)
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < size {
			return nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

// nextBatch copies up to size matching observations with id > after, so fn
// runs without the lock held.
func (l *LocalStorage) nextBatch(sel models.Selection, after int64, size int) []models.Observation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	batch := make([]models.Observation, 0, size)
	for i := range l.data.Observations {
		o := &l.data.Observations[i]
		if o.ID <= after || !Matches(sel, o) {
			continue
		}
		batch = append(batch, *o)
		if len(batch) == size {
			break
		}
	}
	return batch
}

func (l *LocalStorage) GetObservation(_ context.Context, id int64) (models.Observation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, o := range l.data.Observations {
		if o.ID == id {
			return o, nil
		}
	}
	return models.Observation{}, eris.Wrapf(ErrNotFound, "storage: observation %d", id)
}

func (l *LocalStorage) SaveFuzzyCoords(_ context.Context, observationID int64, coords models.Coordinates) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.data.Observations {
		if l.data.Observations[i].ID == observationID {
			c := coords
			l.data.Observations[i].FuzzyCoords = &c
			return l.saveToFile()
		}
	}
	return eris.Wrapf(ErrNotFound, "storage: observation %d", observationID)
}

func (l *LocalStorage) GetFilter(_ context.Context, id int64) (models.Filter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, f := range l.data.Filters {
		if f.ID == id {
			return f, nil
		}
	}
	return models.Filter{}, eris.Wrapf(ErrNotFound, "storage: filter %d", id)
}

func (l *LocalStorage) GetCollection(_ context.Context, id int64) (models.Collection, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.data.Collections {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Collection{}, eris.Wrapf(ErrNotFound, "storage: collection %d", id)
}

func (l *LocalStorage) SaveFileArtifact(_ context.Context, artifact models.FileArtifact) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data.Files = append(l.data.Files, artifact)
	if err := l.saveToFile(); err != nil {
		// keep memory consistent with disk
		l.data.Files = l.data.Files[:len(l.data.Files)-1]
		return err
	}
	return nil
}

func (l *LocalStorage) GetFileArtifact(_ context.Context, id string) (models.FileArtifact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, f := range l.data.Files {
		if f.ID == id {
			return f, nil
		}
	}
	return models.FileArtifact{}, eris.Wrapf(ErrNotFound, "storage: file %s", id)
}

func (l *LocalStorage) GetUserArtifacts(_ context.Context, userID int64) ([]models.FileArtifact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var files []models.FileArtifact
	for _, f := range l.data.Files {
		if f.UserID != nil && *f.UserID == userID {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

func (l *LocalStorage) DeleteUserArtifacts(_ context.Context, userID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.data.Files[:0]
	var deleted int64
	for _, f := range l.data.Files {
		if f.UserID != nil && *f.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, f)
	}
	l.data.Files = kept
	if deleted == 0 {
		return 0, nil
	}
	return deleted, l.saveToFile()
}

func (l *LocalStorage) RecordDownload(_ context.Context, stat models.DownloadStatistic) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.DownloadStatistics = append(l.data.DownloadStatistics, stat)
	return l.saveToFile()
}

// DownloadStatistics returns a copy of the recorded statistics.
func (l *LocalStorage) DownloadStatistics() []models.DownloadStatistic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.DownloadStatistic(nil), l.data.DownloadStatistics...)
}

func (l *LocalStorage) Ping(context.Context) error { return nil }

func (l *LocalStorage) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveToFile()
}
