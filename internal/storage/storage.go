package storage

import (
	"context"

	"github.com/TreeSnap/Export-Service/internal/configuration"
	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = eris.New("storage: not found")

// Storage is the contract every backing store implements.
type Storage interface {
	CountObservations(ctx context.Context, sel models.Selection) (int64, error)
	// ChunkObservations walks the selection in ascending id order, calling fn
	// with at most size observations at a time.
	ChunkObservations(ctx context.Context, sel models.Selection, size int, fn func([]models.Observation) error) error
	GetObservation(ctx context.Context, id int64) (models.Observation, error)
	SaveFuzzyCoords(ctx context.Context, observationID int64, coords models.Coordinates) error

	GetFilter(ctx context.Context, id int64) (models.Filter, error)
	GetCollection(ctx context.Context, id int64) (models.Collection, error)

	SaveFileArtifact(ctx context.Context, artifact models.FileArtifact) error
	GetFileArtifact(ctx context.Context, id string) (models.FileArtifact, error)
	GetUserArtifacts(ctx context.Context, userID int64) ([]models.FileArtifact, error)
	DeleteUserArtifacts(ctx context.Context, userID int64) (int64, error)
	RecordDownload(ctx context.Context, stat models.DownloadStatistic) error

	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(cfg configuration.DatabaseConfig) (Storage, error) {
	switch cfg.Driver {
	case "local":
		local, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		return local, nil
	case "postgres", "":
		pg := &PostgresStorage{}
		if err := pg.Connect(cfg.ConnectionString()); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, eris.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
