// Package command holds the write-side operations that span several stores.
package command

import (
	"context"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type ArtifactRecords interface {
	GetUserArtifacts(ctx context.Context, userID int64) ([]models.FileArtifact, error)
	DeleteUserArtifacts(ctx context.Context, userID int64) (int64, error)
}

type ObjectRemover interface {
	DeleteFiles(ctx context.Context, objectNames []string) error
}

// PurgeUserArtifacts removes every export a user generated, objects first so
// a failure leaves the records in place for a retry.
func PurgeUserArtifacts(ctx context.Context, records ArtifactRecords, objects ObjectRemover, userID int64) (int64, error) {
	files, err := records.GetUserArtifacts(ctx, userID)
	if err != nil {
		return 0, eris.Wrap(err, "command: list user artifacts")
	}
	if len(files) == 0 {
		zap.L().Info("[EXPORT] no artifacts to purge", zap.Int64("user_id", userID))
		return 0, nil
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	if objects != nil {
		if err := objects.DeleteFiles(ctx, paths); err != nil {
			return 0, eris.Wrap(err, "command: delete artifact objects")
		}
	}

	deleted, err := records.DeleteUserArtifacts(ctx, userID)
	if err != nil {
		return 0, eris.Wrap(err, "command: delete artifact records")
	}
	zap.L().Info("[EXPORT] purged user artifacts", zap.Int64("user_id", userID), zap.Int64("count", deleted))
	return deleted, nil
}

// SaveFuzzyUpdates persists coordinates drawn while projecting observations.
func SaveFuzzyUpdates(ctx context.Context, cache *privacy.FuzzyCache, saver privacy.CoordinateSaver, updates []privacy.FuzzyUpdate) {
	for _, u := range updates {
		cache.Persist(ctx, saver, u)
	}
}
