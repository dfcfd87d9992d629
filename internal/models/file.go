package models

import (
	"time"
)

// FileArtifact is a generated export registered for later retrieval.
type FileArtifact struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	UserID     *int64    `json:"user_id"`
	AutoDelete bool      `json:"auto_delete"`
	CreatedAt  time.Time `json:"created_at"`
}

// DownloadStatistic is the write-once audit record appended after an export.
type DownloadStatistic struct {
	UserID            *int64    `json:"user_id"`
	ObservationsCount int64     `json:"observations_count"`
	CreatedAt         time.Time `json:"created_at"`
}
