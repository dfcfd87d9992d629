package main

import (
	"context"
	"time"

	"github.com/TreeSnap/Export-Service/internal/configuration"
	"github.com/TreeSnap/Export-Service/internal/export"
	"github.com/TreeSnap/Export-Service/internal/metrics"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/TreeSnap/Export-Service/internal/services"
	"github.com/TreeSnap/Export-Service/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries the loaded configuration from the root command to subcommands.
type app struct {
	cfg *configuration.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "export-service",
		Short:         "Privacy-preserving observation exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configuration.Load()
			if err != nil {
				return err
			}
			if err := configuration.InitLogger(cfg.Log); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = zap.L().Sync()
		},
	}
	root.AddCommand(newServeCmd(a), newExportCmd(a))
	return root
}

// pipeline is the export machinery shared by the server and the CLI.
type pipeline struct {
	store  storage.Storage
	minio  *services.MinioService
	fuzzy  *privacy.FuzzyCache
	writer *export.Writer
}

func (a *app) buildPipeline(ctx context.Context, m *metrics.ExportMetrics, events export.EventPublisher) (*pipeline, error) {
	store, err := storage.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	minioSvc, err := services.NewMinioService(ctx, a.cfg.MinIO)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ttl := time.Duration(a.cfg.Cache.FuzzyTTLMinutes) * time.Minute
	fuzzy := privacy.NewFuzzyCache(privacy.NewFuzzifier(nil), ttl)

	opts := []export.WriterOption{
		export.WithBatchSize(a.cfg.Export.BatchSize),
		export.WithTempDir(a.cfg.Export.TempDir),
		export.WithMetrics(m),
	}
	if events != nil {
		opts = append(opts, export.WithEvents(events))
	}
	lines := export.NewLineBuilder(export.NewLabelSet(a.cfg.Export.Labels), fuzzy)

	return &pipeline{
		store:  store,
		minio:  minioSvc,
		fuzzy:  fuzzy,
		writer: export.NewWriter(lines, fuzzy, minioSvc, store, opts...),
	}, nil
}
