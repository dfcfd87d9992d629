package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/TreeSnap/Export-Service/internal/export"
	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/services/query"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type exportOptions struct {
	filterID     int64
	collectionID int64
	mine         bool
	viewerID     int64
	role         string
	format       string
	output       string
}

func (o *exportOptions) validate() error {
	sources := 0
	if o.filterID > 0 {
		sources++
	}
	if o.collectionID > 0 {
		sources++
	}
	if o.mine {
		sources++
	}
	if sources != 1 {
		return eris.New("exactly one of --filter, --collection or --mine is required")
	}
	if o.mine && o.viewerID <= 0 {
		return eris.New("--mine needs --viewer")
	}
	if _, err := export.ParseFormat(o.format); err != nil {
		return err
	}
	return nil
}

// viewer is who the rows are redacted for. Without --viewer the export is
// built for an anonymous requester.
func (o *exportOptions) viewer() *models.Viewer {
	if o.viewerID <= 0 {
		return nil
	}
	return &models.Viewer{ID: o.viewerID, Role: models.ParseRole(o.role)}
}

func newExportCmd(a *app) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Generate an export file without going through the API",
		PreRunE: func(*cobra.Command, []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExport(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.Int64Var(&opts.filterID, "filter", 0, "saved filter id")
	f.Int64Var(&opts.collectionID, "collection", 0, "collection id")
	f.BoolVar(&opts.mine, "mine", false, "export the viewer's own observations")
	f.Int64Var(&opts.viewerID, "viewer", 0, "user id the export is redacted for")
	f.StringVar(&opts.role, "role", string(models.RoleUser), "role of the viewer: user, scientist or admin")
	f.StringVar(&opts.format, "format", string(export.FormatCSV), "csv or tsv")
	f.StringVarP(&opts.output, "output", "o", "", "copy the generated file to this path")
	return cmd
}

func (a *app) runExport(ctx context.Context, opts *exportOptions) error {
	p, err := a.buildPipeline(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer p.store.Close()

	v := opts.viewer()
	q := query.NewObservations(p.store)

	var src query.Source
	switch {
	case opts.filterID > 0:
		src, err = q.ForFilter(ctx, opts.filterID, v)
	case opts.collectionID > 0:
		src, err = q.ForCollection(ctx, opts.collectionID, v)
	default:
		src, err = q.ForUser(ctx, v, query.UserExportParams{})
	}
	if err != nil {
		return err
	}

	res, err := p.writer.Export(ctx, export.Request{Query: src.Query, Viewer: v, Format: opts.format, Label: src.Label})
	if err != nil {
		return err
	}
	defer res.Cleanup()

	output := opts.output
	if output == "" {
		output = res.DownloadName
	}
	if err := copyFile(res.LocalPath, output); err != nil {
		return err
	}

	zap.L().Info("[EXPORT] written",
		zap.String("path", output),
		zap.String("file_id", res.Artifact.ID),
		zap.Int64("advertised", res.AdvertisedCount),
		zap.Int64("emitted", res.EmittedCount))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrap(err, "export: open generated file")
	}
	defer in.Close()

	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return eris.Wrap(err, "export: create output directory")
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrap(err, "export: create output")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return eris.Wrap(err, "export: copy output")
	}
	return eris.Wrap(out.Close(), "export: close output")
}
