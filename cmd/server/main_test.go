package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["export"])

	exp, _, err := root.Find([]string{"export"})
	require.NoError(t, err)
	for _, flag := range []string{"filter", "collection", "mine", "viewer", "role", "format", "output"} {
		assert.NotNil(t, exp.Flags().Lookup(flag), flag)
	}
}

func TestExportOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts exportOptions
		ok   bool
	}{
		{"filter", exportOptions{filterID: 1, format: "csv"}, true},
		{"collection tsv", exportOptions{collectionID: 3, format: "TSV"}, true},
		{"mine", exportOptions{mine: true, viewerID: 4, format: "csv"}, true},
		{"no source", exportOptions{format: "csv"}, false},
		{"two sources", exportOptions{filterID: 1, collectionID: 2, format: "csv"}, false},
		{"mine without viewer", exportOptions{mine: true, format: "csv"}, false},
		{"bad format", exportOptions{filterID: 1, format: "xlsx"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestExportOptionsViewer(t *testing.T) {
	assert.Nil(t, (&exportOptions{}).viewer())

	v := (&exportOptions{viewerID: 9, role: "scientist"}).viewer()
	require.NotNil(t, v)
	assert.Equal(t, models.RoleScientist, v.Role)
	assert.Equal(t, models.RoleUser, (&exportOptions{viewerID: 9, role: "root"}).viewer().Role)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n"), 0644))

	dst := filepath.Join(dir, "nested", "out.csv")
	require.NoError(t, copyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(got))
}
