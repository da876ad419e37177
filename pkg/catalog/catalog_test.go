// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCatalog = `filename,type,unit,source_crs,target_crs,interpolation_crs,agency_name,source,licence
ntv2_0.gsb,HORIZONTAL_OFFSET,arc-second,EPSG:4267,EPSG:4269,,NRCan,Natural Resources Canada,Open Government Licence - Canada
egm96_15.gtx,VERTICAL_OFFSET_GEOGRAPHIC_TO_VERTICAL,metre,EPSG:4326,EPSG:5773,,NGA,NGA,Public domain
`

func writeCatalog(t *testing.T, dir, content string) string {
	path := filepath.Join(dir, "filelist.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	entries, err := Load(writeCatalog(t, dir, testCatalog))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "ntv2_0.gsb", entries[0].Filename)
	require.Equal(t, TypeHorizontalOffset, entries[0].Type)
	require.Equal(t, "EPSG:4267", entries[0].SourceCRS)
	require.Equal(t, "EPSG:4269", entries[0].TargetCRS)
	require.Equal(t,
		"Derived from work by Natural Resources Canada. Open Government Licence - Canada",
		entries[0].Copyright())

	require.Equal(t, "VERTICAL_OFFSET_GEOGRAPHIC_TO_VERTICAL", entries[1].Type)
}

func TestLoadRejectsBadHeader(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(writeCatalog(t, dir, "filename,type\nx.gsb,HORIZONTAL_OFFSET\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "columns")

	mangled := "filename,kind,unit,source_crs,target_crs,interpolation_crs,agency_name,source,licence\n"
	_, err = Load(writeCatalog(t, dir, mangled))
	require.Error(t, err)
	require.Contains(t, err.Error(), `"kind"`)
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "north-america"), 0755))
	gridPath := filepath.Join(root, "north-america", "ntv2_0.gsb")
	require.NoError(t, os.WriteFile(gridPath, []byte("x"), 0644))

	entry := Entry{Filename: "ntv2_0.gsb"}
	resolved, err := entry.Resolve(root)
	require.NoError(t, err)
	require.Equal(t, gridPath, resolved)

	missing := Entry{Filename: "nope.gsb"}
	_, err = missing.Resolve(root)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestRunRejectsEmptyCatalog(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root,
		"filename,type,unit,source_crs,target_crs,interpolation_crs,agency_name,source,licence\n")
	err := Run(context.Background(), BatchOpt{Root: root, OutDir: root})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no horizontal-offset grids")
}
