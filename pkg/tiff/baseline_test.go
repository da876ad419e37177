// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

func TestBaselineWriterChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, path, 3, 2, nil)

	dirs := parseContainer(t, path)
	require.Len(t, dirs, 3)
	for _, pd := range dirs {
		require.Len(t, pd.offsets, 4) // 2 bands x 2 strips
		width := pd.dir.Field(TagImageWidth)
		require.NotNil(t, width)
		require.Equal(t, uint32(4), width.Value)
		planar := pd.dir.Field(TagPlanarConfiguration)
		require.NotNil(t, planar)
		require.Equal(t, uint32(PlanarConfigSeparate), planar.Value)
	}
}

func TestBaselineDeflateStrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, path, 1, 2, nil)

	img := testImage(0, 2)
	pd := parseContainer(t, path)[0]

	// Decompressing the strips of a band and concatenating them yields
	// the original band bytes.
	var band0 bytes.Buffer
	for _, segment := range pd.segments[:2] {
		zr, err := zlib.NewReader(bytes.NewReader(segment))
		require.NoError(t, err)
		_, err = io.Copy(&band0, zr)
		require.NoError(t, err)
		require.NoError(t, zr.Close())
	}
	require.Equal(t, img.Bands[0], band0.Bytes())
}

func TestBaselineFirstDirectoryTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, path, 2, 2, func(i int, img *Image) {
		if i == 0 {
			img.Description = "NAD27 to NAD83. Converted from ntv2_0.gsb"
			img.Copyright = "Derived from work by NRCan"
			img.DateTime = "2024:06:01 00:00:00"
		}
	})

	dirs := parseContainer(t, path)
	desc := dirs[0].dir.Field(TagImageDescription)
	require.NotNil(t, desc)
	require.Equal(t, "NAD27 to NAD83. Converted from ntv2_0.gsb\x00", string(desc.Data))
	require.Nil(t, dirs[1].dir.Field(TagImageDescription))
	require.NotNil(t, dirs[0].dir.Field(TagCopyright))
	require.NotNil(t, dirs[0].dir.Field(TagDateTime))
}

func TestBaselineRejectsEmpty(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "empty.tif"))
	require.NoError(t, err)
	defer f.Close()
	bw, err := NewBaselineWriter(f)
	require.NoError(t, err)
	require.Error(t, bw.Close())
}

func TestMetadataEncode(t *testing.T) {
	var md Metadata
	out, err := md.Encode()
	require.NoError(t, err)
	require.Empty(t, out)

	md.Add("TYPE", "HORIZONTAL_OFFSET")
	md.Add("grid_name", "NTv2_0")
	md.AddBand("DESCRIPTION", 0, "description", "latitude_offset")
	md.AddBand("UNITTYPE", 0, "unittype", "arc-second")
	out, err = md.Encode()
	require.NoError(t, err)
	require.Contains(t, out, `<Item name="TYPE">HORIZONTAL_OFFSET</Item>`)
	require.Contains(t, out, `<Item name="DESCRIPTION" sample="0" role="description">latitude_offset</Item>`)
}
