// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// testImage builds a small deterministic float32 image with two strips
// per band.
func testImage(index, bands int) *Image {
	const width, height = 4, 4
	img := &Image{
		Width:         width,
		Height:        height,
		BitsPerSample: 32,
		SampleFormat:  SampleFormatFloat,
		Compression:   CompressionDeflate,
		RowsPerStrip:  2,
	}
	for b := 0; b < bands; b++ {
		band := make([]byte, width*height*4)
		for i := 0; i < width*height; i++ {
			v := float32(index)*100 + float32(b)*10 + float32(i)
			binary.LittleEndian.PutUint32(band[4*i:], math.Float32bits(v))
		}
		img.Bands = append(img.Bands, band)
	}
	return img
}

func writeBaseline(t *testing.T, path string, dirs, bands int, customize func(i int, img *Image)) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	bw, err := NewBaselineWriter(f)
	require.NoError(t, err)
	for i := 0; i < dirs; i++ {
		img := testImage(i, bands)
		if customize != nil {
			customize(i, img)
		}
		require.NoError(t, bw.Append(img))
	}
	require.NoError(t, bw.Close())
}

type parsedDir struct {
	dir      *Directory
	offsets  []uint32
	lengths  []uint32
	segments [][]byte
}

// parseContainer walks the directory chain and materializes every
// pixel segment.
func parseContainer(t *testing.T, path string) []parsedDir {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	p, next, err := NewParser(f)
	require.NoError(t, err)

	var out []parsedDir
	for next != 0 {
		dir, following, err := p.ReadDirectory(next)
		require.NoError(t, err)

		offsets := dir.Field(TagStripOffsets)
		counts := dir.Field(TagStripByteCounts)
		if offsets == nil {
			offsets = dir.Field(TagTileOffsets)
			counts = dir.Field(TagTileByteCounts)
		}
		require.NotNil(t, offsets)
		require.NotNil(t, counts)

		offs, err := offsets.UnpackOffsets()
		require.NoError(t, err)
		lens, err := counts.UnpackOffsets()
		require.NoError(t, err)

		pd := parsedDir{dir: dir, offsets: offs, lengths: lens}
		for i := range offs {
			data := make([]byte, lens[i])
			_, err := f.Seek(int64(offs[i]), io.SeekStart)
			require.NoError(t, err)
			_, err = io.ReadFull(f, data)
			require.NoError(t, err)
			pd.segments = append(pd.segments, data)
		}
		out = append(out, pd)
		next = following
	}
	return out
}

func optimizeTestFile(t *testing.T, baseline string, bands int) (string, *Stats) {
	t.Helper()
	optimized := baseline + ".opt"
	stats, err := OptimizeFile(baseline, optimized, Options{BandCount: bands})
	require.NoError(t, err)
	return optimized, stats
}

func TestOptimizeRoundTrip(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, baseline, 3, 4, func(i int, img *Image) {
		img.Metadata = fmt.Sprintf("<GDALMetadata>\n  <Item name=\"grid_name\">grid%d</Item>\n</GDALMetadata>\n", i)
		if i == 0 {
			img.Description = "test grids"
			img.Copyright = "public domain"
		}
	})

	optimized, stats := optimizeTestFile(t, baseline, 4)
	require.Equal(t, 3, stats.Directories)
	require.Equal(t, LayoutVerbose, stats.Mode)

	in := parseContainer(t, baseline)
	out := parseContainer(t, optimized)
	require.Len(t, out, len(in))

	// Pixel payload is byte-identical per directory, band and segment
	// ordinal; lengths are preserved verbatim.
	for d := range in {
		require.Equal(t, in[d].lengths, out[d].lengths)
		for s := range in[d].segments {
			require.Equal(t, in[d].segments[s], out[d].segments[s], "directory %d segment %d", d, s)
		}
	}

	// Every field of every directory survives with id/type/count
	// intact.
	for d := range in {
		require.Equal(t, len(in[d].dir.Fields), len(out[d].dir.Fields))
		for i, f := range in[d].dir.Fields {
			g := out[d].dir.Fields[i]
			require.Equal(t, f.ID, g.ID)
			require.Equal(t, f.Type, g.Type)
			require.Equal(t, f.Count, g.Count)
			if f.ID != TagStripOffsets && !f.Inline() {
				require.Equal(t, f.Data, g.Data, "tag %d", f.ID)
			}
		}
	}
}

func TestOptimizeRoleGrouping(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, baseline, 3, 4, nil)
	optimized, _ := optimizeTestFile(t, baseline, 4)

	out := parseContainer(t, optimized)
	var primary, accuracy []uint32
	for _, pd := range out {
		perBand := len(pd.offsets) / 4
		primary = append(primary, pd.offsets[:2*perBand]...)
		accuracy = append(accuracy, pd.offsets[2*perBand:]...)
	}
	// Every shift-band segment precedes every accuracy-band segment in
	// the whole file.
	for _, p := range primary {
		for _, a := range accuracy {
			require.Less(t, p, a)
		}
	}
}

func TestOptimizeDedup(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "base.tif")
	shared := "<GDALMetadata>\n  <Item name=\"TYPE\">HORIZONTAL_OFFSET</Item>\n</GDALMetadata>\n"
	writeBaseline(t, baseline, 4, 2, func(i int, img *Image) {
		img.Metadata = shared
		img.GeoASCII = "NAD27 to NAD83|"
	})

	optimized, stats := optimizeTestFile(t, baseline, 2)
	require.Greater(t, stats.DedupHits, 0)
	require.Greater(t, stats.DedupSavedBytes, int64(0))

	// Identical out-of-line content across directories resolves to a
	// single output copy: all pointers for equal content are equal.
	f, err := os.Open(optimized)
	require.NoError(t, err)
	defer f.Close()
	p, next, err := NewParser(f)
	require.NoError(t, err)

	contentAt := map[string]map[uint32]struct{}{}
	for next != 0 {
		dir, following, err := p.ReadDirectory(next)
		require.NoError(t, err)
		for _, field := range dir.Fields {
			role := RoleOf(field.ID)
			if field.Inline() || role == RoleStrileOffsets || role == RoleStrileByteCounts {
				continue
			}
			if contentAt[string(field.Data)] == nil {
				contentAt[string(field.Data)] = map[uint32]struct{}{}
			}
			contentAt[string(field.Data)][field.Value] = struct{}{}
		}
		next = following
	}
	for content, locations := range contentAt {
		require.Len(t, locations, 1, "content %q stored more than once", content)
	}
}

func TestOptimizeCompactBoundary(t *testing.T) {
	countDescriptive := func(dirs int) int {
		baseline := filepath.Join(t.TempDir(), "base.tif")
		compactor := NewCompactor(LayoutModeFor(dirs))
		writeBaseline(t, baseline, dirs, 2, func(i int, img *Image) {
			if compactor.ShouldEmit(RoleDescriptiveMetadata, i) {
				img.Metadata = fmt.Sprintf("<GDALMetadata>\n  <Item name=\"grid_name\">g%d</Item>\n</GDALMetadata>\n", i)
			}
		})
		optimized, _ := optimizeTestFile(t, baseline, 2)

		n := 0
		for _, pd := range parseContainer(t, optimized) {
			if pd.dir.Field(TagGDALMetadata) != nil {
				n++
			}
		}
		return n
	}

	// At the threshold the metadata is replicated per directory; one
	// past it, only directory 0 carries it.
	require.Equal(t, 50, countDescriptive(50))
	require.Equal(t, 1, countDescriptive(51))
}

func TestOptimizeMetadataSizeMarker(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, baseline, 2, 2, func(i int, img *Image) {
		img.Metadata = "<GDALMetadata>\n  <Item name=\"TYPE\">HORIZONTAL_OFFSET</Item>\n</GDALMetadata>\n"
	})
	optimized, stats := optimizeTestFile(t, baseline, 2)

	raw, err := os.ReadFile(optimized)
	require.NoError(t, err)
	m := regexp.MustCompile(`-- Metadata size: (\d{6}) --\n`).FindSubmatch(raw)
	require.NotNil(t, m, "metadata size marker missing")
	marker, err := strconv.Atoi(string(m[1]))
	require.NoError(t, err)
	require.Equal(t, stats.MetadataSize, int64(marker))

	// The marker is the boundary right past the directory/metadata
	// region: the first strile array payload starts exactly there.
	first := uint32(math.MaxUint32)
	for _, pd := range parseContainer(t, optimized) {
		for _, id := range []uint16{TagStripOffsets, TagStripByteCounts} {
			if f := pd.dir.Field(id); f != nil && f.Value < first {
				first = f.Value
			}
		}
	}
	require.Equal(t, uint32(marker), first)
}

// TestOptimizeTileTags exercises the tile-tagged variant of the strile
// arrays by rewriting the baseline's strip tags in place; the engine
// treats both pairs identically.
func TestOptimizeTileTags(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, baseline, 2, 2, nil)

	f, err := os.OpenFile(baseline, os.O_RDWR, 0)
	require.NoError(t, err)
	var header [8]byte
	_, err = io.ReadFull(f, header[:])
	require.NoError(t, err)
	next := binary.LittleEndian.Uint32(header[4:8])
	for next != 0 {
		_, err = f.Seek(int64(next), io.SeekStart)
		require.NoError(t, err)
		var numTags uint16
		require.NoError(t, binary.Read(f, binary.LittleEndian, &numTags))
		for i := 0; i < int(numTags); i++ {
			entryPos := int64(next) + 2 + int64(i)*12
			_, err = f.Seek(entryPos, io.SeekStart)
			require.NoError(t, err)
			var id uint16
			require.NoError(t, binary.Read(f, binary.LittleEndian, &id))
			var replacement uint16
			switch id {
			case TagStripOffsets:
				replacement = TagTileOffsets
			case TagStripByteCounts:
				replacement = TagTileByteCounts
			default:
				continue
			}
			_, err = f.Seek(entryPos, io.SeekStart)
			require.NoError(t, err)
			require.NoError(t, binary.Write(f, binary.LittleEndian, replacement))
		}
		_, err = f.Seek(int64(next)+2+int64(numTags)*12, io.SeekStart)
		require.NoError(t, err)
		require.NoError(t, binary.Read(f, binary.LittleEndian, &next))
	}
	require.NoError(t, f.Close())

	in := parseContainer(t, baseline)
	optimized, _ := optimizeTestFile(t, baseline, 2)
	out := parseContainer(t, optimized)
	require.Len(t, out, len(in))
	for d := range in {
		require.Equal(t, in[d].segments, out[d].segments)
		require.NotNil(t, out[d].dir.Field(TagTileOffsets))
	}
}

func TestOptimizeBandCountValidation(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "base.tif")
	writeBaseline(t, baseline, 1, 2, nil)
	_, err := OptimizeFile(baseline, baseline+".opt", Options{BandCount: 3})
	require.Error(t, err)
	require.Contains(t, err.Error(), "band count")
}

func TestOptimizeSegmentCountDivisibility(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "base.tif")
	// Three bands yield a segment count no 2- or 4-band layout can
	// group.
	writeBaseline(t, baseline, 1, 3, nil)
	_, err := OptimizeFile(baseline, baseline+".opt", Options{BandCount: 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not divisible by band count")
}

func TestOptimizeBadSignature(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.tif")
	require.NoError(t, os.WriteFile(bad, []byte("MM\x00\x2Anot little endian"), 0644))
	_, err := OptimizeFile(bad, bad+".opt", Options{BandCount: 2})
	require.ErrorIs(t, err, ErrBadSignature)
}

// buildShortStrileContainer hand-assembles a container whose strile
// arrays use 16-bit elements, with cumulative payload sized so the
// rewritten offsets land just past the 16-bit range.
func buildShortStrileContainer(t *testing.T, path string) {
	t.Helper()
	sizes := []uint32{21815, 21815, 21816, 10}
	offsets := make([]uint32, len(sizes))
	cursor := uint32(8 + 2 + 2*12 + 4 + 8 + 8) // header, IFD, both arrays
	for i, size := range sizes {
		offsets[i] = cursor
		cursor += size
	}
	require.LessOrEqual(t, offsets[len(offsets)-1], uint32(0xFFFF))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := func(v interface{}) {
		require.NoError(t, binary.Write(f, binary.LittleEndian, v))
	}
	_, err = f.Write(leMagic[:])
	require.NoError(t, err)
	w(uint32(8)) // first directory

	w(uint16(2)) // field count
	arraysAt := uint32(8 + 2 + 2*12 + 4)
	w(uint16(TagStripOffsets))
	w(TypeShort)
	w(uint32(len(sizes)))
	w(arraysAt)
	w(uint16(TagStripByteCounts))
	w(TypeShort)
	w(uint32(len(sizes)))
	w(arraysAt + 8)
	w(uint32(0)) // terminal chain pointer

	for _, v := range offsets {
		w(uint16(v))
	}
	for _, v := range sizes {
		w(uint16(v))
	}
	for i, size := range sizes {
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i)
		}
		_, err = f.Write(data)
		require.NoError(t, err)
	}
}

func TestOptimizeNarrowOffsetOverflow(t *testing.T) {
	dir := t.TempDir()
	baseline := filepath.Join(dir, "short.tif")
	buildShortStrileContainer(t, baseline)

	// The optimized preamble (banner plus metadata size marker) pushes
	// the last relocated segment past 65535; the conversion must abort
	// rather than truncate.
	_, err := OptimizeFile(baseline, filepath.Join(dir, "short.opt"), Options{BandCount: 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "overflows 16-bit offset array")
}
