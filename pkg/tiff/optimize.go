// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options configures one re-layout run.
type Options struct {
	// BandCount is the number of samples per grid node: 2 (shift
	// values only) or 4 (shift plus accuracy values). It governs how
	// pixel segments are grouped in the output.
	BandCount int
}

// Stats summarizes one completed re-layout run.
type Stats struct {
	Directories     int
	Mode            LayoutMode
	MetadataSize    int64
	DedupHits       int
	DedupSavedBytes int64
	PixelBytes      int64
}

// Optimize rewrites a baseline container into its optimized layout:
// deduplicated auxiliary payloads, descriptive metadata packed to the
// front, pixel segments grouped by band role so that the shift bands
// of every directory form one contiguous leading region, and all
// 32-bit pointers re-resolved.
//
// The run is strictly sequential: four ordered passes over the same
// output file, sharing one input read cursor and one output write
// cursor. A failed run leaves the output invalid; the caller must
// discard it.
func Optimize(in io.ReadSeeker, out io.WriteSeeker, opts Options) (*Stats, error) {
	if opts.BandCount != 2 && opts.BandCount != 4 {
		return nil, errors.Errorf("band count must be 2 or 4, got %d", opts.BandCount)
	}

	parser, first, err := NewParser(in)
	if err != nil {
		return nil, err
	}

	// The layout mode must be fixed before any directory is emitted,
	// so the chain is counted up front. This also rejects cycles.
	count, err := parser.CountDirectories(first)
	if err != nil {
		return nil, err
	}
	mode := LayoutModeFor(count)

	dedup := NewDedupCache()
	emitter := NewEmitter(out)
	if err := emitter.WriteHeader(); err != nil {
		return nil, err
	}

	// Directory pass: emit every directory record with placeholders,
	// then its auxiliary payloads (strip/tile arrays and later
	// directories' descriptive metadata excluded).
	var dirs []*outDirectory
	next := first
	for next != 0 {
		dir, following, err := parser.ReadDirectory(next)
		if err != nil {
			return nil, err
		}
		od, err := emitter.BeginDirectory(len(dirs), dir, dedup)
		if err != nil {
			return nil, errors.Wrapf(err, "emit directory %d", len(dirs))
		}
		if err := emitter.WriteAux(od, dedup); err != nil {
			return nil, errors.Wrapf(err, "write auxiliary payloads of directory %d", len(dirs))
		}
		dirs = append(dirs, od)
		next = following
	}

	// The marker covers the directory records plus the essential
	// (first-directory) metadata written so far.
	if err := emitter.PatchMetadataSize(); err != nil {
		return nil, err
	}
	metadataSize := emitter.metadataSize

	for _, od := range dirs {
		if err := prepareStriles(od, opts.BandCount); err != nil {
			return nil, err
		}
		if err := emitter.ReserveStrileArrays(od); err != nil {
			return nil, errors.Wrapf(err, "reserve strile arrays of directory %d", od.index)
		}
	}

	for _, od := range dirs {
		if err := emitter.WriteDeferredDescriptive(od); err != nil {
			return nil, err
		}
	}

	// Pixel pass: shift bands of every directory first, accuracy bands
	// after, so a reader interested only in shift values reads one
	// contiguous leading region.
	pixelBytes, err := relocateSegments(in, out, dirs, opts.BandCount)
	if err != nil {
		return nil, err
	}

	for _, od := range dirs {
		if err := emitter.WriteOffsetArray(od); err != nil {
			return nil, err
		}
	}

	if err := emitter.Finalize(); err != nil {
		return nil, err
	}

	// Every placeholder written must have been patched exactly once.
	for _, od := range dirs {
		for _, p := range od.pending {
			if !p.written {
				return nil, errors.Errorf("directory %d: tag %d payload never placed", od.index, p.field.ID)
			}
		}
	}

	return &Stats{
		Directories:     len(dirs),
		Mode:            mode,
		MetadataSize:    metadataSize,
		DedupHits:       dedup.Hits(),
		DedupSavedBytes: dedup.SavedBytes(),
		PixelBytes:      pixelBytes,
	}, nil
}

// OptimizeFile is the file-path variant of Optimize. Both handles are
// released on every exit path; on failure the partially-written output
// is left for the caller to discard.
func OptimizeFile(src, dst string, opts Options) (*Stats, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, "open baseline container")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, errors.Wrap(err, "create optimized container")
	}

	stats, err := Optimize(in, out, opts)
	if err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, errors.Wrap(err, "close optimized container")
	}

	logrus.Infof("optimized %s: %d directories, %d dedup hits (%d bytes saved), %d metadata bytes",
		dst, stats.Directories, stats.DedupHits, stats.DedupSavedBytes, stats.MetadataSize)

	return stats, nil
}

// prepareStriles resolves the directory's strip or tile arrays and
// validates them against the configured band count.
func prepareStriles(od *outDirectory, bands int) error {
	offsets := od.dir.Field(TagStripOffsets)
	counts := od.dir.Field(TagStripByteCounts)
	if offsets == nil {
		offsets = od.dir.Field(TagTileOffsets)
		counts = od.dir.Field(TagTileByteCounts)
	}
	if offsets == nil || counts == nil {
		return errors.Errorf("directory %d: missing strip/tile offset or byte count field", od.index)
	}
	if offsets.Inline() || counts.Inline() {
		return errors.Errorf("directory %d: inline strip/tile arrays are not supported", od.index)
	}
	if offsets.Count != counts.Count {
		return errors.Errorf("directory %d: %d segment offsets but %d byte counts",
			od.index, offsets.Count, counts.Count)
	}
	if int(offsets.Count)%bands != 0 {
		return errors.Errorf("directory %d: segment count %d not divisible by band count %d",
			od.index, offsets.Count, bands)
	}

	in, err := offsets.UnpackOffsets()
	if err != nil {
		return err
	}
	lengths, err := counts.UnpackOffsets()
	if err != nil {
		return err
	}
	od.offsetsIn = in
	od.lengthsIn = lengths
	od.offsetsOut = make([]uint32, offsets.Count)
	return nil
}

// relocateSegments copies every pixel segment from input to output in
// role-grouped order and records each segment's new offset at the
// ordinal index it held on input. Segment bytes are moved verbatim,
// never recoded.
func relocateSegments(in io.ReadSeeker, out io.WriteSeeker, dirs []*outDirectory, bands int) (int64, error) {
	var total int64

	copyBand := func(od *outDirectory, band, ordinal int) error {
		perBand := len(od.offsetsIn) / bands
		idx := perBand*band + ordinal
		if _, err := in.Seek(int64(od.offsetsIn[idx]), io.SeekStart); err != nil {
			return errors.Wrapf(err, "seek segment %d of directory %d", idx, od.index)
		}
		data := make([]byte, od.lengthsIn[idx])
		if _, err := io.ReadFull(in, data); err != nil {
			return errors.Wrapf(err, "read segment %d of directory %d", idx, od.index)
		}
		pos, err := out.Seek(0, io.SeekCurrent)
		if err != nil {
			return errors.Wrap(err, "query output position")
		}
		od.offsetsOut[idx] = uint32(pos)
		if _, err := out.Write(data); err != nil {
			return errors.Wrapf(err, "write segment %d of directory %d", idx, od.index)
		}
		total += int64(len(data))
		return nil
	}

	for _, od := range dirs {
		perBand := len(od.offsetsIn) / bands
		for i := 0; i < perBand; i++ {
			for band := 0; band < 2; band++ {
				if err := copyBand(od, band, i); err != nil {
					return 0, err
				}
			}
		}
	}

	if bands == 4 {
		for _, od := range dirs {
			perBand := len(od.offsetsIn) / bands
			for i := 0; i < perBand; i++ {
				for band := 2; band < 4; band++ {
					if err := copyBand(od, band, i); err != nil {
						return 0, err
					}
				}
			}
		}
	}

	return total, nil
}
