// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/geodetic-data/gridtiff/pkg/tiff"
)

// PixelRule verifies that the re-layout moved every pixel segment
// verbatim, and that the output groups the shift bands of all
// directories ahead of the accuracy bands.
type PixelRule struct {
	Baseline  string
	Target    string
	BandCount int
}

func (rule *PixelRule) Name() string {
	return "Pixel"
}

type parsedChain struct {
	f    *os.File
	dirs []*tiff.Directory
}

func parseChain(path string) (*parsedChain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open container")
	}
	parser, next, err := tiff.NewParser(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	chain := &parsedChain{f: f}
	for next != 0 {
		dir, following, err := parser.ReadDirectory(next)
		if err != nil {
			f.Close()
			return nil, err
		}
		chain.dirs = append(chain.dirs, dir)
		next = following
	}
	return chain, nil
}

func (c *parsedChain) segments(index int) ([]uint32, []uint32, error) {
	dir := c.dirs[index]
	offsets := dir.Field(tiff.TagStripOffsets)
	counts := dir.Field(tiff.TagStripByteCounts)
	if offsets == nil {
		offsets = dir.Field(tiff.TagTileOffsets)
		counts = dir.Field(tiff.TagTileByteCounts)
	}
	if offsets == nil || counts == nil {
		return nil, nil, errors.Errorf("directory %d: missing segment arrays", index)
	}
	offs, err := offsets.UnpackOffsets()
	if err != nil {
		return nil, nil, err
	}
	lens, err := counts.UnpackOffsets()
	if err != nil {
		return nil, nil, err
	}
	return offs, lens, nil
}

func (c *parsedChain) read(offset, length uint32) ([]byte, error) {
	data := make([]byte, length)
	if _, err := c.f.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(c.f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (rule *PixelRule) Validate() error {
	logrus.Infof("Checking pixel fidelity")

	baseline, err := parseChain(rule.Baseline)
	if err != nil {
		return errors.Wrap(err, "parse baseline container")
	}
	defer baseline.f.Close()
	target, err := parseChain(rule.Target)
	if err != nil {
		return errors.Wrap(err, "parse target container")
	}
	defer target.f.Close()

	if len(baseline.dirs) != len(target.dirs) {
		return errors.Errorf("baseline has %d directories, target has %d",
			len(baseline.dirs), len(target.dirs))
	}

	var shiftOffsets, accuracyOffsets []uint32
	for index := range target.dirs {
		srcOffs, srcLens, err := baseline.segments(index)
		if err != nil {
			return err
		}
		dstOffs, dstLens, err := target.segments(index)
		if err != nil {
			return err
		}
		if len(srcOffs) != len(dstOffs) {
			return errors.Errorf("directory %d: segment count changed from %d to %d",
				index, len(srcOffs), len(dstOffs))
		}

		perBand := len(dstOffs) / rule.BandCount
		for i := range dstOffs {
			if srcLens[i] != dstLens[i] {
				return errors.Errorf("directory %d: segment %d size changed from %d to %d",
					index, i, srcLens[i], dstLens[i])
			}
			src, err := baseline.read(srcOffs[i], srcLens[i])
			if err != nil {
				return errors.Wrapf(err, "read baseline segment %d of directory %d", i, index)
			}
			dst, err := target.read(dstOffs[i], dstLens[i])
			if err != nil {
				return errors.Wrapf(err, "read target segment %d of directory %d", i, index)
			}
			if !bytes.Equal(src, dst) {
				return errors.Errorf("directory %d: segment %d bytes changed by re-layout", index, i)
			}
			if i/perBand < 2 {
				shiftOffsets = append(shiftOffsets, dstOffs[i])
			} else {
				accuracyOffsets = append(accuracyOffsets, dstOffs[i])
			}
		}
	}

	// Shift segments of every directory must precede every accuracy
	// segment.
	for _, shift := range shiftOffsets {
		for _, accuracy := range accuracyOffsets {
			if shift >= accuracy {
				return errors.Errorf("shift segment at %d not ahead of accuracy segment at %d",
					shift, accuracy)
			}
		}
	}

	return nil
}
