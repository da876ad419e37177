// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"os"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/geodetic-data/gridtiff/pkg/tiff"
)

var metadataSizeMarker = regexp.MustCompile(`-- Metadata size: (\d{6}) --\n`)

// StructureRule validates the layout of an optimized container: the
// signature, the patched metadata size marker, the directory chain,
// and the placement of every auxiliary payload relative to the marker.
type StructureRule struct {
	Target    string
	BandCount int
}

func (rule *StructureRule) Name() string {
	return "Structure"
}

func (rule *StructureRule) Validate() error {
	logrus.Infof("Checking container structure")

	f, err := os.Open(rule.Target)
	if err != nil {
		return errors.Wrap(err, "open target container")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat target container")
	}

	parser, first, err := tiff.NewParser(f)
	if err != nil {
		return err
	}

	head := make([]byte, 128)
	if _, err := f.ReadAt(head, 0); err != nil {
		return errors.Wrap(err, "read container head")
	}
	m := metadataSizeMarker.FindSubmatch(head)
	if m == nil {
		return errors.New("metadata size marker missing from container head")
	}
	metadataSize, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse metadata size marker")
	}
	if metadataSize <= 0 || metadataSize > info.Size() {
		return errors.Errorf("metadata size marker %d outside container of %d bytes",
			metadataSize, info.Size())
	}

	// Walk the chain. Directory records and every deduplicatable
	// auxiliary payload must sit below the marker; the strile arrays
	// and pixel segments above it.
	count := 0
	next := first
	for next != 0 {
		if int64(next) >= metadataSize {
			return errors.Errorf("directory %d at offset %d beyond metadata region of %d bytes",
				count, next, metadataSize)
		}
		dir, following, err := parser.ReadDirectory(next)
		if err != nil {
			return errors.Wrapf(err, "parse directory %d", count)
		}
		if err := rule.validateDirectory(dir, count, metadataSize); err != nil {
			return err
		}
		count++
		next = following
	}
	if count == 0 {
		return errors.New("container has no directories")
	}

	return nil
}

func (rule *StructureRule) validateDirectory(dir *tiff.Directory, index int, metadataSize int64) error {
	offsets := dir.Field(tiff.TagStripOffsets)
	counts := dir.Field(tiff.TagStripByteCounts)
	if offsets == nil {
		offsets = dir.Field(tiff.TagTileOffsets)
		counts = dir.Field(tiff.TagTileByteCounts)
	}
	if offsets == nil || counts == nil {
		return errors.Errorf("directory %d: missing segment offset or byte count field", index)
	}
	if offsets.Count != counts.Count {
		return errors.Errorf("directory %d: %d segment offsets but %d byte counts",
			index, offsets.Count, counts.Count)
	}
	if int(offsets.Count)%rule.BandCount != 0 {
		return errors.Errorf("directory %d: segment count %d not divisible by band count %d",
			index, offsets.Count, rule.BandCount)
	}

	for i := range dir.Fields {
		field := &dir.Fields[i]
		if field.Inline() {
			continue
		}
		switch tiff.RoleOf(field.ID) {
		case tiff.RoleStrileOffsets, tiff.RoleStrileByteCounts:
			if int64(field.Value) < metadataSize {
				return errors.Errorf("directory %d: segment array of tag %d at %d inside metadata region",
					index, field.ID, field.Value)
			}
		case tiff.RoleDescriptiveMetadata:
			// Later directories' blocks are deferred past the marker;
			// no placement constraint.
		default:
			if int64(field.Value)+int64(field.Size()) > metadataSize {
				return errors.Errorf("directory %d: payload of tag %d at %d beyond metadata region",
					index, field.ID, field.Value)
			}
		}
	}
	return nil
}
