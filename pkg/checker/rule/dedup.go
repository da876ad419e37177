// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/geodetic-data/gridtiff/pkg/tiff"
)

// DedupRule verifies that deduplicatable auxiliary payloads are stored
// once: two fields with identical bytes must point at the same
// location, and segment arrays must never be shared between
// directories.
type DedupRule struct {
	Target string
}

func (rule *DedupRule) Name() string {
	return "Dedup"
}

func (rule *DedupRule) Validate() error {
	logrus.Infof("Checking metadata deduplication")

	f, err := os.Open(rule.Target)
	if err != nil {
		return errors.Wrap(err, "open target container")
	}
	defer f.Close()

	parser, next, err := tiff.NewParser(f)
	if err != nil {
		return err
	}

	contentAt := map[string]uint32{}
	arrayAt := map[uint32]int{}
	index := 0
	for next != 0 {
		dir, following, err := parser.ReadDirectory(next)
		if err != nil {
			return errors.Wrapf(err, "parse directory %d", index)
		}
		for i := range dir.Fields {
			field := &dir.Fields[i]
			if field.Inline() {
				continue
			}
			switch tiff.RoleOf(field.ID) {
			case tiff.RoleStrileOffsets, tiff.RoleStrileByteCounts:
				if owner, ok := arrayAt[field.Value]; ok && owner != index {
					return errors.Errorf("directory %d: segment array at %d shared with directory %d",
						index, field.Value, owner)
				}
				arrayAt[field.Value] = index
			case tiff.RoleOther:
				if at, ok := contentAt[string(field.Data)]; ok {
					if at != field.Value {
						return errors.Errorf("directory %d: duplicated payload of tag %d stored at both %d and %d",
							index, field.ID, at, field.Value)
					}
				} else {
					contentAt[string(field.Data)] = field.Value
				}
			}
		}
		index++
		next = following
	}

	return nil
}
