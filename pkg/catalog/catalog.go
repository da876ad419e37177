// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package catalog drives batch conversion of a grid distribution
// directory: its filelist.csv names every grid file together with the
// CRS pair and licensing needed to convert it.
package catalog

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Entry is one row of filelist.csv.
type Entry struct {
	Filename         string
	Type             string
	Unit             string
	SourceCRS        string
	TargetCRS        string
	InterpolationCRS string
	AgencyName       string
	Source           string
	Licence          string
}

// TypeHorizontalOffset marks the grid kind this tool converts. Other
// kinds are listed in the catalog but skipped.
const TypeHorizontalOffset = "HORIZONTAL_OFFSET"

var header = []string{
	"filename", "type", "unit", "source_crs", "target_crs",
	"interpolation_crs", "agency_name", "source", "licence",
}

// Grid files live either next to the catalog or in a regional
// subdirectory.
var searchSubdirs = []string{".", "europe", "north-america", "oceania", "world"}

// Load reads and validates a filelist.csv.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	if len(rows) == 0 {
		return nil, errors.New("catalog is empty")
	}
	if len(rows[0]) != len(header) {
		return nil, errors.Errorf("catalog header has %d columns, want %d", len(rows[0]), len(header))
	}
	for i, want := range header {
		if rows[0][i] != want {
			return nil, errors.Errorf("catalog column %d is %q, want %q", i, rows[0][i], want)
		}
	}

	entries := make([]Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		entries = append(entries, Entry{
			Filename:         row[0],
			Type:             row[1],
			Unit:             row[2],
			SourceCRS:        row[3],
			TargetCRS:        row[4],
			InterpolationCRS: row[5],
			AgencyName:       row[6],
			Source:           row[7],
			Licence:          row[8],
		})
	}
	return entries, nil
}

// Resolve locates the entry's grid file under the distribution root.
func (e *Entry) Resolve(root string) (string, error) {
	for _, subdir := range searchSubdirs {
		candidate := filepath.Join(root, subdir, e.Filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Errorf("grid file %q not found under %s", e.Filename, root)
}

// Copyright renders the attribution embedded in the converted
// container.
func (e *Entry) Copyright() string {
	return "Derived from work by " + e.Source + ". " + e.Licence
}
