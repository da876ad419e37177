// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package grid decodes NTv2 horizontal-shift grid files (.gsb) into
// north-up raster bands plus the descriptive values the converter
// embeds verbatim.
package grid

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// SubGrid is one decoded grid of an NTv2 file. Shift and accuracy
// values are arc-seconds; longitude shifts are converted to the
// positive-east convention. Rasters are row-major, north-up,
// west-to-east.
type SubGrid struct {
	Name   string
	Parent string // empty for top-level grids

	// Created and Updated are the raw 8-character date strings, passed
	// through opaquely; interpreting their ambiguous day/month/year
	// layout is the batch driver's concern.
	Created string
	Updated string

	// Extent in degrees, positive east.
	WestLon  float64
	SouthLat float64
	LonInc   float64
	LatInc   float64

	Cols int
	Rows int

	LatShift    []float32
	LonShift    []float32
	LatAccuracy []float32
	LonAccuracy []float32

	// NestedGrids is the number of grids naming this one as parent.
	NestedGrids int
}

// File is a decoded NTv2 file: its overview values and sub-grids in
// file order (the whole-extent grid first).
type File struct {
	Version string
	GSType  string
	Grids   []*SubGrid
}

const recordSize = 16

type reader struct {
	r     io.Reader
	order binary.ByteOrder
}

// Parse decodes an NTv2 stream. Both byte orders occur in the wild;
// the order is detected from the first header record.
func Parse(r io.Reader) (*File, error) {
	var first [recordSize]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, errors.Wrap(err, "read overview header")
	}
	if name := recordName(first[:]); name != "NUM_OREC" {
		return nil, errors.Errorf("not an NTv2 file: leading record is %q", name)
	}

	var order binary.ByteOrder = binary.LittleEndian
	numOverview := int(int32(binary.LittleEndian.Uint32(first[8:12])))
	if numOverview != 11 {
		be := int(int32(binary.BigEndian.Uint32(first[8:12])))
		if be != 11 {
			return nil, errors.Errorf("unsupported overview record count %d", numOverview)
		}
		order = binary.BigEndian
		numOverview = be
	}

	gr := &reader{r: r, order: order}

	var (
		file     File
		numFiles int
	)
	for i := 1; i < numOverview; i++ {
		name, value, err := gr.record()
		if err != nil {
			return nil, err
		}
		switch name {
		case "NUM_FILE":
			numFiles = int(int32(order.Uint32(value[:4])))
		case "GS_TYPE":
			file.GSType = strings.TrimRight(string(value[:]), " \x00")
		case "VERSION":
			file.Version = strings.TrimRight(string(value[:]), " \x00")
		}
	}
	if numFiles < 1 {
		return nil, errors.Errorf("NTv2 file declares %d sub-grids", numFiles)
	}
	if file.GSType != "SECONDS" {
		return nil, errors.Errorf("unsupported grid shift unit %q", file.GSType)
	}

	children := map[string]int{}
	for i := 0; i < numFiles; i++ {
		sub, err := gr.subGrid()
		if err != nil {
			return nil, errors.Wrapf(err, "decode sub-grid %d", i)
		}
		file.Grids = append(file.Grids, sub)
		if sub.Parent != "" {
			children[sub.Parent]++
		}
	}
	for _, sub := range file.Grids {
		sub.NestedGrids = children[sub.Name]
	}
	return &file, nil
}

// ParseFile decodes an NTv2 file from disk.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open grid file")
	}
	defer f.Close()
	file, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return file, nil
}

func (gr *reader) record() (string, [8]byte, error) {
	var rec [recordSize]byte
	if _, err := io.ReadFull(gr.r, rec[:]); err != nil {
		return "", [8]byte{}, errors.Wrap(err, "read header record")
	}
	var value [8]byte
	copy(value[:], rec[8:])
	return recordName(rec[:]), value, nil
}

func (gr *reader) expectFloat(want string) (float64, error) {
	name, value, err := gr.record()
	if err != nil {
		return 0, err
	}
	if name != want {
		return 0, errors.Errorf("header record %q out of place, want %q", name, want)
	}
	return math.Float64frombits(gr.order.Uint64(value[:])), nil
}

func (gr *reader) expectString(want string) (string, error) {
	name, value, err := gr.record()
	if err != nil {
		return "", err
	}
	if name != want {
		return "", errors.Errorf("header record %q out of place, want %q", name, want)
	}
	return strings.TrimRight(string(value[:]), " \x00"), nil
}

func (gr *reader) subGrid() (*SubGrid, error) {
	sub := &SubGrid{}
	var err error
	if sub.Name, err = gr.expectString("SUB_NAME"); err != nil {
		return nil, err
	}
	if sub.Parent, err = gr.expectString("PARENT"); err != nil {
		return nil, err
	}
	if sub.Parent == "NONE" {
		sub.Parent = ""
	}
	if sub.Created, err = gr.expectString("CREATED"); err != nil {
		return nil, err
	}
	if sub.Updated, err = gr.expectString("UPDATED"); err != nil {
		return nil, err
	}

	// Extent records are arc-seconds with longitudes positive west.
	southLat, err := gr.expectFloat("S_LAT")
	if err != nil {
		return nil, err
	}
	northLat, err := gr.expectFloat("N_LAT")
	if err != nil {
		return nil, err
	}
	eastLon, err := gr.expectFloat("E_LONG")
	if err != nil {
		return nil, err
	}
	westLon, err := gr.expectFloat("W_LONG")
	if err != nil {
		return nil, err
	}
	latInc, err := gr.expectFloat("LAT_INC")
	if err != nil {
		return nil, err
	}
	lonInc, err := gr.expectFloat("LONG_INC")
	if err != nil {
		return nil, err
	}

	name, value, err := gr.record()
	if err != nil {
		return nil, err
	}
	if name != "GS_COUNT" {
		return nil, errors.Errorf("header record %q out of place, want GS_COUNT", name)
	}
	count := int(int32(gr.order.Uint32(value[:4])))

	sub.Rows = int(math.Floor((northLat-southLat)/latInc + 1.5))
	sub.Cols = int(math.Floor((westLon-eastLon)/lonInc + 1.5))
	if sub.Rows < 1 || sub.Cols < 1 || sub.Rows*sub.Cols != count {
		return nil, errors.Errorf("grid %q: %dx%d extent does not match %d nodes",
			sub.Name, sub.Cols, sub.Rows, count)
	}

	sub.SouthLat = southLat / 3600
	sub.LatInc = latInc / 3600
	sub.LonInc = lonInc / 3600
	sub.WestLon = -westLon / 3600 // positive west to positive east

	n := sub.Rows * sub.Cols
	sub.LatShift = make([]float32, n)
	sub.LonShift = make([]float32, n)
	sub.LatAccuracy = make([]float32, n)
	sub.LonAccuracy = make([]float32, n)

	// Nodes run south to north, east to west; the raster is flipped to
	// north-up, west-to-east. Longitude shifts are negated to the
	// positive-east convention.
	node := make([]byte, recordSize)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(gr.r, node); err != nil {
			return nil, errors.Wrapf(err, "read node %d of grid %q", i, sub.Name)
		}
		rowIn := i / sub.Cols
		colIn := i % sub.Cols
		out := (sub.Rows-1-rowIn)*sub.Cols + (sub.Cols - 1 - colIn)

		sub.LatShift[out] = math.Float32frombits(gr.order.Uint32(node[0:4]))
		sub.LonShift[out] = -math.Float32frombits(gr.order.Uint32(node[4:8]))
		sub.LatAccuracy[out] = math.Float32frombits(gr.order.Uint32(node[8:12]))
		sub.LonAccuracy[out] = math.Float32frombits(gr.order.Uint32(node[12:16]))
	}

	return sub, nil
}

// NorthLat returns the latitude of the grid's northern edge in
// degrees.
func (s *SubGrid) NorthLat() float64 {
	return s.SouthLat + float64(s.Rows-1)*s.LatInc
}

func recordName(rec []byte) string {
	return strings.TrimRight(string(rec[:8]), " \x00")
}
