// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package converter turns one NTv2 grid file into an optimized
// single-file container: decode, write a baseline multi-directory
// container, re-layout it, verify the result, and optionally publish
// it to a storage backend.
package converter

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/geodetic-data/gridtiff/pkg/backend"
	"github.com/geodetic-data/gridtiff/pkg/checker"
	"github.com/geodetic-data/gridtiff/pkg/grid"
	"github.com/geodetic-data/gridtiff/pkg/metrics"
	"github.com/geodetic-data/gridtiff/pkg/tiff"
	"github.com/geodetic-data/gridtiff/pkg/utils"
)

type Opt struct {
	Source string
	Dest   string

	// WorkDir holds the intermediate baseline container. Defaults to
	// the destination's directory.
	WorkDir string

	SourceCRS   string
	TargetCRS   string
	Copyright   string
	Description string

	// DateTime is embedded in the document date tag as
	// "YYYY:MM:DD HH:MM:SS". Empty means now, "NONE" omits the tag.
	DateTime string

	// NoAccuracySamples drops the two accuracy bands, halving the
	// output to shift values only.
	NoAccuracySamples bool

	// UInt16Encoding stores samples as linearly scaled 16-bit integers
	// instead of 32-bit floats.
	UInt16Encoding bool

	BackendType      string
	BackendConfig    string
	BackendForcePush bool
}

// Result describes one finished conversion.
type Result struct {
	Path   string
	Digest digest.Digest
	Grids  int
	Stats  *tiff.Stats
}

// Convert runs the full pipeline for one grid file.
func Convert(ctx context.Context, opt Opt) (*Result, error) {
	start := time.Now()
	sourceBase := filepath.Base(opt.Source)

	file, err := grid.ParseFile(opt.Source)
	if err != nil {
		return nil, err
	}
	logrus.Infof("decoded %s: %d sub-grids, version %q", sourceBase, len(file.Grids), file.Version)

	bands := 4
	if opt.NoAccuracySamples {
		bands = 2
	}

	workDir := opt.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(opt.Dest)
	}
	tmpPath := filepath.Join(workDir,
		fmt.Sprintf("%s.%s.tmp", filepath.Base(opt.Dest), uuid.NewString()[:8]))
	defer os.Remove(tmpPath)

	if err := writeBaseline(tmpPath, file, bands, opt); err != nil {
		return nil, err
	}

	stats, err := tiff.OptimizeFile(tmpPath, opt.Dest, tiff.Options{BandCount: bands})
	if err != nil {
		os.Remove(opt.Dest)
		return nil, err
	}

	ck, err := checker.New(checker.Opt{
		Baseline:  tmpPath,
		Target:    opt.Dest,
		BandCount: bands,
	})
	if err != nil {
		os.Remove(opt.Dest)
		return nil, err
	}
	if err := ck.Check(ctx); err != nil {
		os.Remove(opt.Dest)
		return nil, errors.Wrapf(err, "verify %s", opt.Dest)
	}

	dgst, err := containerDigest(opt.Dest)
	if err != nil {
		return nil, err
	}

	metrics.ConversionCount(sourceBase)
	metrics.ConversionDuration(sourceBase, len(file.Grids), start)
	metrics.DedupSavedBytes(sourceBase, stats.DedupSavedBytes)

	result := &Result{
		Path:   opt.Dest,
		Digest: dgst,
		Grids:  len(file.Grids),
		Stats:  stats,
	}

	if opt.BackendType != "" {
		if err := publish(ctx, opt, result); err != nil {
			return nil, err
		}
	}

	logrus.Infof("converted %s to %s (%s), costs %s", sourceBase, opt.Dest, dgst, time.Since(start))
	return result, nil
}

func publish(ctx context.Context, opt Opt, result *Result) error {
	bknd, err := backend.NewBackend(opt.BackendType, []byte(opt.BackendConfig))
	if err != nil {
		return err
	}
	info, err := os.Stat(result.Path)
	if err != nil {
		return errors.Wrap(err, "stat container")
	}
	var artifact *backend.Artifact
	if err := utils.WithRetry(func() error {
		artifact, err = bknd.Upload(ctx, filepath.Base(result.Path), result.Path, info.Size(), opt.BackendForcePush)
		return err
	}); err != nil {
		return errors.Wrap(err, "upload container")
	}
	if artifact.URL != "" {
		logrus.Infof("published %s to %s", artifact.Name, artifact.URL)
	}
	return nil
}

func containerDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open container for digest")
	}
	defer f.Close()
	dgst, err := digest.Canonical.FromReader(f)
	if err != nil {
		return "", errors.Wrap(err, "digest container")
	}
	return dgst, nil
}

// writeBaseline renders every sub-grid into a naive multi-directory
// container, descriptive metadata replicated or suppressed according
// to the layout mode of the final container.
func writeBaseline(path string, file *grid.File, bands int, opt Opt) error {
	compactor := tiff.NewCompactor(tiff.LayoutModeFor(len(file.Grids)))

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create baseline container")
	}
	defer out.Close()

	bw, err := tiff.NewBaselineWriter(out)
	if err != nil {
		return err
	}
	for idx, sub := range file.Grids {
		img, err := buildImage(sub, idx, file, bands, compactor, opt)
		if err != nil {
			return errors.Wrapf(err, "render sub-grid %q", sub.Name)
		}
		if err := bw.Append(img); err != nil {
			return errors.Wrapf(err, "append sub-grid %q", sub.Name)
		}
	}
	return bw.Close()
}

func buildImage(sub *grid.SubGrid, idx int, file *grid.File, bands int, compactor tiff.Compactor, opt Opt) (*tiff.Image, error) {
	img := &tiff.Image{
		Width:       sub.Cols,
		Height:      sub.Rows,
		Compression: tiff.CompressionDeflate,
	}

	// Small grids keep one strip per band; large ones are split so a
	// remote reader never fetches more than a bounded block.
	img.RowsPerStrip = sub.Rows
	if sub.Rows > 256 && sub.Cols > 256 {
		img.RowsPerStrip = 256
	}

	rasters := [][]float32{sub.LatShift, sub.LonShift}
	if bands == 4 {
		rasters = append(rasters, sub.LatAccuracy, sub.LonAccuracy)
	}

	md := &tiff.Metadata{}
	md.Add("AREA_OR_POINT", "Point")
	md.Add("TYPE", "HORIZONTAL_OFFSET")
	md.Add("grid_name", sub.Name)
	if sub.Parent != "" {
		md.Add("parent_name", sub.Parent)
	}
	if sub.NestedGrids > 0 {
		md.Add("number_of_nested_grids", strconv.Itoa(sub.NestedGrids))
	}

	describeBands := compactor.ShouldEmit(tiff.RoleDescriptiveMetadata, idx)
	if describeBands {
		if code, ok := epsgCode(opt.TargetCRS); ok {
			md.Add("target_crs_epsg_code", strconv.Itoa(code))
		} else {
			md.Add("target_crs_wkt", opt.TargetCRS)
		}
	}

	if opt.UInt16Encoding {
		img.BitsPerSample = 16
		img.SampleFormat = tiff.SampleFormatUint
		for i, raster := range rasters {
			data, offset, scale := scaleToUint16(raster)
			img.Bands = append(img.Bands, data)
			md.AddBand("OFFSET", i, "offset", formatFloat(offset))
			md.AddBand("SCALE", i, "scale", formatFloat(scale))
		}
	} else {
		img.BitsPerSample = 32
		img.SampleFormat = tiff.SampleFormatFloat
		for _, raster := range rasters {
			img.Bands = append(img.Bands, packFloats(raster))
		}
	}

	if describeBands {
		md.AddBand("DESCRIPTION", 0, "description", "latitude_offset")
		md.AddBand("UNITTYPE", 0, "unittype", "arc-second")
		md.AddBand("DESCRIPTION", 1, "description", "longitude_offset")
		md.AddBand("UNITTYPE", 1, "unittype", "arc-second")
		if bands == 4 {
			md.AddBand("DESCRIPTION", 2, "description", "latitude_offset_accuracy")
			md.AddBand("UNITTYPE", 2, "unittype", "metre")
			md.AddBand("DESCRIPTION", 3, "description", "longitude_offset_accuracy")
			md.AddBand("UNITTYPE", 3, "unittype", "metre")
		}
	}

	encoded, err := md.Encode()
	if err != nil {
		return nil, err
	}
	img.Metadata = encoded

	// Values are point samples, so the raster envelope extends half a
	// cell beyond the outermost nodes.
	img.PixelScale = []float64{sub.LonInc, sub.LatInc, 0}
	img.TiePoint = []float64{0, 0, 0,
		sub.WestLon - sub.LonInc/2,
		sub.NorthLat() + sub.LatInc/2,
		0,
	}
	img.GeoKeys, img.GeoASCII = geoKeys(opt.SourceCRS)

	if idx == 0 {
		desc, err := buildDescription(file, opt)
		if err != nil {
			return nil, err
		}
		img.Description = desc
		img.Copyright = opt.Copyright
		switch opt.DateTime {
		case "NONE":
		case "":
			img.DateTime = time.Now().Format("2006:01:02 15:04:05")
		default:
			img.DateTime = opt.DateTime
		}
	}

	return img, nil
}

// buildDescription assembles the document description of the first
// directory: the CRS pair, the source file, and whatever header
// provenance survives the format's ambiguities.
func buildDescription(file *grid.File, opt Opt) (string, error) {
	if opt.Description != "" {
		return opt.Description, nil
	}
	baseName := filepath.Base(opt.Source)
	desc := opt.SourceCRS + " to " + opt.TargetCRS + ". Converted from " + baseName

	var extra []string
	if file.Version != "" && file.Version != "NTv2.0" {
		extra = append(extra, "version "+file.Version)
	}

	top := file.Grids[0]
	updated := top.Updated
	created := ""
	if updated == "" {
		updated = top.Created
	} else {
		created = top.Created
	}
	if updated != "" {
		year, month, day, err := parseGridDate(updated, baseName)
		if err != nil {
			return "", err
		}
		if created != "" {
			yc, mc, dc, err := parseGridDate(created, baseName)
			if err != nil {
				return "", err
			}
			if yc*10000+mc*100+dc > year*10000+month*100+day {
				return "", errors.Errorf("grid created %q after last update %q", created, updated)
			}
		}
		extra = append(extra, fmt.Sprintf("last updated on %04d-%02d-%02d", year, month, day))
	}

	if len(extra) > 0 {
		desc += " (" + strings.Join(extra, ", ") + ")"
	}
	return desc, nil
}

// scaleToUint16 maps a float raster onto the full 16-bit range,
// returning the offset and scale a reader applies to recover values.
// A constant raster gets scale zero and all-zero samples.
func scaleToUint16(raster []float32) ([]byte, float64, float64) {
	min, max := raster[0], raster[0]
	for _, v := range raster {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	scale := (float64(max) - float64(min)) / 65535

	data := make([]byte, 2*len(raster))
	if scale != 0 {
		for i, v := range raster {
			scaled := (float64(v) - float64(min)) / scale
			binary.LittleEndian.PutUint16(data[2*i:], uint16(math.Round(scaled)))
		}
	}
	return data, float64(min), scale
}

func packFloats(raster []float32) []byte {
	data := make([]byte, 4*len(raster))
	for i, v := range raster {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return data
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// epsgCode extracts the numeric code from an "EPSG:XXXX" authority
// string.
func epsgCode(crs string) (int, bool) {
	rest, ok := strings.CutPrefix(crs, "EPSG:")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code <= 0 || code > 65535 {
		return 0, false
	}
	return code, true
}

// GeoTIFF 1.1 key ids used by geoKeys.
const (
	keyModelType        = 1024
	keyRasterType       = 1025
	keyGeodeticCRS      = 2048
	keyGeodeticCitation = 2049

	modelTypeGeographic = 2
	rasterTypePoint     = 2
)

// geoKeys encodes the source CRS as a GeoTIFF 1.1 key directory. A
// non-EPSG CRS is carried as a citation string instead of a code.
func geoKeys(sourceCRS string) ([]uint16, string) {
	keys := []uint16{
		keyModelType, 0, 1, modelTypeGeographic,
		keyRasterType, 0, 1, rasterTypePoint,
	}
	ascii := ""
	if code, ok := epsgCode(sourceCRS); ok {
		keys = append(keys, keyGeodeticCRS, 0, 1, uint16(code))
	} else if sourceCRS != "" {
		ascii = sourceCRS + "|"
		keys = append(keys, keyGeodeticCitation, tiff.TagGeoASCIIParams, uint16(len(ascii)), 0)
	}
	header := []uint16{1, 1, 1, uint16(len(keys) / 4)}
	return append(header, keys...), ascii
}
