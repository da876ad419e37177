// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Image is one sub-grid to append to a baseline container: per-band
// raw sample rows plus the descriptive tags to embed. CRS codes,
// copyright and date strings are embedded verbatim as opaque values.
type Image struct {
	Width  int
	Height int

	// Bands holds the raw sample bytes of each band in row-major
	// north-up order. All bands must have the same sample width.
	Bands         [][]byte
	BitsPerSample uint16
	SampleFormat  uint16

	// Compression applied per strip. CompressionDeflate or
	// CompressionNone.
	Compression uint16

	// RowsPerStrip splits each band into strips. Zero keeps one strip
	// per band.
	RowsPerStrip int

	// Metadata is the serialized descriptive metadata block, empty to
	// omit the tag.
	Metadata string

	// First-directory-only document tags, empty to omit.
	Description string
	Copyright   string
	DateTime    string
	Software    string

	// Georeferencing, embedded verbatim.
	PixelScale []float64 // 3 values
	TiePoint   []float64 // 6 values
	GeoKeys    []uint16
	GeoASCII   string
}

type fieldSpec struct {
	id    uint16
	typ   uint16
	count uint32
	data  []byte
}

// BaselineWriter appends sub-grid directories to a naive multi-image
// container: each directory is followed immediately by its own
// auxiliary payloads and pixel strips, with descriptive blocks
// repeated per directory. The result is valid but unoptimized; the
// re-layout engine rewrites it.
type BaselineWriter struct {
	w            io.WriteSeeker
	chainPatchAt int64
	images       int
}

func NewBaselineWriter(w io.WriteSeeker) (*BaselineWriter, error) {
	if _, err := w.Write(leMagic[:]); err != nil {
		return nil, errors.Wrap(err, "write signature")
	}
	bw := &BaselineWriter{w: w, chainPatchAt: 4}
	if err := binary.Write(w, binary.LittleEndian, placeholder); err != nil {
		return nil, errors.Wrap(err, "write first directory placeholder")
	}
	return bw, nil
}

// Append writes one sub-grid directory with its payloads and strips.
func (bw *BaselineWriter) Append(img *Image) error {
	if len(img.Bands) < 1 {
		return errors.New("image has no bands")
	}
	strips, counts, err := img.encodeStrips()
	if err != nil {
		return err
	}

	fields, err := img.fields(len(strips))
	if err != nil {
		return err
	}
	setStripByteCounts(fields, counts)

	// Lay everything out before writing: directory record, auxiliary
	// payloads, then strips. Offsets are all computable up front
	// because the directory size is fixed by the field count.
	pos, err := bw.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.Wrap(err, "query output position")
	}
	if pos%2 == 1 {
		if _, err := bw.w.Write([]byte{0}); err != nil {
			return errors.Wrap(err, "write alignment byte")
		}
		pos++
	}
	ifdPos := pos
	cursor := ifdPos + 2 + 12*int64(len(fields)) + 4

	auxOffsets := make([]int64, len(fields))
	for i, f := range fields {
		if len(f.data) > 4 {
			if cursor%2 == 1 {
				cursor++
			}
			auxOffsets[i] = cursor
			cursor += int64(len(f.data))
		}
	}

	stripOffsets := make([]uint32, len(strips))
	for i, s := range strips {
		stripOffsets[i] = uint32(cursor)
		cursor += int64(len(s))
	}
	for i, f := range fields {
		if f.id == TagStripOffsets {
			fields[i].data = packLongs(stripOffsets)
		}
	}

	// Patch the previous chain pointer now that this directory's
	// start is known.
	if err := bw.patchWord(bw.chainPatchAt, uint32(ifdPos)); err != nil {
		return err
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(len(fields)))
	record := make([]byte, 12)
	for i, f := range fields {
		binary.LittleEndian.PutUint16(record[0:2], f.id)
		binary.LittleEndian.PutUint16(record[2:4], f.typ)
		binary.LittleEndian.PutUint32(record[4:8], f.count)
		var word [4]byte
		if len(f.data) <= 4 {
			copy(word[:], f.data)
		} else {
			binary.LittleEndian.PutUint32(word[:], uint32(auxOffsets[i]))
		}
		copy(record[8:12], word[:])
		buf.Write(record)
	}
	bw.chainPatchAt = ifdPos + int64(buf.Len())
	binary.Write(&buf, binary.LittleEndian, placeholder)

	for i, f := range fields {
		if len(f.data) > 4 {
			for int64(ifdPos)+int64(buf.Len()) < auxOffsets[i] {
				buf.WriteByte(0)
			}
			buf.Write(f.data)
		}
	}
	for _, s := range strips {
		buf.Write(s)
	}

	if _, err := bw.w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write directory and payloads")
	}
	bw.images++
	return nil
}

// Close terminates the directory chain. The underlying writer is not
// closed.
func (bw *BaselineWriter) Close() error {
	if bw.images == 0 {
		return errors.New("baseline container has no directories")
	}
	return bw.patchWord(bw.chainPatchAt, 0)
}

func (bw *BaselineWriter) patchWord(at int64, v uint32) error {
	pos, err := bw.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.Wrap(err, "query output position")
	}
	if _, err := bw.w.Seek(at, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seek patch location %d", at)
	}
	if err := binary.Write(bw.w, binary.LittleEndian, v); err != nil {
		return errors.Wrapf(err, "patch word at %d", at)
	}
	if _, err := bw.w.Seek(pos, io.SeekStart); err != nil {
		return errors.Wrap(err, "restore output position")
	}
	return nil
}

// encodeStrips splits each band into strips and compresses them,
// returning the segments in band-major order (all strips of band 0,
// then band 1, ...) together with their byte counts.
func (img *Image) encodeStrips() ([][]byte, []uint32, error) {
	rowBytes := img.Width * int(img.BitsPerSample) / 8
	rowsPerStrip := img.RowsPerStrip
	if rowsPerStrip <= 0 || rowsPerStrip > img.Height {
		rowsPerStrip = img.Height
	}
	stripsPerBand := (img.Height + rowsPerStrip - 1) / rowsPerStrip

	var strips [][]byte
	var counts []uint32
	for _, band := range img.Bands {
		if len(band) != rowBytes*img.Height {
			return nil, nil, errors.Errorf("band has %d bytes, want %d", len(band), rowBytes*img.Height)
		}
		for s := 0; s < stripsPerBand; s++ {
			lo := s * rowsPerStrip * rowBytes
			hi := lo + rowsPerStrip*rowBytes
			if hi > len(band) {
				hi = len(band)
			}
			segment := band[lo:hi]
			if img.Compression == CompressionDeflate {
				var buf bytes.Buffer
				zw := zlib.NewWriter(&buf)
				if _, err := zw.Write(segment); err != nil {
					return nil, nil, errors.Wrap(err, "deflate strip")
				}
				if err := zw.Close(); err != nil {
					return nil, nil, errors.Wrap(err, "finish deflate strip")
				}
				segment = buf.Bytes()
			}
			strips = append(strips, segment)
			counts = append(counts, uint32(len(segment)))
		}
	}
	return strips, counts, nil
}

// fields assembles the directory's field records in ascending tag
// order, as the format requires.
func (img *Image) fields(segments int) ([]fieldSpec, error) {
	bands := len(img.Bands)
	rowsPerStrip := img.RowsPerStrip
	if rowsPerStrip <= 0 || rowsPerStrip > img.Height {
		rowsPerStrip = img.Height
	}
	compression := img.Compression
	if compression == 0 {
		compression = CompressionNone
	}

	bits := make([]uint16, bands)
	formats := make([]uint16, bands)
	for i := range bits {
		bits[i] = img.BitsPerSample
		formats[i] = img.SampleFormat
	}

	counts := make([]uint32, segments)
	// StripByteCounts content is filled by encodeStrips's caller via
	// the same segment order; sized here so layout is stable.
	fields := []fieldSpec{
		longField(TagImageWidth, uint32(img.Width)),
		longField(TagImageLength, uint32(img.Height)),
		shortArrayField(TagBitsPerSample, bits),
		shortField(TagCompression, compression),
		shortField(TagPhotometricInterpretation, PhotometricMinIsBlack),
	}
	if img.Description != "" {
		fields = append(fields, asciiField(TagImageDescription, img.Description))
	}
	fields = append(fields,
		longArrayField(TagStripOffsets, make([]uint32, segments)),
		shortField(TagSamplesPerPixel, uint16(bands)),
		longField(TagRowsPerStrip, uint32(rowsPerStrip)),
		longArrayField(TagStripByteCounts, counts),
		shortField(TagPlanarConfiguration, PlanarConfigSeparate),
	)
	if img.Software != "" {
		fields = append(fields, asciiField(TagSoftware, img.Software))
	}
	if img.DateTime != "" {
		fields = append(fields, asciiField(TagDateTime, img.DateTime))
	}
	fields = append(fields, shortArrayField(TagSampleFormat, formats))
	if img.Copyright != "" {
		fields = append(fields, asciiField(TagCopyright, img.Copyright))
	}
	if len(img.PixelScale) == 3 {
		fields = append(fields, doubleArrayField(TagModelPixelScale, img.PixelScale))
	}
	if len(img.TiePoint) == 6 {
		fields = append(fields, doubleArrayField(TagModelTiepoint, img.TiePoint))
	}
	if len(img.GeoKeys) > 0 {
		fields = append(fields, shortArrayField(TagGeoKeyDirectory, img.GeoKeys))
	}
	if img.GeoASCII != "" {
		fields = append(fields, asciiField(TagGeoASCIIParams, img.GeoASCII))
	}
	if img.Metadata != "" {
		fields = append(fields, asciiField(TagGDALMetadata, img.Metadata))
	}

	for i := 1; i < len(fields); i++ {
		if fields[i].id <= fields[i-1].id {
			return nil, errors.Errorf("field records out of order at tag %d", fields[i].id)
		}
	}
	return fields, nil
}

// setStripByteCounts rewrites the byte count payload of an assembled
// field list.
func setStripByteCounts(fields []fieldSpec, counts []uint32) {
	for i := range fields {
		if fields[i].id == TagStripByteCounts {
			fields[i].data = packLongs(counts)
		}
	}
}

func shortField(id uint16, v uint16) fieldSpec {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, v)
	return fieldSpec{id: id, typ: TypeShort, count: 1, data: data}
}

func longField(id uint16, v uint32) fieldSpec {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return fieldSpec{id: id, typ: TypeLong, count: 1, data: data}
}

func shortArrayField(id uint16, vs []uint16) fieldSpec {
	data := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return fieldSpec{id: id, typ: TypeShort, count: uint32(len(vs)), data: data}
}

func longArrayField(id uint16, vs []uint32) fieldSpec {
	return fieldSpec{id: id, typ: TypeLong, count: uint32(len(vs)), data: packLongs(vs)}
}

func doubleArrayField(id uint16, vs []float64) fieldSpec {
	data := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return fieldSpec{id: id, typ: TypeDouble, count: uint32(len(vs)), data: data}
}

// asciiField appends the NUL terminator the format requires.
func asciiField(id uint16, s string) fieldSpec {
	data := append([]byte(s), 0)
	return fieldSpec{id: id, typ: TypeASCII, count: uint32(len(data)), data: data}
}

func packLongs(vs []uint32) []byte {
	data := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return data
}
