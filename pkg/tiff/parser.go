// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrBadSignature reports a container that does not start with the
// little-endian classic TIFF magic.
var ErrBadSignature = errors.New("not a little-endian classic TIFF container")

// Field is one typed, counted attribute of a directory. Values whose
// total size fits in 4 bytes stay inline in the directory record;
// larger values are read into Data from their out-of-line location.
type Field struct {
	ID    uint16
	Type  uint16
	Count uint32

	// Value is the raw fourth word of the field record: the literal
	// value for inline fields, the input file offset for out-of-line
	// ones. The input offset is kept for diagnostics only and is never
	// written to the output.
	Value uint32

	// Data is the out-of-line payload, nil for inline fields.
	Data []byte
}

// Inline reports whether the field value is stored directly in the
// directory record. This is a pure function of type and count.
func (f *Field) Inline() bool {
	return typeSize[f.Type]*f.Count <= 4
}

// Size returns the total byte size of the field value.
func (f *Field) Size() uint32 {
	return typeSize[f.Type] * f.Count
}

// UnpackOffsets decodes the payload as an array of SHORT or LONG
// elements, as used by the strip/tile offset and byte count arrays.
func (f *Field) UnpackOffsets() ([]uint32, error) {
	out := make([]uint32, f.Count)
	switch f.Type {
	case TypeShort:
		for i := range out {
			out[i] = uint32(binary.LittleEndian.Uint16(f.Data[2*i:]))
		}
	case TypeLong:
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(f.Data[4*i:])
		}
	default:
		return nil, errors.Errorf("tag %d: offset array has type %d, want SHORT or LONG", f.ID, f.Type)
	}
	return out, nil
}

// Directory is one parsed IFD: its fields in record order plus lookup
// by tag id.
type Directory struct {
	Fields []Field

	byID map[uint16]int
}

// Field returns the field with the given tag id, or nil.
func (d *Directory) Field(id uint16) *Field {
	idx, ok := d.byID[id]
	if !ok {
		return nil
	}
	return &d.Fields[idx]
}

// Parser reads the directory chain of a baseline container.
type Parser struct {
	r io.ReadSeeker
}

// NewParser validates the container signature and returns a parser
// positioned on the chain, along with the offset of the first
// directory.
func NewParser(r io.ReadSeeker) (*Parser, uint32, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, 0, errors.Wrap(err, "seek container start")
	}
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, errors.Wrap(err, "read container header")
	}
	if [4]byte(header[0:4]) != leMagic {
		return nil, 0, ErrBadSignature
	}
	first := binary.LittleEndian.Uint32(header[4:8])
	return &Parser{r: r}, first, nil
}

// ReadDirectory parses one directory at the given offset and returns
// it together with the offset of the next directory (zero if this is
// the last one). Out-of-line field payloads are read eagerly; the read
// cursor is left right after the directory's next-pointer word.
func (p *Parser) ReadDirectory(offset uint32) (*Directory, uint32, error) {
	if _, err := p.r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, 0, errors.Wrapf(err, "seek directory at %d", offset)
	}

	var numTags uint16
	if err := binary.Read(p.r, binary.LittleEndian, &numTags); err != nil {
		return nil, 0, errors.Wrapf(err, "read field count of directory at %d", offset)
	}

	dir := &Directory{
		Fields: make([]Field, 0, numTags),
		byID:   make(map[uint16]int, numTags),
	}

	record := make([]byte, 12)
	for i := 0; i < int(numTags); i++ {
		if _, err := io.ReadFull(p.r, record); err != nil {
			return nil, 0, errors.Wrapf(err, "read field record %d of directory at %d", i, offset)
		}
		field := Field{
			ID:    binary.LittleEndian.Uint16(record[0:2]),
			Type:  binary.LittleEndian.Uint16(record[2:4]),
			Count: binary.LittleEndian.Uint32(record[4:8]),
			Value: binary.LittleEndian.Uint32(record[8:12]),
		}
		if _, ok := typeSize[field.Type]; !ok {
			return nil, 0, errors.Errorf("tag %d: unknown field type %d", field.ID, field.Type)
		}
		if !field.Inline() {
			data, err := p.readPayload(field.Value, field.Size())
			if err != nil {
				return nil, 0, errors.Wrapf(err, "read payload of tag %d", field.ID)
			}
			field.Data = data
		}
		dir.byID[field.ID] = len(dir.Fields)
		dir.Fields = append(dir.Fields, field)
	}

	var next uint32
	if err := binary.Read(p.r, binary.LittleEndian, &next); err != nil {
		return nil, 0, errors.Wrapf(err, "read next pointer of directory at %d", offset)
	}

	return dir, next, nil
}

// CountDirectories walks the whole chain without materializing field
// payloads, so that the layout mode can be fixed before any directory
// is emitted. Rejects chain cycles.
func (p *Parser) CountDirectories(first uint32) (int, error) {
	count := 0
	seen := map[uint32]struct{}{}
	next := first
	for next != 0 {
		if _, ok := seen[next]; ok {
			return 0, errors.Errorf("directory chain cycle at offset %d", next)
		}
		seen[next] = struct{}{}

		if _, err := p.r.Seek(int64(next), io.SeekStart); err != nil {
			return 0, errors.Wrapf(err, "seek directory at %d", next)
		}
		var numTags uint16
		if err := binary.Read(p.r, binary.LittleEndian, &numTags); err != nil {
			return 0, errors.Wrapf(err, "read field count of directory at %d", next)
		}
		if _, err := p.r.Seek(int64(numTags)*12, io.SeekCurrent); err != nil {
			return 0, errors.Wrap(err, "skip field records")
		}
		if err := binary.Read(p.r, binary.LittleEndian, &next); err != nil {
			return 0, errors.Wrap(err, "read next pointer")
		}
		count++
	}
	return count, nil
}

func (p *Parser) readPayload(offset, size uint32) ([]byte, error) {
	pos, err := p.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if _, err := p.r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(p.r, data); err != nil {
		return nil, err
	}
	if _, err := p.r.Seek(pos, io.SeekStart); err != nil {
		return nil, err
	}
	return data, nil
}
