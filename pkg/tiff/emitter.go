// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// pendingField is one deferred-unresolved field of an output
// directory: its content has not been placed yet, so its pointer word
// in the output directory record holds a placeholder that must be
// patched exactly once.
type pendingField struct {
	field   *Field
	patchAt int64
	written bool
}

// outDirectory tracks the output-side state of one directory between
// the directory pass and the final offset-array pass.
type outDirectory struct {
	index   int
	dir     *Directory
	pending []*pendingField

	// Strip/tile bookkeeping, filled once the offset arrays are
	// reserved and the pixel segments relocated.
	offsetsField  *Field
	offsetArrayAt int64
	offsetsIn     []uint32
	lengthsIn     []uint32
	offsetsOut    []uint32
}

func (od *outDirectory) pendingByRole(role Role) []*pendingField {
	var out []*pendingField
	for _, p := range od.pending {
		if !p.written && RoleOf(p.field.ID) == role {
			out = append(out, p)
		}
	}
	return out
}

// Emitter writes the output directory chain, leaving placeholders for
// anything whose final location is not yet known and patching them as
// locations resolve. The chain pointer of each directory starts as a
// placeholder and is patched when the next directory's start offset
// becomes known; the last one is patched to zero only once the file is
// otherwise complete.
type Emitter struct {
	w io.WriteSeeker

	// chainPatchAt locates the one unresolved next-directory pointer:
	// the first-directory offset in the header initially, then the
	// trailing pointer of the directory written most recently.
	chainPatchAt int64

	markerAt     int64
	metadataSize int64
}

func NewEmitter(w io.WriteSeeker) *Emitter {
	return &Emitter{w: w}
}

// WriteHeader writes the container signature, a placeholder for the
// first directory offset, the banner and the metadata size marker
// placeholder.
func (e *Emitter) WriteHeader() error {
	if _, err := e.w.Write(leMagic[:]); err != nil {
		return errors.Wrap(err, "write signature")
	}
	e.chainPatchAt = 4
	if err := e.writeWord(placeholder); err != nil {
		return errors.Wrap(err, "write first directory placeholder")
	}
	if _, err := io.WriteString(e.w, banner); err != nil {
		return errors.Wrap(err, "write banner")
	}
	pos, err := e.pos()
	if err != nil {
		return err
	}
	e.markerAt = pos
	if _, err := io.WriteString(e.w, metadataSizeDummy); err != nil {
		return errors.Wrap(err, "write metadata size placeholder")
	}
	return nil
}

// BeginDirectory writes one directory record at the current cursor,
// word-aligned, and links it into the chain. Inline fields are written
// verbatim; out-of-line fields either resolve immediately against the
// dedup cache or get a placeholder recorded in the pending-patch list.
// Strip/tile offset and byte count arrays are directory-specific by
// construction and never consult the cache.
func (e *Emitter) BeginDirectory(index int, d *Directory, dedup *DedupCache) (*outDirectory, error) {
	pos, err := e.pos()
	if err != nil {
		return nil, err
	}
	if pos%2 == 1 {
		if _, err := e.w.Write([]byte{0}); err != nil {
			return nil, errors.Wrap(err, "write alignment byte")
		}
		pos++
	}

	if err := e.patchWord(e.chainPatchAt, uint32(pos)); err != nil {
		return nil, errors.Wrap(err, "patch chain pointer")
	}

	if err := binary.Write(e.w, binary.LittleEndian, uint16(len(d.Fields))); err != nil {
		return nil, errors.Wrap(err, "write field count")
	}

	od := &outDirectory{index: index, dir: d}
	record := make([]byte, 12)
	for i := range d.Fields {
		field := &d.Fields[i]
		binary.LittleEndian.PutUint16(record[0:2], field.ID)
		binary.LittleEndian.PutUint16(record[2:4], field.Type)
		binary.LittleEndian.PutUint32(record[4:8], field.Count)

		switch {
		case field.Inline():
			binary.LittleEndian.PutUint32(record[8:12], field.Value)
		default:
			role := RoleOf(field.ID)
			cached, ok := uint32(0), false
			if role != RoleStrileOffsets && role != RoleStrileByteCounts {
				cached, ok = dedup.Lookup(field.Data)
			}
			if ok {
				binary.LittleEndian.PutUint32(record[8:12], cached)
			} else {
				fieldPos, err := e.pos()
				if err != nil {
					return nil, err
				}
				od.pending = append(od.pending, &pendingField{
					field:   field,
					patchAt: fieldPos + 8,
				})
				binary.LittleEndian.PutUint32(record[8:12], placeholder)
			}
		}
		if _, err := e.w.Write(record); err != nil {
			return nil, errors.Wrapf(err, "write field record for tag %d", field.ID)
		}
	}

	pos, err = e.pos()
	if err != nil {
		return nil, err
	}
	e.chainPatchAt = pos
	if err := e.writeWord(placeholder); err != nil {
		return nil, errors.Wrap(err, "write next directory placeholder")
	}

	return od, nil
}

// WriteAux places the payload of every deferred-unresolved auxiliary
// field of the directory at the current cursor, patches its pointer
// and registers the content in the dedup cache. Strip/tile arrays are
// skipped (their placement is decided later), as is the descriptive
// metadata of directories past the first.
func (e *Emitter) WriteAux(od *outDirectory, dedup *DedupCache) error {
	for _, p := range od.pending {
		role := RoleOf(p.field.ID)
		if role == RoleStrileOffsets || role == RoleStrileByteCounts {
			continue
		}
		if role == RoleDescriptiveMetadata && od.index != 0 {
			continue
		}
		pos, err := e.resolve(p)
		if err != nil {
			return errors.Wrapf(err, "write payload of tag %d", p.field.ID)
		}
		dedup.Register(p.field.Data, uint32(pos))
	}
	return nil
}

// WriteDeferredDescriptive places the descriptive metadata payloads of
// directories past the first, kept back by WriteAux so that all
// first-directory content stays in front.
func (e *Emitter) WriteDeferredDescriptive(od *outDirectory) error {
	if od.index == 0 {
		return nil
	}
	for _, p := range od.pendingByRole(RoleDescriptiveMetadata) {
		if _, err := e.resolve(p); err != nil {
			return errors.Wrapf(err, "write descriptive metadata of directory %d", od.index)
		}
	}
	return nil
}

// PatchMetadataSize renders the true metadata boundary offset into the
// marker written by WriteHeader. The rendered marker must occupy
// exactly the placeholder's byte width.
func (e *Emitter) PatchMetadataSize() error {
	pos, err := e.pos()
	if err != nil {
		return err
	}
	marker := fmt.Sprintf(metadataSizeMarker, pos)
	if len(marker) != len(metadataSizeDummy) {
		return errors.Errorf("metadata size %d does not fit the fixed-width marker", pos)
	}
	e.metadataSize = pos
	if _, err := e.w.Seek(e.markerAt, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek metadata size marker")
	}
	if _, err := io.WriteString(e.w, marker); err != nil {
		return errors.Wrap(err, "patch metadata size marker")
	}
	if _, err := e.w.Seek(pos, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek back past metadata")
	}
	return nil
}

// ReserveStrileArrays patches the directory's strip/tile array
// pointers to the current cursor: byte counts are copied verbatim
// (segment lengths never change), while the offset array space is
// zero-filled and rewritten once the pixel segments have been
// relocated.
func (e *Emitter) ReserveStrileArrays(od *outDirectory) error {
	for _, p := range od.pending {
		role := RoleOf(p.field.ID)
		switch role {
		case RoleStrileByteCounts:
			if _, err := e.resolve(p); err != nil {
				return errors.Wrap(err, "write byte count array")
			}
		case RoleStrileOffsets:
			pos, err := e.pos()
			if err != nil {
				return err
			}
			if err := e.patchWord(p.patchAt, uint32(pos)); err != nil {
				return errors.Wrap(err, "patch offset array pointer")
			}
			if _, err := e.w.Write(make([]byte, len(p.field.Data))); err != nil {
				return errors.Wrap(err, "reserve offset array")
			}
			od.offsetsField = p.field
			od.offsetArrayAt = pos
			p.written = true
		}
	}
	return nil
}

// WriteOffsetArray rewrites the reserved offset array with the
// relocated segment offsets, using the element width declared by the
// original field. Fails if a relocated offset does not fit a 16-bit
// element: the rewritten file grew past the narrow addressing range
// and the conversion must abort rather than truncate.
func (e *Emitter) WriteOffsetArray(od *outDirectory) error {
	end, err := e.pos()
	if err != nil {
		return err
	}
	if _, err := e.w.Seek(od.offsetArrayAt, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek reserved offset array")
	}
	switch od.offsetsField.Type {
	case TypeShort:
		for _, v := range od.offsetsOut {
			if v > 0xFFFF {
				return errors.Errorf("directory %d: segment offset %d overflows 16-bit offset array", od.index, v)
			}
			if err := binary.Write(e.w, binary.LittleEndian, uint16(v)); err != nil {
				return errors.Wrap(err, "write offset array element")
			}
		}
	default:
		for _, v := range od.offsetsOut {
			if err := binary.Write(e.w, binary.LittleEndian, v); err != nil {
				return errors.Wrap(err, "write offset array element")
			}
		}
	}
	if _, err := e.w.Seek(end, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek back past offset array")
	}
	return nil
}

// Finalize patches the last directory's chain pointer to zero. Only
// called once the file is otherwise complete, since "last" is only
// known when the input chain terminates.
func (e *Emitter) Finalize() error {
	return errors.Wrap(e.patchWord(e.chainPatchAt, 0), "terminate directory chain")
}

// resolve places the payload of a pending field at the current cursor
// and patches its placeholder, returning the payload's offset.
func (e *Emitter) resolve(p *pendingField) (int64, error) {
	pos, err := e.pos()
	if err != nil {
		return 0, err
	}
	if err := e.patchWord(p.patchAt, uint32(pos)); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(p.field.Data); err != nil {
		return 0, err
	}
	p.written = true
	return pos, nil
}

func (e *Emitter) pos() (int64, error) {
	pos, err := e.w.Seek(0, io.SeekCurrent)
	return pos, errors.Wrap(err, "query output position")
}

func (e *Emitter) writeWord(v uint32) error {
	return binary.Write(e.w, binary.LittleEndian, v)
}

// patchWord writes a resolved 32-bit pointer at a previously recorded
// location, then restores the cursor.
func (e *Emitter) patchWord(at int64, v uint32) error {
	pos, err := e.pos()
	if err != nil {
		return err
	}
	if _, err := e.w.Seek(at, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seek patch location %d", at)
	}
	if err := e.writeWord(v); err != nil {
		return errors.Wrapf(err, "patch word at %d", at)
	}
	if _, err := e.w.Seek(pos, io.SeekStart); err != nil {
		return errors.Wrap(err, "restore output position")
	}
	return nil
}
