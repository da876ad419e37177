// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package tiff implements reading, writing and re-layout of classic
// (32-bit offset) little-endian TIFF containers holding geodetic
// correction grids, one image directory (IFD) per sub-grid.
package tiff

// Field types of the classic TIFF specification plus the BigTIFF
// extension types. BigTIFF containers themselves are not supported,
// but their type codes must still be sized so that a classic file
// carrying them can be parsed.
const (
	TypeByte      uint16 = 1  // 8-bit unsigned integer
	TypeASCII     uint16 = 2  // 8-bit bytes with NUL terminator
	TypeShort     uint16 = 3  // 16-bit unsigned integer
	TypeLong      uint16 = 4  // 32-bit unsigned integer
	TypeRational  uint16 = 5  // two LONGs, numerator/denominator
	TypeSByte     uint16 = 6  // 8-bit signed integer
	TypeUndefined uint16 = 7  // 8-bit untyped data
	TypeSShort    uint16 = 8  // 16-bit signed integer
	TypeSLong     uint16 = 9  // 32-bit signed integer
	TypeSRational uint16 = 10 // two SLONGs
	TypeFloat     uint16 = 11 // 32-bit IEEE floating point
	TypeDouble    uint16 = 12 // 64-bit IEEE floating point
	TypeIFD       uint16 = 13 // 32-bit unsigned integer (offset)
	TypeLong8     uint16 = 16 // BigTIFF 64-bit unsigned integer
	TypeSLong8    uint16 = 17 // BigTIFF 64-bit signed integer
	TypeIFD8      uint16 = 18 // BigTIFF 64-bit unsigned integer (offset)
)

var typeSize = map[uint16]uint32{
	TypeByte:      1,
	TypeASCII:     1,
	TypeShort:     2,
	TypeLong:      4,
	TypeRational:  8,
	TypeSByte:     1,
	TypeUndefined: 1,
	TypeSShort:    2,
	TypeSLong:     4,
	TypeSRational: 8,
	TypeFloat:     4,
	TypeDouble:    8,
	TypeIFD:       4,
	TypeLong8:     8,
	TypeSLong8:    8,
	TypeIFD8:      8,
}

// Tags used by the baseline producer and the re-layout engine.
const (
	TagImageWidth                uint16 = 256
	TagImageLength               uint16 = 257
	TagBitsPerSample             uint16 = 258
	TagCompression               uint16 = 259
	TagPhotometricInterpretation uint16 = 262
	TagImageDescription          uint16 = 270
	TagStripOffsets              uint16 = 273
	TagSamplesPerPixel           uint16 = 277
	TagRowsPerStrip              uint16 = 278
	TagStripByteCounts           uint16 = 279
	TagSoftware                  uint16 = 305
	TagDateTime                  uint16 = 306
	TagPlanarConfiguration       uint16 = 284
	TagTileWidth                 uint16 = 322
	TagTileLength                uint16 = 323
	TagTileOffsets               uint16 = 324
	TagTileByteCounts            uint16 = 325
	TagSampleFormat              uint16 = 339
	TagCopyright                 uint16 = 33432
	TagModelPixelScale           uint16 = 33550
	TagModelTiepoint             uint16 = 33922
	TagGeoKeyDirectory           uint16 = 34735
	TagGeoDoubleParams           uint16 = 34736
	TagGeoASCIIParams            uint16 = 34737
	TagGDALMetadata              uint16 = 42112
	TagGDALNoData                uint16 = 42113
)

const (
	CompressionNone    uint16 = 1
	CompressionDeflate uint16 = 8

	PhotometricMinIsBlack uint16 = 1

	PlanarConfigSeparate uint16 = 2

	SampleFormatUint  uint16 = 1
	SampleFormatFloat uint16 = 3
)

// Role classifies the out-of-line payload of a field for the re-layout
// engine.
type Role int

const (
	// RoleOther covers every auxiliary payload without special
	// relocation rules. Deduplicated.
	RoleOther Role = iota
	// RoleStrileOffsets is the strip/tile offset array. Rewritten from
	// scratch, never deduplicated.
	RoleStrileOffsets
	// RoleStrileByteCounts is the strip/tile byte count array. Copied
	// verbatim, never deduplicated.
	RoleStrileByteCounts
	// RoleDescriptiveMetadata is the descriptive metadata block whose
	// replication across directories is governed by the layout mode.
	RoleDescriptiveMetadata
)

// RoleOf returns the relocation role of a tag.
func RoleOf(id uint16) Role {
	switch id {
	case TagStripOffsets, TagTileOffsets:
		return RoleStrileOffsets
	case TagStripByteCounts, TagTileByteCounts:
		return RoleStrileByteCounts
	case TagGDALMetadata:
		return RoleDescriptiveMetadata
	}
	return RoleOther
}

// leMagic is the little-endian classic TIFF signature.
var leMagic = [4]byte{0x49, 0x49, 0x2A, 0x00}

// placeholder is written wherever a 32-bit pointer is not resolvable
// yet. Every occurrence is patched before the output file is complete.
const placeholder uint32 = 0xDEADBEEF

const (
	banner = "\n-- Generated by gridtiff v1.0 --\n"

	// The metadata size marker lets a reader skip past all directory and
	// auxiliary metadata bytes without parsing them. The patched value
	// must occupy exactly the same byte width as the placeholder, so it
	// is rendered as a zero-padded decimal of fixed width.
	metadataSizeMarker = "-- Metadata size: %06d --\n"
	metadataSizeDummy  = "-- Metadata size: XXXXXX --\n"
)
