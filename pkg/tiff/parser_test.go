// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParserRejectsBadSignature(t *testing.T) {
	_, _, err := NewParser(bytes.NewReader([]byte("MM\x00\x2A\x00\x00\x00\x08")))
	require.ErrorIs(t, err, ErrBadSignature)

	_, _, err = NewParser(bytes.NewReader([]byte("II")))
	require.Error(t, err)
}

func TestParserRejectsUnknownFieldType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(leMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(8)) // first directory
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // field count
	binary.Write(&buf, binary.LittleEndian, uint16(256))
	binary.Write(&buf, binary.LittleEndian, uint16(99)) // no such type
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	p, first, err := NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, _, err = p.ReadDirectory(first)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field type")
}

func TestParserDetectsChainCycle(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(leMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // empty directory
	binary.Write(&buf, binary.LittleEndian, uint32(8)) // points back at itself

	p, first, err := NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, err = p.CountDirectories(first)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestFieldInlineDetermination(t *testing.T) {
	// count x sizeof(type) decides the storage form; never guessed.
	cases := []struct {
		typ    uint16
		count  uint32
		inline bool
	}{
		{TypeShort, 1, true},
		{TypeShort, 2, true},
		{TypeShort, 3, false},
		{TypeLong, 1, true},
		{TypeLong, 2, false},
		{TypeASCII, 4, true},
		{TypeASCII, 5, false},
		{TypeDouble, 1, false},
		{TypeRational, 1, false},
	}
	for _, c := range cases {
		f := Field{Type: c.typ, Count: c.count}
		require.Equal(t, c.inline, f.Inline(), "type %d count %d", c.typ, c.count)
	}
}

func TestUnpackOffsets(t *testing.T) {
	f := Field{ID: TagStripOffsets, Type: TypeShort, Count: 2, Data: []byte{0x01, 0x00, 0xFF, 0xFF}}
	vals, err := f.UnpackOffsets()
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 0xFFFF}, vals)

	f = Field{ID: TagStripOffsets, Type: TypeLong, Count: 1, Data: []byte{0x78, 0x56, 0x34, 0x12}}
	vals, err = f.UnpackOffsets()
	require.NoError(t, err)
	require.Equal(t, []uint32{0x12345678}, vals)

	f = Field{ID: TagStripOffsets, Type: TypeDouble, Count: 1, Data: make([]byte, 8)}
	_, err = f.UnpackOffsets()
	require.Error(t, err)
}
