// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

// DedupCache maps exact payload byte content to the output offset it
// was first written at, so that repeated auxiliary payloads are written
// once per output file. Keys are the full byte strings, so equal map
// keys imply equal content and false positives are structurally
// impossible.
//
// The cache is scoped to one conversion run and owned by the layout
// coordinator; concurrent runs each carry their own.
type DedupCache struct {
	offsets map[string]uint32

	hits       int
	savedBytes int64
}

func NewDedupCache() *DedupCache {
	return &DedupCache{offsets: make(map[string]uint32)}
}

// Lookup returns the output offset the content was already written at.
func (c *DedupCache) Lookup(data []byte) (uint32, bool) {
	off, ok := c.offsets[string(data)]
	if ok {
		c.hits++
		c.savedBytes += int64(len(data))
	}
	return off, ok
}

// Register records the output offset the content was just written at.
func (c *DedupCache) Register(data []byte, offset uint32) {
	c.offsets[string(data)] = offset
}

// Hits returns the number of successful lookups.
func (c *DedupCache) Hits() int {
	return c.hits
}

// SavedBytes returns the payload bytes elided from the output thanks
// to deduplication.
func (c *DedupCache) SavedBytes() int64 {
	return c.savedBytes
}
