// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupCache(t *testing.T) {
	cache := NewDedupCache()

	_, ok := cache.Lookup([]byte("payload"))
	require.False(t, ok)

	cache.Register([]byte("payload"), 1234)
	off, ok := cache.Lookup([]byte("payload"))
	require.True(t, ok)
	require.Equal(t, uint32(1234), off)

	// Equality is exact byte content, not prefix or length.
	_, ok = cache.Lookup([]byte("payloa"))
	require.False(t, ok)
	_, ok = cache.Lookup([]byte("payload\x00"))
	require.False(t, ok)

	require.Equal(t, 1, cache.Hits())
	require.Equal(t, int64(7), cache.SavedBytes())
}

func TestDedupCacheLastRegistrationWins(t *testing.T) {
	cache := NewDedupCache()
	cache.Register([]byte("x"), 10)
	cache.Register([]byte("x"), 20)
	off, ok := cache.Lookup([]byte("x"))
	require.True(t, ok)
	require.Equal(t, uint32(20), off)
}
