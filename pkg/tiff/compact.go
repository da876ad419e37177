// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

// LayoutMode decides whether descriptive metadata is replicated on
// every directory or kept only on the first one. It is fixed once per
// run, before any directory is emitted, from the total directory
// count.
type LayoutMode int

const (
	// LayoutVerbose replicates descriptive band and grid metadata on
	// every directory.
	LayoutVerbose LayoutMode = iota
	// LayoutCompact keeps descriptive metadata only on the first
	// directory; a reader treats directory 0's metadata as defaults
	// for the rest.
	LayoutCompact
)

// compactThreshold is the directory count above which the compact
// layout is used.
const compactThreshold = 50

// LayoutModeFor returns the layout mode for a container with the given
// directory count.
func LayoutModeFor(directoryCount int) LayoutMode {
	if directoryCount > compactThreshold {
		return LayoutCompact
	}
	return LayoutVerbose
}

// Compactor answers, per field role and directory index, whether a
// descriptive field is emitted. A pure lookup over the mode decided at
// the start of the run.
type Compactor struct {
	mode LayoutMode
}

func NewCompactor(mode LayoutMode) Compactor {
	return Compactor{mode: mode}
}

func (c Compactor) Mode() LayoutMode {
	return c.mode
}

// ShouldEmit reports whether a field with the given role is emitted on
// the directory with the given index. Only descriptive metadata is
// ever suppressed, and never on the first directory.
func (c Compactor) ShouldEmit(role Role, directoryIndex int) bool {
	if role != RoleDescriptiveMetadata {
		return true
	}
	return directoryIndex == 0 || c.mode == LayoutVerbose
}
