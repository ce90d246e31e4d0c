// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pool implements the fixed-count extent pool and its
// active/inactive LRU discipline (spec §4.2, component B). Every Extent
// the pool ever hands out is one of a fixed number pre-allocated at
// NewPool time; buffers are never freed until the pool itself is torn
// down, only recycled between extents.
package pool

import (
	"sync"

	"github.com/orangefs-go/ncac/internal/ncac/extflags"
)

// InvalidIOHandle is the sentinel io_request_handle value meaning no
// storage-engine operation is currently outstanding for an extent.
const InvalidIOHandle = 0

// Extent is a fixed-size, page-aligned buffer region plus the state the
// cache needs to track about it (spec §3 "Extent"). List membership is
// intrusive: lruPrev/lruNext link an Extent into the pool's active or
// inactive list; listPrev/listNext link it into the free list (the only
// other list this package itself manages). DirtyPrev/DirtyNext are
// exported because the dirty list is owned by an inode, a different
// package; an extent is on the dirty list independently of which LRU
// list or free-list state it is in.
type Extent struct {
	mu sync.Mutex

	buffer []byte // stable for the lifetime of the pool; never reallocated

	// Index within the pool's backing array; stable for the extent's
	// lifetime, used as its slot identity.
	slot int

	// Owner and addressing. Index is the file-extent index within Owner
	// (file_offset >> extent_log2); Owner is a weak back-reference set by
	// whoever installs the extent into an inode's radix index.
	Owner interface{} // *inode.Inode; kept as interface{} to avoid an import cycle
	Index uint64

	Flags extflags.Flags

	ReadRefs, ReadAcks   uint32
	WriteRefs, WriteAcks uint32

	IOHandle  uint64 // opaque storage-engine operation id; InvalidIOHandle if none
	ioChain   *Extent
	lruPrev   *Extent
	lruNext   *Extent
	listPrev  *Extent
	listNext  *Extent
	onLRUList lruListID

	// DirtyPrev/DirtyNext link this extent into its owning inode's dirty
	// list (spec §8 invariant: "a dirty extent appears in both the radix
	// index and the inode dirty list"). Exported for use by package inode.
	DirtyPrev *Extent
	DirtyNext *Extent

	// Pinned is set from a request's decoded CacheHint (spec §6 "hint
	// bag", SPEC_FULL §2 mapstructure wiring): a pinned extent is never a
	// Shrink candidate regardless of its CLEAN/ref-count state. Requests
	// only ever set it; resetForReuse is the only place it is cleared.
	Pinned bool
}

// Buffer returns the extent's backing byte slice. Callers must not retain
// it past the extent's next eviction.
func (e *Extent) Buffer() []byte { return e.buffer }

// Slot returns the extent's stable pool index.
func (e *Extent) Slot() int { return e.slot }

// Lock/Unlock let callers (state machine, request engine) serialize
// access to a single extent's mutable fields without taking the whole
// cache-stack lock, matching spec §5's per-extent-safe concurrent re-entry
// requirement.
func (e *Extent) Lock()   { e.mu.Lock() }
func (e *Extent) Unlock() { e.mu.Unlock() }

// Discardable reports whether the extent can be evicted right now: clean,
// with no outstanding read or write references (spec §4.2, invariant 5 of
// §8).
func (e *Extent) Discardable() bool {
	return !e.Pinned &&
		e.Flags.Has(extflags.Clean) &&
		e.ReadRefs == e.ReadAcks &&
		e.WriteRefs == e.WriteAcks
}

// resetForReuse clears an extent back to the blank, unlinked state it had
// when it first came off the free list, preserving only its stable buffer
// and slot.
func (e *Extent) resetForReuse() {
	e.Owner = nil
	e.Index = 0
	e.Flags = 0
	e.ReadRefs, e.ReadAcks = 0, 0
	e.WriteRefs, e.WriteAcks = 0, 0
	e.IOHandle = InvalidIOHandle
	e.ioChain = e
	e.lruPrev, e.lruNext = nil, nil
	e.listPrev, e.listNext = nil, nil
	e.onLRUList = lruListNone
	e.DirtyPrev, e.DirtyNext = nil, nil
	e.Pinned = false
}

// IOChainNext returns the next extent sharing this one's outstanding
// storage-engine operation. The chain is a cycle; a solo extent's chain
// is itself.
func (e *Extent) IOChainNext() *Extent { return e.ioChain }

// LinkIOChain splices extents into a single cycle, used when a single
// list-I/O submission spans multiple extents (spec §3 "io_chain_next").
func LinkIOChain(extents []*Extent) {
	n := len(extents)
	if n == 0 {
		return
	}
	for i, e := range extents {
		e.ioChain = extents[(i+1)%n]
	}
}
