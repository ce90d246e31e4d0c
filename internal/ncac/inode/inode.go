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

// Package inode implements the per-object metadata the cache keeps for
// every (collection, object handle) pair it has touched: the radix index
// of cached extents, the dirty list, and the small aiovec batch used to
// coalesce list-I/O submissions (spec §3 "Inode", §4.4, component D).
package inode

import (
	"sync"

	"github.com/orangefs-go/ncac/internal/ncac/extflags"
	"github.com/orangefs-go/ncac/internal/ncac/pool"
	"github.com/orangefs-go/ncac/internal/ncac/radix"
)

// aiovecBatch is the default number of (memory, stream) segment pairs an
// Inode accumulates before it must flush a list-I/O submission (spec
// Glossary "Aiovec").
const aiovecBatch = 6

// Handle identifies an object within a collection.
type Handle struct {
	Collection uint32
	Object     uint64
}

// ioSegment is one (memory_offset, memory_size, stream_offset,
// stream_size) tuple of the scratch aiovec.
type ioSegment struct {
	memOffset, memSize       uint64
	streamOffset, streamSize uint64
}

// Inode is the per-object cache metadata: a radix index of its cached
// extents, a dirty list, and the lock that protects all of it (spec §5
// lock hierarchy: the inode lock is acquired before the cache-stack
// lock).
type Inode struct {
	mu sync.Mutex

	handle  Handle
	context uint64 // caller context handle, opaque to the cache

	index *radix.Tree

	dirtyHead, dirtyTail *pool.Extent
	nrDirty              int
	nrPages              int

	pendingIO []ioSegment

	next *Inode // collision chain link in the owning Table bucket
}

// Handle returns the inode's (collection, object) identity.
func (ino *Inode) Handle() Handle { return ino.handle }

// Lock/Unlock expose the inode's lock to callers that need to hold it
// across several operations (request preparation, §4.4/§4.5).
func (ino *Inode) Lock()   { ino.mu.Lock() }
func (ino *Inode) Unlock() { ino.mu.Unlock() }

// Lookup returns the cached extent at index, or nil if absent. Callers
// must hold the inode lock.
func (ino *Inode) Lookup(index uint64) *pool.Extent {
	v := ino.index.Lookup(index)
	if v == nil {
		return nil
	}
	return v.(*pool.Extent)
}

// Insert installs e into the radix index at index, setting e's back
// references. Callers must hold the inode lock.
func (ino *Inode) Insert(index uint64, e *pool.Extent) {
	e.Owner = ino
	e.Index = index
	ino.index.Insert(index, e)
	ino.nrPages++
}

// Remove deletes the extent at index from the radix index, if present.
// Callers must hold the inode lock and must have already unlinked the
// extent from the dirty list if it was on it.
func (ino *Inode) Remove(index uint64) *pool.Extent {
	v := ino.index.Delete(index)
	if v == nil {
		return nil
	}
	ino.nrPages--
	return v.(*pool.Extent)
}

// NrPages returns the number of extents currently indexed for this inode.
func (ino *Inode) NrPages() int { return ino.nrPages }

// NrDirty returns the number of extents on the dirty list.
func (ino *Inode) NrDirty() int { return ino.nrDirty }

// MarkDirty appends e to the dirty list. Callers must hold the inode
// lock; e must already be indexed by this inode (spec §8 invariant: "a
// dirty extent appears in both the radix index and the inode dirty
// list").
func (ino *Inode) MarkDirty(e *pool.Extent) {
	e.DirtyPrev, e.DirtyNext = nil, nil
	if ino.dirtyTail == nil {
		ino.dirtyHead, ino.dirtyTail = e, e
	} else {
		ino.dirtyTail.DirtyNext = e
		e.DirtyPrev = ino.dirtyTail
		ino.dirtyTail = e
	}
	ino.nrDirty++
}

// ClearDirty unlinks e from the dirty list. A no-op if e is not on it.
func (ino *Inode) ClearDirty(e *pool.Extent) {
	if e.DirtyPrev == nil && e.DirtyNext == nil && ino.dirtyHead != e {
		return
	}

	if e.DirtyPrev != nil {
		e.DirtyPrev.DirtyNext = e.DirtyNext
	} else {
		ino.dirtyHead = e.DirtyNext
	}
	if e.DirtyNext != nil {
		e.DirtyNext.DirtyPrev = e.DirtyPrev
	} else {
		ino.dirtyTail = e.DirtyPrev
	}

	e.DirtyPrev, e.DirtyNext = nil, nil
	ino.nrDirty--
}

// DirtyExtents returns the dirty list in append order (oldest first).
// Write-back should instead walk the radix index in ascending order
// (spec §5 ordering guarantee); this is exposed for diagnostics and for
// policies that want dirty-age ordering instead.
func (ino *Inode) DirtyExtents() []*pool.Extent {
	out := make([]*pool.Extent, 0, ino.nrDirty)
	for e := ino.dirtyHead; e != nil; e = e.DirtyNext {
		out = append(out, e)
	}
	return out
}

// AscendDirty walks the inode's radix index in ascending extent-index
// order, invoking fn for each currently-dirty extent (spec §5 "a
// dirty-list write-back batch writes extents in ascending file-offset
// order"). Stops early if fn returns false. Callers must hold the inode
// lock.
func (ino *Inode) AscendDirty(fn func(index uint64, e *pool.Extent) bool) {
	ino.index.Ascend(func(key uint64, v interface{}) bool {
		e := v.(*pool.Extent)
		if !e.Flags.Has(extflags.Dirty) {
			return true
		}
		return fn(key, e)
	})
}

// QueueSegment appends one (memory, stream) segment pair to the scratch
// aiovec, returning the batch if it just filled up (aiovecBatch entries)
// so the caller can submit it as one list-I/O call and start a fresh
// batch (spec Glossary "Aiovec", SPEC_FULL §3 supplemental feature 4).
func (ino *Inode) QueueSegment(memOffset, memSize, streamOffset, streamSize uint64) (flush []ioSegment, ready bool) {
	ino.pendingIO = append(ino.pendingIO, ioSegment{memOffset, memSize, streamOffset, streamSize})
	if len(ino.pendingIO) < aiovecBatch {
		return nil, false
	}
	flush = ino.pendingIO
	ino.pendingIO = nil
	return flush, true
}

// FlushSegments returns and clears any partially filled aiovec batch,
// used when a request completes with fewer than aiovecBatch segments
// accumulated.
func (ino *Inode) FlushSegments() []ioSegment {
	if len(ino.pendingIO) == 0 {
		return nil
	}
	flush := ino.pendingIO
	ino.pendingIO = nil
	return flush
}
