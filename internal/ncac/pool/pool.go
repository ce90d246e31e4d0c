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

package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/orangefs-go/ncac/internal/ncac/extflags"
)

// ShrinkStep is the default number of extents a single shrink cycle tries
// to reclaim (spec §4.2).
const ShrinkStep = 5

type lruListID uint8

const (
	lruListNone lruListID = iota
	lruListActive
	lruListInactive
)

// Pool is the fixed-count, pre-allocated extent pool plus its
// active/inactive LRU lists and free list (spec §3 "Cache stack", §4.2).
// All state is protected by mu, which plays the role of the spec's
// "cache-stack lock": callers that also hold an inode lock must acquire
// it first (spec §5 lock hierarchy).
type Pool struct {
	mu sync.Mutex

	extentSize int
	all        []*Extent

	freeHead  *Extent
	nrFree    int
	nrActive  int
	nrInactive int
	activeHead, activeTail     *Extent
	inactiveHead, inactiveTail *Extent

	// admission gate: bounds how many goroutines may be inside Alloc
	// concurrently contending for the same
	// scarce free list, the same role golang.org/x/sync/semaphore plays
	// for github.com/googlecloudplatform/gcsfuse/v2's block.BlockPool.
	admission *semaphore.Weighted
}

// NewPool pre-allocates exactly cacheSize/extentSize extents, each bound
// to a disjoint slice of one contiguous backing buffer, and links them
// all into the free list (spec §3 Extent lifecycle, §5 resource policy:
// "one contiguous, page-aligned region").
func NewPool(extentSize, cacheSize int) (*Pool, error) {
	if extentSize <= 0 || extentSize&(extentSize-1) != 0 {
		return nil, fmt.Errorf("ncac/pool: extent_size %d is not a positive power of two", extentSize)
	}
	if cacheSize <= 0 || cacheSize%extentSize != 0 {
		return nil, fmt.Errorf("ncac/pool: cache_size %d is not a positive multiple of extent_size %d", cacheSize, extentSize)
	}

	count := cacheSize / extentSize
	slab := make([]byte, cacheSize)

	p := &Pool{
		extentSize: extentSize,
		all:        make([]*Extent, count),
		admission:  semaphore.NewWeighted(int64(count)),
	}

	for i := 0; i < count; i++ {
		e := &Extent{
			buffer: slab[i*extentSize : (i+1)*extentSize : (i+1)*extentSize],
			slot:   i,
		}
		e.resetForReuse()
		p.all[i] = e
		p.pushFree(e)
	}

	return p, nil
}

// Size returns the total number of extents in the pool.
func (p *Pool) Size() int { return len(p.all) }

// ExtentSize returns the configured extent size in bytes.
func (p *Pool) ExtentSize() int { return p.extentSize }

// Stats is a point-in-time snapshot of the pool's counters (spec §8
// invariant 3, SPEC_FULL §3 supplemental feature 6).
type Stats struct {
	Free, Active, Inactive int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Free: p.nrFree, Active: p.nrActive, Inactive: p.nrInactive}
}

// Alloc pops one extent off the free list and marks it Blank, or returns
// ErrNoMem if the free list is empty. Callers that want blocking-mode
// allocation should call Shrink and retry themselves (spec §4.2: "if
// empty, the caller invokes shrink ... and retries"); Alloc itself never
// blocks on I/O.
func (p *Pool) Alloc(ctx context.Context) (*Extent, error) {
	if err := p.admission.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ncac/pool: admission: %w", err)
	}
	defer p.admission.Release(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.popFree()
	if e == nil {
		return nil, ErrNoMem
	}
	e.Flags = extflags.Blank
	return e, nil
}

// PublishActive inserts a freshly allocated extent at the head of the
// active list, marking it LRU|Active (spec §4.2 "fresh extents are
// inserted at the head of the active list").
func (p *Pool) PublishActive(e *Extent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e.Flags = e.Flags.Set(extflags.LRU | extflags.Active)
	p.pushActiveHead(e)
}

// TouchRead promotes an inactive extent to the active list head on a
// read-touch (spec §4.2). A no-op if the extent is already active.
func (p *Pool) TouchRead(e *Extent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.onLRUList == lruListInactive {
		p.unlinkLRU(e)
		e.Flags = e.Flags.Set(extflags.Active)
		p.pushActiveHead(e)
	}
}

// Discard removes a discardable extent from the LRU and returns it to the
// free list. Callers must have already removed it from any radix index.
func (p *Pool) Discard(e *Extent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.onLRUList != lruListNone {
		p.unlinkLRU(e)
	}
	e.resetForReuse()
	p.pushFree(e)
}

// Shrink scans the active list from the tail, discarding up to `want`
// discardable extents. probe is called for any extent that is
// READ_PENDING or WRITE_PENDING to give the state machine a chance to
// complete its I/O fan-out before the discardability check is retried;
// probe returns true if it changed the extent's flags. Shrink never
// blocks: it visits each candidate once and moves on (spec §4.2).
func (p *Pool) Shrink(ctx context.Context, want int, probe func(ctx context.Context, e *Extent) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	discarded := 0
	e := p.activeTail
	for e != nil && discarded < want {
		prev := e.lruPrev

		e.Lock()
		if e.Flags.Any(extflags.ReadPending | extflags.WritePending) {
			e.Unlock()
			if probe != nil {
				probe(ctx, e)
			}
			e.Lock()
		}

		if e.Discardable() {
			p.unlinkLRU(e)
			e.resetForReuse()
			p.pushFree(e)
			discarded++
		}
		e.Unlock()

		e = prev
	}

	return discarded
}

////////////////////////////////////////////////////////////////////////
// list plumbing
////////////////////////////////////////////////////////////////////////

func (p *Pool) pushFree(e *Extent) {
	e.listNext = p.freeHead
	e.listPrev = nil
	if p.freeHead != nil {
		p.freeHead.listPrev = e
	}
	p.freeHead = e
	p.nrFree++
}

func (p *Pool) popFree() *Extent {
	e := p.freeHead
	if e == nil {
		return nil
	}
	p.freeHead = e.listNext
	if p.freeHead != nil {
		p.freeHead.listPrev = nil
	}
	e.listNext, e.listPrev = nil, nil
	p.nrFree--
	return e
}

func (p *Pool) pushActiveHead(e *Extent) {
	e.onLRUList = lruListActive
	e.lruPrev = nil
	e.lruNext = p.activeHead
	if p.activeHead != nil {
		p.activeHead.lruPrev = e
	}
	p.activeHead = e
	if p.activeTail == nil {
		p.activeTail = e
	}
	p.nrActive++
}

func (p *Pool) pushInactiveHead(e *Extent) {
	e.onLRUList = lruListInactive
	e.lruPrev = nil
	e.lruNext = p.inactiveHead
	if p.inactiveHead != nil {
		p.inactiveHead.lruPrev = e
	}
	p.inactiveHead = e
	if p.inactiveTail == nil {
		p.inactiveTail = e
	}
	p.nrInactive++
}

// unlinkLRU removes e from whichever of the active/inactive lists it is
// currently on.
func (p *Pool) unlinkLRU(e *Extent) {
	switch e.onLRUList {
	case lruListActive:
		p.nrActive--
		if e == p.activeHead {
			p.activeHead = e.lruNext
		}
		if e == p.activeTail {
			p.activeTail = e.lruPrev
		}
	case lruListInactive:
		p.nrInactive--
		if e == p.inactiveHead {
			p.inactiveHead = e.lruNext
		}
		if e == p.inactiveTail {
			p.inactiveTail = e.lruPrev
		}
	default:
		return
	}

	if e.lruPrev != nil {
		e.lruPrev.lruNext = e.lruNext
	}
	if e.lruNext != nil {
		e.lruNext.lruPrev = e.lruPrev
	}
	e.lruPrev, e.lruNext = nil, nil
	e.onLRUList = lruListNone
	e.Flags = e.Flags.Clear(extflags.LRU | extflags.Active)
}
