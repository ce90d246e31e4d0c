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

package inode

import (
	"fmt"
	"sync"

	"github.com/orangefs-go/ncac/internal/ncac/radix"
)

func newIndex() *radix.Tree { return radix.New(radixMaxBits) }

// radixMaxBits bounds the extent-index keyspace each inode's radix tree
// is built for; 48 bits covers extent indices (file_offset >> extent_log2)
// below 2^48, i.e. file offsets below 2^(48+extent_log2): 2^63 bytes with
// 32 KiB extents, 2^54 bytes with 64-byte extents.
const radixMaxBits = 48

// Table is the fixed-size, open-chained inode hash table (spec §4.4:
// "bucketed by handle mod K ... per-bucket chains are singly linked").
// Inodes are never evicted: their lifetime exceeds any single request and
// their only cost is a radix index, two list heads, and a lock (spec
// §4.4).
type Table struct {
	mu      sync.Mutex
	buckets []*Inode
}

// NewTable creates a table with the given bucket count, rounded up to the
// next power of two as the legacy inode_arr[] requires.
func NewTable(buckets int) (*Table, error) {
	if buckets <= 0 {
		return nil, fmt.Errorf("ncac/inode: bucket count %d must be positive", buckets)
	}
	n := 1
	for n < buckets {
		n <<= 1
	}
	return &Table{buckets: make([]*Inode, n)}, nil
}

func (t *Table) bucketIndex(h Handle) int {
	return int(h.Object & uint64(len(t.buckets)-1))
}

// Lookup returns the inode for h, creating it on first touch (spec §4.4:
// "first touch of a (collection, handle) pair allocates an inode;
// subsequent touches reuse it").
func (t *Table) Lookup(h Handle, callerContext uint64) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(h)
	for ino := t.buckets[idx]; ino != nil; ino = ino.next {
		if ino.handle == h {
			return ino
		}
	}

	ino := &Inode{
		handle:  h,
		context: callerContext,
		index:   newIndex(),
		next:    t.buckets[idx],
	}
	t.buckets[idx] = ino
	return ino
}

// Peek returns the inode for h without creating one, or nil.
func (t *Table) Peek(h Handle) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(h)
	for ino := t.buckets[idx]; ino != nil; ino = ino.next {
		if ino.handle == h {
			return ino
		}
	}
	return nil
}

// Len returns the number of distinct inodes currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, head := range t.buckets {
		for ino := head; ino != nil; ino = ino.next {
			n++
		}
	}
	return n
}

// Buckets returns the configured bucket count (the power-of-two K from
// "handle mod K").
func (t *Table) Buckets() int { return len(t.buckets) }

// ForEach invokes fn once per currently tracked inode, in bucket then
// chain order. Used for global sync (spec §6 "sync_post" with no handle
// named targets every open object).
func (t *Table) ForEach(fn func(*Inode)) {
	t.mu.Lock()
	heads := make([]*Inode, len(t.buckets))
	copy(heads, t.buckets)
	t.mu.Unlock()

	for _, head := range heads {
		for ino := head; ino != nil; ino = ino.next {
			fn(ino)
		}
	}
}
