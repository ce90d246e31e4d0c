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

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type object struct {
	data []byte
}

type pendingOp struct {
	pollsRemaining int
	failed         bool
}

// Fake is an in-memory Engine: objects are plain byte slices keyed by
// (collection, handle), grown on demand. Every submission applies its
// data movement immediately; PollsBeforeComplete controls how many Test
// calls an operation stays Pending for before reporting Complete, so
// tests can exercise the cache's NOT_READY/probe paths deterministically
// without real asynchrony.
type Fake struct {
	mu                sync.Mutex
	objects           map[uint64]*object
	ops               map[OpID]*pendingOp
	nextOp            OpID
	PollsBeforeComplete int
	ReadCount         int
	ListIOCount       int
}

// NewFake creates an empty in-memory storage engine.
func NewFake() *Fake {
	return &Fake{
		objects: make(map[uint64]*object),
		ops:     make(map[OpID]*pendingOp),
	}
}

func key(collection uint32, handle uint64) uint64 {
	return uint64(collection)<<32 ^ handle
}

func (f *Fake) object(collection uint32, handle uint64) *object {
	k := key(collection, handle)
	o, ok := f.objects[k]
	if !ok {
		o = &object{}
		f.objects[k] = o
	}
	return o
}

func (o *object) ensure(n int) {
	if len(o.data) < n {
		grown := make([]byte, n)
		copy(grown, o.data)
		o.data = grown
	}
}

func (f *Fake) submit() OpID {
	f.nextOp++
	id := f.nextOp
	f.ops[id] = &pendingOp{pollsRemaining: f.PollsBeforeComplete}
	return id
}

func (f *Fake) SubmitListIO(_ context.Context, collection uint32, handle uint64, _ uint64, segments []Segment, isWrite bool, _ Flags) (OpID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListIOCount++
	o := f.object(collection, handle)
	for _, seg := range segments {
		end := int(seg.StreamOffset) + int(seg.StreamSize)
		o.ensure(end)
		if isWrite {
			copy(o.data[seg.StreamOffset:end], seg.Mem)
		} else {
			copy(seg.Mem, o.data[seg.StreamOffset:end])
		}
	}
	return f.submit(), nil
}

func (f *Fake) SubmitReadAt(_ context.Context, collection uint32, handle uint64, buf []byte, offset uint64, _ Flags) (OpID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ReadCount++
	o := f.object(collection, handle)
	end := int(offset) + len(buf)
	o.ensure(end)
	copy(buf, o.data[offset:end])
	return f.submit(), nil
}

func (f *Fake) Test(_ context.Context, id OpID, _ time.Duration) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.ops[id]
	if !ok {
		return Failed, fmt.Errorf("ncac/storage: unknown operation %d", id)
	}
	if op.failed {
		delete(f.ops, id)
		return Failed, nil
	}
	if op.pollsRemaining > 0 {
		op.pollsRemaining--
		return Pending, nil
	}
	delete(f.ops, id)
	return Complete, nil
}

// FailOp arranges for op id to report Failed on its next Test call,
// regardless of polls remaining; used to exercise CACHE_ERR paths.
func (f *Fake) FailOp(id OpID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op, ok := f.ops[id]; ok {
		op.failed = true
		op.pollsRemaining = 0
	}
}
