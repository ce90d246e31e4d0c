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

// Package storage declares the cache's external storage-engine boundary
// (spec §6 "Storage engine interface", the spec's "Trove") and ships an
// in-memory fake implementation for tests and the benchmark harness.
package storage

import (
	"context"
	"time"
)

// OpID is an opaque storage-engine operation handle.
type OpID uint64

// Status is the outcome of testing an operation id.
type Status int

const (
	Pending Status = iota
	Complete
	Failed
)

// Flags modifies a submission; the cache does not interpret these beyond
// passing them through (spec §6).
type Flags uint32

// Segment is one (memory, stream) pair of a list-I/O submission. Mem is
// the live buffer slice (typically a window into an extent's backing
// buffer); StreamOffset/StreamSize name the corresponding byte range of
// the object. Using a real slice here in place of the spec's separate
// memory_offset/memory_size vectors into an implicit shared region is the
// natural Go rendering: Go slices already carry their own address and
// length.
type Segment struct {
	Mem          []byte
	StreamOffset uint64
	StreamSize   uint64
}

// Engine is the storage-engine surface the cache consumes. A real binding
// (Trove, a cloud object store, a local filesystem) implements this; the
// cache core only ever talks to it through this interface.
type Engine interface {
	// SubmitListIO submits a scatter/gather read or write across segments
	// of a single object (spec §6 "submit a list-I/O"). isWrite selects
	// direction: true copies Mem into the object at StreamOffset/Size;
	// false copies the object into Mem.
	SubmitListIO(ctx context.Context, collection uint32, handle uint64, callerContext uint64, segments []Segment, isWrite bool, flags Flags) (OpID, error)

	// SubmitReadAt submits a single contiguous read (spec §6 "submit a
	// read-at"), used for first-access whole-extent reads and RMW reads.
	SubmitReadAt(ctx context.Context, collection uint32, handle uint64, buf []byte, offset uint64, flags Flags) (OpID, error)

	// Test polls an operation id (spec §6 "test an operation id").
	Test(ctx context.Context, id OpID, timeout time.Duration) (Status, error)
}
