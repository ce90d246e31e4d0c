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

// Package request implements the cache's request engine (spec §4.5,
// component E): building internal requests from caller descriptors,
// mapping segments to extents, driving the extent state machine, and
// producing the communication-buffer vector the caller posts to the
// network.
package request

import (
	"github.com/google/uuid"

	"github.com/orangefs-go/ncac/internal/ncac/inode"
	"github.com/orangefs-go/ncac/internal/ncac/pool"
)

// OpKind is the kind of cache operation a Request represents (spec §3
// "Internal request").
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpBufRead
	OpBufWrite
	OpQuery
	OpDemote
	OpSync
)

// Status is a request's overall progress (spec §3 "Internal request").
type Status int

const (
	StatusUnused Status = iota
	StatusSubmitted
	StatusPartialProcess
	StatusBufferComplete
	StatusComplete
	StatusError
)

// SlotFlag is the readiness of one communication-buffer slot.
type SlotFlag int

const (
	NotReady SlotFlag = iota
	Ready
)

// Segment is one (file_offset, size) tuple of a caller descriptor.
type Segment struct {
	FileOffset uint64
	Size       uint64
}

// Descriptor names the object and byte ranges a read_post/write_post/
// sync_post call targets (spec §6 "Descriptor format").
type Descriptor struct {
	Collection uint32
	Handle     uint64
	Context    uint64
	Segments   []Segment

	// UserBuffer is only consulted for OpBufRead/OpBufWrite (spec §9,
	// SPEC_FULL §3 item 1): bytes are copied between it and the extent
	// buffers at BUFFER_COMPLETE instead of being exposed directly to the
	// network.
	UserBuffer []byte

	// Hints is a caller-supplied, free-form hint bag (spec §6 "hint
	// bag"): typically a map[string]interface{} decoded into CacheHint.
	// Nil means "no hints".
	Hints interface{}
}

// Slot is one entry of a request's communication-buffer vector (spec
// Glossary "Slot"): a contiguous region of one extent.
type Slot struct {
	FileOffset   uint64 // extent-aligned file offset
	BufferOffset uint32 // intra-extent byte offset
	BufferSize   uint32
	Flag         SlotFlag
	Extent       *pool.Extent
}

// Reply is what read_post/write_post/test hand back to the caller (spec
// §6 "Cache API").
type Reply struct {
	Count             int
	BufferOffsetArray []uint32
	BufferSizeArray   []uint32
	BufferFlagArray   []SlotFlag
}

func newReply(slots []Slot) Reply {
	r := Reply{
		Count:             len(slots),
		BufferOffsetArray: make([]uint32, len(slots)),
		BufferSizeArray:   make([]uint32, len(slots)),
		BufferFlagArray:   make([]SlotFlag, len(slots)),
	}
	for i, s := range slots {
		r.BufferOffsetArray[i] = s.BufferOffset
		r.BufferSizeArray[i] = s.BufferSize
		r.BufferFlagArray[i] = s.Flag
	}
	return r
}

// Handle identifies an in-flight Request.
type Handle uint64

// Request is one in-flight cache operation (spec §3 "Internal request").
type Request struct {
	handle Handle
	kind   OpKind
	inode  *inode.Inode

	// traceID identifies this request across its lifetime in structured
	// log lines (ncaclog's request_id field); it has no role in cache
	// semantics and is regenerated fresh each time the request is reused
	// out of the free pool.
	traceID uuid.UUID

	descriptor Descriptor
	slots      []Slot
	dedupOf    []int // dedupOf[i] is the index of the first slot touching the same extent as slot i
	hint       CacheHint

	status Status
	err    error
}

// TraceID returns the request's log-correlation id.
func (r *Request) TraceID() string { return r.traceID.String() }

// Status returns the request's current overall status.
func (r *Request) Status() Status { return r.status }

// Err returns the error that moved the request to StatusError, if any.
func (r *Request) Err() error { return r.err }
