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

package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/orangefs-go/ncac/common"
	"github.com/orangefs-go/ncac/internal/ncac/extflags"
	"github.com/orangefs-go/ncac/internal/ncac/inode"
	"github.com/orangefs-go/ncac/internal/ncac/pool"
	"github.com/orangefs-go/ncac/internal/ncac/state"
	"github.com/orangefs-go/ncac/internal/ncac/storage"
	"github.com/orangefs-go/ncac/internal/ncaclog"
)

// maxSyncPolls bounds how many times Engine polls a write-back op before
// giving up on this sync cycle; write-back never blocks indefinitely
// (spec §5 "request processing never blocks on I/O").
const maxSyncPolls = 8

// Engine is the request engine (spec §4.5, component E): read_post,
// write_post, sync_post, test, and done.
type Engine struct {
	mu sync.Mutex

	table   *inode.Table
	extents *pool.Pool
	machine *state.Machine
	store   storage.Engine
	prober  storage.EngineProber

	extentSize uint64

	// freeReqs holds every Request not currently in use; order does not
	// matter, so it is a plain FIFO rather than an intrusive list (unlike
	// the pool's free/LRU lists, nothing ever needs to unlink a specific
	// Request from the middle of this one).
	freeReqs   common.Queue[*Request]
	all        []*Request
	active     map[Handle]*Request
	nextHandle Handle
}

// NewEngine wires a request engine over the given inode table, extent
// pool, state machine, and storage engine. maxRequestCount sizes the
// fixed internal request pool (spec §5 "the request pool is similarly
// fixed-size; overflow returns a distinct error").
func NewEngine(table *inode.Table, extents *pool.Pool, machine *state.Machine, store storage.Engine, extentSize uint64, maxRequestCount int, probeTimeout time.Duration) *Engine {
	eng := &Engine{
		table:      table,
		extents:    extents,
		machine:    machine,
		store:      store,
		prober:     storage.EngineProber{Engine: store, Timeout: probeTimeout},
		extentSize: extentSize,
		freeReqs:   common.NewLinkedListQueue[*Request](),
		all:        make([]*Request, maxRequestCount),
		active:     make(map[Handle]*Request, maxRequestCount),
	}
	for i := range eng.all {
		r := &Request{}
		eng.all[i] = r
		eng.freeReqs.Push(r)
	}
	return eng
}

func (eng *Engine) allocRequest() (*Request, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.freeReqs.IsEmpty() {
		return nil, ErrNoMem
	}
	req := eng.freeReqs.Pop()

	eng.nextHandle++
	req.handle = eng.nextHandle
	req.traceID = uuid.New()
	req.slots = req.slots[:0]
	req.dedupOf = req.dedupOf[:0]
	req.status = StatusUnused
	req.err = nil
	eng.active[req.handle] = req
	return req, nil
}

func (eng *Engine) releaseRequest(req *Request) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	delete(eng.active, req.handle)
	req.inode = nil
	eng.freeReqs.Push(req)
}

func (eng *Engine) lookupRequest(h Handle) (*Request, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	req, ok := eng.active[h]
	return req, ok
}

// ReadPost submits a read (spec §6 "read_post").
func (eng *Engine) ReadPost(ctx context.Context, desc Descriptor) (Handle, Reply, error) {
	kind := OpRead
	if desc.UserBuffer != nil {
		kind = OpBufRead
	}
	return eng.post(ctx, kind, desc)
}

// WritePost submits a write (spec §6 "write_post").
func (eng *Engine) WritePost(ctx context.Context, desc Descriptor) (Handle, Reply, error) {
	kind := OpWrite
	if desc.UserBuffer != nil {
		kind = OpBufWrite
	}
	return eng.post(ctx, kind, desc)
}

func (eng *Engine) post(ctx context.Context, kind OpKind, desc Descriptor) (Handle, Reply, error) {
	hint, err := decodeHints(desc.Hints)
	if err != nil {
		return 0, Reply{}, fmt.Errorf("ncac/request: decode hints: %w", errors.Join(ErrInvalFlags, err))
	}

	slots, err := prepareSlots(desc.Segments, eng.extentSize)
	if err != nil {
		return 0, Reply{}, err
	}

	req, err := eng.allocRequest()
	if err != nil {
		return 0, Reply{}, err
	}

	req.kind = kind
	req.descriptor = desc
	req.inode = eng.table.Lookup(inode.Handle{Collection: desc.Collection, Object: desc.Handle}, desc.Context)
	req.slots = slots
	req.dedupOf = dedupIndex(slots, eng.extentSize)
	req.hint = hint
	req.status = StatusSubmitted

	ncaclog.With("request_id", req.TraceID(), "collection_id", desc.Collection, "handle", desc.Handle).
		Debug("request submitted")

	if err := eng.process(ctx, req); err != nil {
		return req.handle, newReply(req.slots), err
	}

	if (kind == OpBufRead || kind == OpBufWrite) && req.status == StatusBufferComplete {
		eng.bounceCopy(req)
		if err := eng.Done(ctx, req.handle); err != nil {
			return req.handle, newReply(req.slots), err
		}
	}

	return req.handle, newReply(req.slots), nil
}

// SyncPost requests a write-back sync (spec §6 "sync_post"): object-sync
// if the descriptor names a handle, global sync across every known inode
// otherwise.
func (eng *Engine) SyncPost(ctx context.Context, desc Descriptor) (Handle, error) {
	req, err := eng.allocRequest()
	if err != nil {
		return 0, err
	}
	req.kind = OpSync
	req.status = StatusSubmitted

	var syncErr error
	if desc.Handle != 0 {
		ino := eng.table.Peek(inode.Handle{Collection: desc.Collection, Object: desc.Handle})
		req.inode = ino
		if ino != nil {
			syncErr = eng.writeBack(ctx, ino)
		}
	} else {
		// A global sync write-backs every known inode independently; one
		// inode's write-back failure must not stop the others from being
		// attempted, so per-inode errors are aggregated rather than
		// short-circuiting on the first one (spec §6 "sync_post" with no
		// handle: "flush every known inode").
		eng.table.ForEach(func(ino *inode.Inode) {
			syncErr = multierr.Append(syncErr, eng.writeBack(ctx, ino))
		})
	}

	if syncErr != nil {
		req.status = StatusError
		req.err = syncErr
		eng.releaseRequest(req)
		return 0, syncErr
	}
	req.status = StatusComplete
	h := req.handle
	eng.releaseRequest(req)
	return h, nil
}

// Test reports whether handle has reached BUFFER_COMPLETE or COMPLETE,
// re-processing it first (spec §6 "test").
func (eng *Engine) Test(ctx context.Context, h Handle) (bool, Reply, error) {
	req, ok := eng.lookupRequest(h)
	if !ok {
		return false, Reply{}, fmt.Errorf("ncac/request: unknown handle %d: %w", h, ErrReqStatus)
	}

	if req.status != StatusBufferComplete && req.status != StatusComplete && req.status != StatusError {
		if err := eng.process(ctx, req); err != nil {
			return false, newReply(req.slots), err
		}
	}

	ready := req.status == StatusBufferComplete || req.status == StatusComplete
	return ready, newReply(req.slots), nil
}

// Buffers returns the live byte-slice view of every slot in handle's
// communication-buffer vector, in slot order, for a caller (the flow
// pipeline) that needs to hand real memory to the network engine. A nil
// entry means that slot has no extent yet (not ready).
func (eng *Engine) Buffers(h Handle) ([][]byte, error) {
	req, ok := eng.lookupRequest(h)
	if !ok {
		return nil, fmt.Errorf("ncac/request: unknown handle %d: %w", h, ErrReqStatus)
	}

	bufs := make([][]byte, len(req.slots))
	for i, s := range req.slots {
		if s.Extent == nil {
			continue
		}
		bufs[i] = s.Extent.Buffer()[s.BufferOffset : s.BufferOffset+s.BufferSize]
	}
	return bufs, nil
}

// Done releases all references the request holds and returns it to the
// free pool (spec §6 "done", §4.5 "Release on done()"). Safe to call at
// any point after submission.
func (eng *Engine) Done(ctx context.Context, h Handle) error {
	req, ok := eng.lookupRequest(h)
	if !ok {
		return fmt.Errorf("ncac/request: unknown handle %d: %w", h, ErrReqStatus)
	}

	var syncNeeded bool
	if req.inode != nil {
		req.inode.Lock()
	}
	for i, slot := range req.slots {
		if slot.Flag != Ready || req.dedupOf[i] != i {
			continue
		}
		e := slot.Extent
		switch req.kind {
		case OpRead, OpBufRead:
			eng.machine.CompleteReadComm(e)
		case OpWrite, OpBufWrite:
			if eng.machine.CompleteWriteComm(e, req.inode) {
				syncNeeded = true
			}
		}
	}
	if req.inode != nil {
		req.inode.Unlock()
	}

	if syncNeeded && req.inode != nil {
		_ = eng.writeBack(ctx, req.inode)
	}

	if req.status != StatusError {
		req.status = StatusComplete
	}
	ncaclog.With("request_id", req.TraceID()).Debug("request done, released")
	eng.releaseRequest(req)
	return nil
}

// bounceCopy implements the OpBufRead/OpBufWrite bounce-buffer mode (spec
// §9, SPEC_FULL §3 item 1): copy bytes between the descriptor's
// UserBuffer and the extent buffers each ready slot refers to, in slot
// order.
func (eng *Engine) bounceCopy(req *Request) {
	userOff := 0
	for _, slot := range req.slots {
		if slot.Flag != Ready || slot.Extent == nil {
			continue
		}
		n := int(slot.BufferSize)
		if userOff+n > len(req.descriptor.UserBuffer) {
			n = len(req.descriptor.UserBuffer) - userOff
		}
		if n <= 0 {
			continue
		}
		extentRegion := slot.Extent.Buffer()[slot.BufferOffset : slot.BufferOffset+uint32(n)]
		userRegion := req.descriptor.UserBuffer[userOff : userOff+n]
		if req.kind == OpBufRead {
			copy(userRegion, extentRegion)
		} else {
			copy(extentRegion, userRegion)
		}
		userOff += n
	}
}

// writeBack flushes ino's dirty extents to the storage engine in
// ascending file-offset order (spec §5 "a dirty-list write-back batch
// writes extents in ascending file-offset order").
func (eng *Engine) writeBack(ctx context.Context, ino *inode.Inode) error {
	ino.Lock()
	defer ino.Unlock()

	var firstErr error
	ino.AscendDirty(func(index uint64, e *pool.Extent) bool {
		if err := eng.writeBackOne(ctx, ino, index, e); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}

func (eng *Engine) writeBackOne(ctx context.Context, ino *inode.Inode, index uint64, e *pool.Extent) error {
	e.Lock()
	segs := []storage.Segment{{Mem: e.Buffer(), StreamOffset: index * eng.extentSize, StreamSize: eng.extentSize}}
	opID, err := eng.store.SubmitListIO(ctx, ino.Handle().Collection, ino.Handle().Object, 0, segs, true, 0)
	if err != nil {
		e.Unlock()
		return fmt.Errorf("ncac/request: write-back submit: %w", errors.Join(ErrCacheErr, err))
	}
	e.Flags = e.Flags.Set(extflags.WritePending)
	e.IOHandle = uint64(opID)
	e.Unlock()

	for i := 0; i < maxSyncPolls; i++ {
		done, err := eng.prober.Probe(ctx, uint64(opID))
		if err != nil {
			return fmt.Errorf("ncac/request: write-back probe: %w", errors.Join(ErrCacheErr, err))
		}
		if done {
			break
		}
	}

	e.Lock()
	e.Flags = e.Flags.Clear(extflags.WritePending | extflags.Dirty).Set(extflags.Clean)
	e.IOHandle = pool.InvalidIOHandle
	e.Unlock()
	ino.ClearDirty(e)
	return nil
}
