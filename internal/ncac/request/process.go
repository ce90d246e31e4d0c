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

	"github.com/orangefs-go/ncac/internal/ncac/extflags"
	"github.com/orangefs-go/ncac/internal/ncac/inode"
	"github.com/orangefs-go/ncac/internal/ncac/pool"
	"github.com/orangefs-go/ncac/internal/ncac/state"
)

// process drives every not-yet-ready slot of req one step through the
// extent state machine (spec §4.5 "Request processing"): resolve or
// allocate the slot's extent, dispatch the appropriate access, and fold
// the per-slot results into the request's overall status. Held slots that
// are dedup followers of an earlier slot in the same request copy that
// slot's resolved state instead of re-entering the state machine (spec
// §4.5 step 4).
func (eng *Engine) process(ctx context.Context, req *Request) error {
	if req.inode == nil {
		err := fmt.Errorf("ncac/request: descriptor names no inode: %w", ErrJobDo)
		req.status = StatusError
		req.err = err
		return err
	}

	ino := req.inode
	ino.Lock()
	defer ino.Unlock()

	allReady, anyReady := true, false

	for i := range req.slots {
		slot := &req.slots[i]
		if slot.Flag == Ready {
			anyReady = true
			continue
		}

		if canonical := req.dedupOf[i]; canonical != i {
			cs := &req.slots[canonical]
			if cs.Flag == Ready {
				slot.Flag = Ready
				slot.Extent = cs.Extent
				anyReady = true
			} else {
				allReady = false
			}
			continue
		}

		extentIndex := slot.FileOffset / eng.extentSize
		e := ino.Lookup(extentIndex)
		if e == nil {
			var err error
			e, err = eng.allocate(ctx, ino, extentIndex)
			if err != nil {
				req.status = StatusError
				req.err = err
				return err
			}
		}
		slot.Extent = e
		if req.hint.Pin {
			e.Lock()
			e.Pinned = true
			e.Unlock()
		}

		ready, err := eng.access(ctx, req, slot, e)
		if err != nil {
			req.status = StatusError
			req.err = err
			return err
		}
		if ready {
			slot.Flag = Ready
			anyReady = true
		} else {
			allReady = false
		}
	}

	switch {
	case allReady:
		req.status = StatusBufferComplete
	case anyReady:
		req.status = StatusPartialProcess
	default:
		req.status = StatusSubmitted
	}
	return nil
}

// allocate gets a fresh extent for extentIndex within ino, shrinking the
// pool once and retrying if it is momentarily exhausted (spec §4.2: "if
// empty, the caller invokes shrink ... and retries").
func (eng *Engine) allocate(ctx context.Context, ino *inode.Inode, extentIndex uint64) (*pool.Extent, error) {
	e, err := eng.extents.Alloc(ctx)
	if err != nil {
		if !errors.Is(err, pool.ErrNoMem) {
			return nil, fmt.Errorf("ncac/request: alloc: %w", errors.Join(ErrJobDo, err))
		}

		probe := func(ctx context.Context, cand *pool.Extent) bool {
			done, _ := eng.machine.ResolvePendingIO(ctx, cand, eng.prober)
			return done
		}
		eng.extents.Shrink(ctx, pool.ShrinkStep, probe)

		e, err = eng.extents.Alloc(ctx)
		if err != nil {
			return nil, fmt.Errorf("ncac/request: pool exhausted: %w", errors.Join(ErrNoMem, err))
		}
	}

	ino.Insert(extentIndex, e)
	eng.extents.PublishActive(e)
	return e, nil
}

// access dispatches a slot's extent to the read or write side of the
// state machine depending on the request's operation kind.
func (eng *Engine) access(ctx context.Context, req *Request, slot *Slot, e *pool.Extent) (bool, error) {
	switch req.kind {
	case OpRead, OpBufRead:
		return eng.readAccess(ctx, e)
	case OpWrite, OpBufWrite:
		return eng.writeAccess(ctx, slot, e)
	default:
		return false, fmt.Errorf("ncac/request: op kind %d has no access path: %w", req.kind, ErrJobDo)
	}
}

func (eng *Engine) readAccess(ctx context.Context, e *pool.Extent) (bool, error) {
	e.Lock()
	blank := e.Flags.Has(extflags.Blank)
	e.Unlock()

	if blank {
		result, err := eng.machine.FirstReadAccess(e, func() (uint64, error) {
			return eng.issueExtentRead(ctx, e)
		})
		if err != nil {
			return false, fmt.Errorf("ncac/request: first read access: %w", errors.Join(ErrJobDo, err))
		}
		return result == state.Ready, nil
	}

	result, err := eng.machine.SubsequentReadAccess(ctx, e, eng.extents, eng.prober)
	if err != nil {
		return false, fmt.Errorf("ncac/request: subsequent read access: %w", errors.Join(ErrJobDo, err))
	}
	return result == state.Ready, nil
}

func (eng *Engine) writeAccess(ctx context.Context, slot *Slot, e *pool.Extent) (bool, error) {
	e.Lock()
	blank := e.Flags.Has(extflags.Blank)
	e.Unlock()

	partial := slot.BufferOffset != 0 || uint64(slot.BufferSize) != eng.extentSize
	needsRMW := blank && partial

	result, err := eng.machine.WriteAccess(ctx, e, eng.prober, needsRMW, func() (uint64, error) {
		return eng.issueExtentRead(ctx, e)
	})
	if err != nil {
		return false, fmt.Errorf("ncac/request: write access: %w", errors.Join(ErrJobDo, err))
	}
	return result == state.Ready, nil
}

// issueExtentRead submits a whole-extent read, used both for a fresh
// first-read and for the read half of a read-modify-write.
func (eng *Engine) issueExtentRead(ctx context.Context, e *pool.Extent) (uint64, error) {
	ino := e.Owner.(*inode.Inode)
	h := ino.Handle()
	opID, err := eng.store.SubmitReadAt(ctx, h.Collection, h.Object, e.Buffer(), e.Index*eng.extentSize, 0)
	return uint64(opID), err
}
