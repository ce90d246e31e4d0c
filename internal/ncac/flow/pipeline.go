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

package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/orangefs-go/ncac/internal/ncac/network"
	"github.com/orangefs-go/ncac/internal/ncac/request"
)

// maxInlinePolls bounds the fallback bounded blocking poll network_done
// performs on the next pint_req_list item when the cache has no
// completion-callback mode of its own (spec §4.6 "Callback interplay").
const maxInlinePolls = 3

// maxParallelDispatch bounds how many pint_req_list items Drive re-tests
// and dispatches to the network engine concurrently in one pass.
const maxParallelDispatch = 8

// Pipeline is the flow engine: the two pipeline queues (pint_req_list,
// cache_req_done_list) and the request/network engines every work item is
// driven through (spec §4.6, component F).
type Pipeline struct {
	mu sync.Mutex

	reqEngine *request.Engine
	netEngine network.Engine

	pintHead, pintTail *workItem
	doneHead, doneTail *workItem
}

// NewPipeline wires a flow pipeline over the given request and network
// engines.
func NewPipeline(reqEngine *request.Engine, netEngine network.Engine) *Pipeline {
	return &Pipeline{reqEngine: reqEngine, netEngine: netEngine}
}

// Post submits a flow: it is chopped into work items of at most
// BufferSize bytes, each posted to the request engine immediately (spec
// §4.6 "Submission"), and every item is enqueued on pint_req_list
// regardless of whether it was satisfied immediately.
func (p *Pipeline) Post(ctx context.Context, desc Descriptor) (*Flow, error) {
	if desc.AggregateSize == 0 {
		return nil, ErrEmptyFlow
	}

	f := &Flow{desc: desc}

	offset, remaining := desc.FileOffset, desc.AggregateSize
	for remaining > 0 {
		take := remaining
		if take > BufferSize {
			take = BufferSize
		}

		item := &workItem{flow: f, region: request.Segment{FileOffset: offset, Size: take}}
		reqDesc := request.Descriptor{
			Collection: desc.Collection,
			Handle:     desc.Handle,
			Context:    desc.Context,
			Segments:   []request.Segment{item.region},
		}

		var (
			handle request.Handle
			reply  request.Reply
			err    error
		)
		if desc.Direction == CacheToNetwork {
			handle, reply, err = p.reqEngine.ReadPost(ctx, reqDesc)
		} else {
			handle, reply, err = p.reqEngine.WritePost(ctx, reqDesc)
		}
		if err != nil {
			return nil, fmt.Errorf("ncac/flow: post work item at offset %d: %w", offset, errors.Join(ErrPost, err))
		}

		item.reqHandle = handle
		item.reply = reply
		if allSlotsReady(reply) {
			item.state = itemComplete
		} else {
			item.state = itemProcessing
		}

		p.mu.Lock()
		p.pushPint(item)
		p.mu.Unlock()
		f.itemsRemaining++

		offset += take
		remaining -= take
	}

	return f, nil
}

func allSlotsReady(reply request.Reply) bool {
	if reply.Count == 0 {
		return false
	}
	for _, flag := range reply.BufferFlagArray {
		if flag != request.Ready {
			return false
		}
	}
	return true
}

// Drive walks pint_req_list once (spec §4.6 "Driving progress"):
// PROCESSING items are re-tested; any that reach BUFFER_COMPLETE migrate
// to cache_req_done_list and have their network step (send or recv)
// triggered immediately. Items are independent (distinct request handles
// and extents), so the re-test/dispatch work for the snapshot fans out
// across a bounded errgroup rather than one item at a time. Returns how
// many items were migrated this pass.
func (p *Pipeline) Drive(ctx context.Context) (int, error) {
	p.mu.Lock()
	items := p.snapshotPint()
	p.mu.Unlock()

	var migrated int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDispatch)

	for _, item := range items {
		item := item
		g.Go(func() error {
			if item.state == itemProcessing {
				ready, reply, err := p.reqEngine.Test(gctx, item.reqHandle)
				if err != nil {
					return fmt.Errorf("ncac/flow: drive: %w", errors.Join(ErrDrive, err))
				}
				item.reply = reply
				if ready {
					item.state = itemComplete
				}
			}

			if item.state != itemComplete || item.callbacksInstalled {
				return nil
			}

			p.mu.Lock()
			p.removePint(item)
			p.pushDone(item)
			p.mu.Unlock()

			if err := p.triggerNetwork(gctx, item); err != nil {
				return err
			}
			atomic.AddInt32(&migrated, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(migrated), err
	}
	return int(migrated), nil
}

// triggerNetwork posts the completed item's buffer vector to the peer:
// a send for cache->network items, a recv for network->cache items (spec
// §4.6 "a COMPLETE item ... triggers a network send/recv").
func (p *Pipeline) triggerNetwork(ctx context.Context, item *workItem) error {
	bufs, err := p.reqEngine.Buffers(item.reqHandle)
	if err != nil {
		return fmt.Errorf("ncac/flow: buffers for network step: %w", errors.Join(ErrDrive, err))
	}

	cb := func(userPtr interface{}, actualSize int, err error) {
		p.networkDone(userPtr.(*workItem), actualSize, err)
	}

	var opErr error
	if item.flow.desc.Direction == CacheToNetwork {
		_, opErr = p.netEngine.PostSendList(ctx, item.flow.desc.Peer, bufs, item.flow.desc.Tag, item, cb)
	} else {
		_, opErr = p.netEngine.PostRecvList(ctx, item.flow.desc.Peer, bufs, item.flow.desc.Tag, item, cb)
	}
	if opErr != nil {
		return fmt.Errorf("ncac/flow: network submission: %w", errors.Join(ErrDrive, opErr))
	}
	item.callbacksInstalled = true
	return nil
}

// networkDone is network_done(item) (spec §4.6 "Callback interplay"): it
// accumulates total_transferred, releases the item's cache references,
// unlinks it from cache_req_done_list, and — since this cache has no
// completion-callback mode of its own — gives the next pending pint item
// a bounded chance to make progress before returning.
func (p *Pipeline) networkDone(item *workItem, actualSize int, err error) {
	f := item.flow
	f.mu.Lock()
	f.totalTransferred += uint64(actualSize)
	f.itemsRemaining--
	if err != nil && f.err == nil {
		f.err = err
	}
	f.mu.Unlock()

	_ = p.reqEngine.Done(context.Background(), item.reqHandle)

	p.mu.Lock()
	p.removeDone(item)
	p.mu.Unlock()

	p.pollNextPint(context.Background())
}

// pollNextPint is the bounded blocking poll fallback (spec §4.6: "If the
// cache does not support completion callbacks ... perform a bounded
// blocking poll of test() on the next work item").
func (p *Pipeline) pollNextPint(ctx context.Context) {
	p.mu.Lock()
	next := p.pintHead
	p.mu.Unlock()

	if next == nil || next.state != itemProcessing {
		return
	}

	for i := 0; i < maxInlinePolls; i++ {
		ready, reply, err := p.reqEngine.Test(ctx, next.reqHandle)
		if err != nil {
			return
		}
		next.reply = reply
		if ready {
			next.state = itemComplete
			return
		}
	}
}

// PintLen returns the number of items still in pint_req_list.
func (p *Pipeline) PintLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := p.pintHead; i != nil; i = i.next {
		n++
	}
	return n
}

// DoneLen returns the number of items currently in cache_req_done_list
// (posted to the network, awaiting network_done).
func (p *Pipeline) DoneLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := p.doneHead; i != nil; i = i.next {
		n++
	}
	return n
}

////////////////////////////////////////////////////////////////////////
// list plumbing — callers must hold p.mu
////////////////////////////////////////////////////////////////////////

func (p *Pipeline) snapshotPint() []*workItem {
	var items []*workItem
	for i := p.pintHead; i != nil; i = i.next {
		items = append(items, i)
	}
	return items
}

func (p *Pipeline) pushPint(item *workItem) {
	item.prev, item.next = p.pintTail, nil
	if p.pintTail != nil {
		p.pintTail.next = item
	} else {
		p.pintHead = item
	}
	p.pintTail = item
}

func (p *Pipeline) removePint(item *workItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		p.pintHead = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		p.pintTail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (p *Pipeline) pushDone(item *workItem) {
	item.prev, item.next = p.doneTail, nil
	if p.doneTail != nil {
		p.doneTail.next = item
	} else {
		p.doneHead = item
	}
	p.doneTail = item
}

func (p *Pipeline) removeDone(item *workItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		p.doneHead = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		p.doneTail = item.prev
	}
	item.prev, item.next = nil, nil
}
