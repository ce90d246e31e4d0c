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

package network

import (
	"context"
	"sync"
)

type pendingCompletion struct {
	userPtr    interface{}
	actualSize int
	err        error
	cb         Callback
}

// Fake is an in-memory Engine whose completions are delivered manually by
// the test (or the benchmark driver) via DeliverNext/DeliverAll, instead
// of from real wire I/O. This lets tests reproduce the flow pipeline's
// "network driver delivers completions sequentially" behaviour (spec §8
// scenario S6) deterministically.
type Fake struct {
	mu     sync.Mutex
	queue  []pendingCompletion
	nextOp OpID

	SendCount, RecvCount int
}

// NewFake creates an empty in-memory network engine.
func NewFake() *Fake { return &Fake{} }

func totalLen(buffers [][]byte) int {
	n := 0
	for _, b := range buffers {
		n += len(b)
	}
	return n
}

func (f *Fake) post(userPtr interface{}, size int, cb Callback) OpID {
	f.nextOp++
	f.queue = append(f.queue, pendingCompletion{userPtr: userPtr, actualSize: size, cb: cb})
	return f.nextOp
}

func (f *Fake) PostSendList(_ context.Context, _ string, buffers [][]byte, _ uint64, userPtr interface{}, cb Callback) (OpID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendCount++
	return f.post(userPtr, totalLen(buffers), cb), nil
}

func (f *Fake) PostRecvList(_ context.Context, _ string, buffers [][]byte, _ uint64, userPtr interface{}, cb Callback) (OpID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RecvCount++
	return f.post(userPtr, totalLen(buffers), cb), nil
}

// Pending returns the number of completions awaiting delivery.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// DeliverNext invokes the oldest queued completion's callback, in FIFO
// (submission) order. Returns false if the queue is empty.
func (f *Fake) DeliverNext() bool {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		return false
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()

	next.cb(next.userPtr, next.actualSize, next.err)
	return true
}

// DeliverAll delivers every currently queued completion in order,
// including any newly queued as a side effect of delivering an earlier
// one, and returns how many were delivered.
func (f *Fake) DeliverAll() int {
	n := 0
	for f.DeliverNext() {
		n++
	}
	return n
}
